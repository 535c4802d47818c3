// Package request implements the resource-request evaluator (C4): given a
// candidate ProcSet and a hierarchical request, find a sub-ProcSet that
// satisfies the request's shape, in either the "basic" (scattered) or
// "tree" (recursive, backtracking) strategy.
package request

import (
	"fmt"

	"github.com/oar-team/kamelot/pkg/hierarchy"
	"github.com/oar-team/kamelot/pkg/job"
	"github.com/oar-team/kamelot/pkg/procset"
)

// Strategy selects which evaluator Find uses.
type Strategy string

const (
	// StrategyBasic greedily picks the first n groups at each level whose
	// raw cardinality looks sufficient, then descends without
	// backtracking across siblings. Fast, but can miss solutions a
	// deeper search would find.
	StrategyBasic Strategy = "basic"
	// StrategyTree recursively verifies the sub-request actually succeeds
	// within each candidate group before accepting it, backtracking to
	// the next group on failure. Slower, always finds a solution if one
	// exists.
	StrategyTree Strategy = "tree"
)

// Evaluator finds a sub-ProcSet of a candidate set that satisfies a
// hierarchical request.
type Evaluator interface {
	Find(candidates procset.ProcSet, req job.Request, hier *hierarchy.Index) (procset.ProcSet, bool)
}

// New returns the Evaluator for strategy.
func New(strategy Strategy) (Evaluator, error) {
	switch strategy {
	case StrategyBasic:
		return basicEvaluator{}, nil
	case StrategyTree:
		return treeEvaluator{}, nil
	default:
		return nil, fmt.Errorf("request: unknown strategy %q", strategy)
	}
}

func applyFilter(candidates procset.ProcSet, req job.Request) procset.ProcSet {
	if !req.HasFilter {
		return candidates
	}
	return candidates.Intersection(req.PropertyFilter)
}

// RequestSize is the exact cardinality any successful Find returns for
// req: the leaf count times the product of every level's group count.
// The assigner needs it ahead of calling Find, to pre-admission-check a
// quota's nb_resources/resources_time contribution (§4.5 step d runs
// before step e's call into C4).
func RequestSize(req job.Request) int64 {
	return req.LeafCount * productOfCounts(req.Levels)
}

func productOfCounts(levels []job.Level) int64 {
	p := int64(1)
	for _, l := range levels {
		p *= l.Count
	}
	return p
}

// leafSelect takes the leafCount smallest-id resources out of avail, the
// base case shared by both strategies.
func leafSelect(avail procset.ProcSet, leafCount int64) (procset.ProcSet, bool) {
	if avail.Count() < leafCount {
		return procset.ProcSet{}, false
	}
	return avail.FirstN(leafCount), true
}

type basicEvaluator struct{}

func (basicEvaluator) Find(candidates procset.ProcSet, req job.Request, hier *hierarchy.Index) (procset.ProcSet, bool) {
	return basicRecurse(applyFilter(candidates, req), req.Levels, req.LeafCount, hier)
}

func basicRecurse(avail procset.ProcSet, levels []job.Level, leafCount int64, hier *hierarchy.Index) (procset.ProcSet, bool) {
	if len(levels) == 0 {
		return leafSelect(avail, leafCount)
	}
	level := levels[0]
	needPerGroup := leafCount * productOfCounts(levels[1:])

	var selected []procset.ProcSet
	for _, g := range hier.Groups(level.Label) {
		inter := avail.Intersection(g)
		if inter.Count() < needPerGroup {
			continue
		}
		selected = append(selected, inter)
		if int64(len(selected)) == level.Count {
			break
		}
	}
	if int64(len(selected)) < level.Count {
		return procset.ProcSet{}, false
	}

	var result procset.ProcSet
	for _, sel := range selected {
		sub, ok := basicRecurse(sel, levels[1:], leafCount, hier)
		if !ok {
			// Basic never backtracks across siblings: the first
			// selected group that can't satisfy the remainder fails
			// the whole request.
			return procset.ProcSet{}, false
		}
		result = result.Union(sub)
	}
	return result, true
}

type treeEvaluator struct{}

func (treeEvaluator) Find(candidates procset.ProcSet, req job.Request, hier *hierarchy.Index) (procset.ProcSet, bool) {
	memo := map[string]treeResult{}
	return treeRecurse(applyFilter(candidates, req), req.Levels, req.LeafCount, hier, memo)
}

type treeResult struct {
	procset procset.ProcSet
	ok      bool
}

func treeRecurse(avail procset.ProcSet, levels []job.Level, leafCount int64, hier *hierarchy.Index, memo map[string]treeResult) (procset.ProcSet, bool) {
	if len(levels) == 0 {
		return leafSelect(avail, leafCount)
	}

	key := fmt.Sprintf("%d|%s", len(levels), avail.String())
	if cached, ok := memo[key]; ok {
		return cached.procset, cached.ok
	}

	level := levels[0]
	var selected []procset.ProcSet
	for _, g := range hier.Groups(level.Label) {
		inter := avail.Intersection(g)
		if inter.IsEmpty() {
			continue
		}
		sub, ok := treeRecurse(inter, levels[1:], leafCount, hier, memo)
		if !ok {
			// Backtrack: this group can't satisfy the sub-request,
			// try the next one. Groups of the same label are disjoint
			// (they partition the id space) so trying group g never
			// consumes resources another group would have needed.
			continue
		}
		selected = append(selected, sub)
		if int64(len(selected)) == level.Count {
			break
		}
	}

	var result procset.ProcSet
	ok := int64(len(selected)) == level.Count
	if ok {
		for _, sel := range selected {
			result = result.Union(sel)
		}
	} else {
		result = procset.ProcSet{}
	}
	memo[key] = treeResult{procset: result, ok: ok}
	return result, ok
}

// Feasible reports whether req could ever be satisfied within the full
// (time-unconstrained) hierarchy, using the given strategy. A false
// result means the request is unsatisfiable (kerr.KindUnsatisfiable) for
// any time window, not merely the ones tried so far.
func Feasible(global procset.ProcSet, req job.Request, hier *hierarchy.Index, eval Evaluator) bool {
	_, ok := eval.Find(global, req, hier)
	return ok
}
