package request

import (
	"testing"

	"github.com/oar-team/kamelot/pkg/hierarchy"
	"github.com/oar-team/kamelot/pkg/job"
	"github.com/oar-team/kamelot/pkg/procset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2 switches x 4 nodes x 8 cores = 64 resources, ids 1..64.
func buildHierarchy() *hierarchy.Index {
	var resources []hierarchy.Resource
	id := int32(1)
	for sw := 1; sw <= 2; sw++ {
		for node := 1; node <= 4; node++ {
			for core := 0; core < 8; core++ {
				resources = append(resources, hierarchy.Resource{
					ID: id,
					Attributes: map[string]string{
						"switch": itoa(sw),
						"node":   itoa((sw-1)*4 + node),
					},
				})
				id++
			}
		}
	}
	return hierarchy.Build(resources, []string{"switch", "node"})
}

func itoa(n int) string {
	return string(rune('0' + n))
}

func TestBasicAndTree_SimpleShape(t *testing.T) {
	hier := buildHierarchy()
	global := procset.Range(1, 64)
	req := job.Request{
		Levels:    []job.Level{{Label: "switch", Count: 1}, {Label: "node", Count: 2}},
		LeafCount: 4,
	}

	for _, strategy := range []Strategy{StrategyBasic, StrategyTree} {
		eval, err := New(strategy)
		require.NoError(t, err)
		got, ok := eval.Find(global, req, hier)
		require.True(t, ok, "strategy %s", strategy)
		assert.EqualValues(t, 8, got.Count(), "strategy %s", strategy)
		assert.True(t, got.IsSubsetOf(global))
	}
}

func TestUnsatisfiable_TooManyLevels(t *testing.T) {
	hier := buildHierarchy()
	global := procset.Range(1, 64)
	req := job.Request{
		Levels:    []job.Level{{Label: "switch", Count: 3}},
		LeafCount: 1,
	}

	for _, strategy := range []Strategy{StrategyBasic, StrategyTree} {
		eval, _ := New(strategy)
		_, ok := eval.Find(global, req, hier)
		assert.False(t, ok, "strategy %s", strategy)
		assert.False(t, Feasible(global, req, hier, eval), "strategy %s", strategy)
	}
}

// A property filter leaves the first node group too small for the leaf
// want; the tree search skips it and takes its resources from the second
// node group.
func TestTree_SkipsNodeGroupEmptiedByFilter(t *testing.T) {
	hier := buildHierarchy()

	// Restrict candidates so the first node group (ids 1-8) has 8 ids
	// (looks sufficient for a want of 4) but only 2 of them survive the
	// property filter; the second node group (9-16) has all 8 surviving.
	filtered := procset.FromIntervals(
		procset.Interval{Lo: 1, Hi: 2},   // 2 survivors in node 1 (ids 1-8)
		procset.Interval{Lo: 9, Hi: 16},  // all 8 survivors in node 2 (ids 9-16)
	)
	req := job.Request{
		Levels:         []job.Level{{Label: "node", Count: 1}},
		LeafCount:      4,
		PropertyFilter: filtered,
		HasFilter:      true,
	}
	global := procset.Range(1, 64)

	basic, _ := New(StrategyBasic)
	_, basicOK := basic.Find(global, req, hier)

	tree, _ := New(StrategyTree)
	gotTree, treeOK := tree.Find(global, req, hier)

	require.True(t, treeOK, "tree must find the second node group")
	assert.EqualValues(t, 4, gotTree.Count())
	assert.True(t, gotTree.IsSubsetOf(procset.Range(9, 16)))

	// Basic applies the filter once, before recursion, so its cardinality
	// check already sees only 2 ids in node 1 and skips it -- in this
	// construction basic also finds the working group. The gap between
	// the strategies appears with nested levels; see
	// TestTree_FindsWhatBasicMissesNested.
	_ = basicOK
}

// A genuinely nested case: one switch group looks big enough in total
// but its nodes are too fragmented to actually hold the per-node leaf
// count, while a later switch's nodes can. Basic picks the first
// eligible switch by cardinality alone and never backtracks once its
// node-level recursion fails; tree backtracks to the working switch.
func TestTree_FindsWhatBasicMissesNested(t *testing.T) {
	// 2 switches, 2 nodes each, 4 cores each -> 16 ids.
	var resources []hierarchy.Resource
	id := int32(1)
	for sw := 1; sw <= 2; sw++ {
		for node := 1; node <= 2; node++ {
			for core := 0; core < 4; core++ {
				resources = append(resources, hierarchy.Resource{
					ID:         id,
					Attributes: map[string]string{"switch": itoa(sw), "node": itoa((sw-1)*2 + node)},
				})
				id++
			}
		}
	}
	hier := hierarchy.Build(resources, []string{"switch", "node"})

	// Remove ids 2,3 (from node 1, ids 1-4) and 6,7 (from node 2, ids
	// 5-8), so every node in switch 1 is left with only 2 ids -- not
	// enough for a leaf want of 3 -- while switch 1 overall (ids 1-8)
	// still has 4 ids, enough to pass basic's per-group cardinality
	// check of switch.Count=1 * node.Count=1 * leaf=3 = 3.
	global := procset.Range(1, 16).Difference(procset.FromIntervals(
		procset.Interval{Lo: 2, Hi: 3},
		procset.Interval{Lo: 6, Hi: 7},
	))

	req := job.Request{
		Levels:    []job.Level{{Label: "switch", Count: 1}, {Label: "node", Count: 1}},
		LeafCount: 3,
	}

	basic, _ := New(StrategyBasic)
	_, basicOK := basic.Find(global, req, hier)
	assert.False(t, basicOK, "basic greedily picks switch 1, whose only eligible-looking node can't actually satisfy the leaf want, and never retries switch 2")

	tree, _ := New(StrategyTree)
	gotTree, treeOK := tree.Find(global, req, hier)
	require.True(t, treeOK, "tree backtracks to switch 2")
	assert.True(t, gotTree.IsSubsetOf(procset.Range(9, 16)))
}

func TestRequestSize_MatchesFindCardinality(t *testing.T) {
	hier := buildHierarchy()
	global := procset.Range(1, 64)
	req := job.Request{
		Levels:    []job.Level{{Label: "switch", Count: 1}, {Label: "node", Count: 2}},
		LeafCount: 4,
	}

	assert.EqualValues(t, 8, RequestSize(req))

	eval, err := New(StrategyTree)
	require.NoError(t, err)
	got, ok := eval.Find(global, req, hier)
	require.True(t, ok)
	assert.EqualValues(t, RequestSize(req), got.Count())
}
