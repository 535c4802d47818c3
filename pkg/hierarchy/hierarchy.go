// Package hierarchy builds, per sysadmin-defined label, the partition of
// the global resource id space induced by that label's values.
package hierarchy

import (
	"sort"
	"strconv"

	"github.com/oar-team/kamelot/pkg/procset"
)

// Resource is a single schedulable resource: a dense id plus an arbitrary
// dictionary of attributes (network_address, type, properties, and any
// sysadmin-defined hierarchy label).
type Resource struct {
	ID         int32
	Attributes map[string]string
}

// Index is the hierarchy index for one cycle: for every configured label,
// the ordered list of ProcSets sharing the same value of that label.
type Index struct {
	groups   map[string][]procset.ProcSet
	byID     map[string]map[int32]int // label -> resource id -> group index
	labels   []string
}

// Build groups resources by each of labels, preserving insertion order of
// labels and a deterministic, value-based ordering within each label.
func Build(resources []Resource, labels []string) *Index {
	idx := &Index{
		groups: make(map[string][]procset.ProcSet, len(labels)),
		byID:   make(map[string]map[int32]int, len(labels)),
		labels: append([]string{}, labels...),
	}

	for _, label := range labels {
		buckets := map[string][]int32{}
		for _, r := range resources {
			v, ok := r.Attributes[label]
			if !ok {
				continue
			}
			buckets[v] = append(buckets[v], r.ID)
		}

		values := make([]string, 0, len(buckets))
		for v := range buckets {
			values = append(values, v)
		}
		sort.Slice(values, func(i, j int) bool { return compareLabelValues(values[i], values[j]) < 0 })

		groups := make([]procset.ProcSet, len(values))
		byID := make(map[int32]int)
		for i, v := range values {
			groups[i] = procset.New(buckets[v]...)
			for _, id := range buckets[v] {
				byID[id] = i
			}
		}
		idx.groups[label] = groups
		idx.byID[label] = byID
	}
	return idx
}

// FromGroups wraps a hierarchy the Platform already computed and grouped
// (e.g. a precomputed view over a resource table) into an Index, without
// re-deriving groups from raw per-resource attributes. Used by the
// scheduling core proper, which only ever sees Platform.Hierarchy(label)
// results; Build above stays the path the demo harness and tests use when
// starting from raw Resource rows.
func FromGroups(labels []string, groupsByLabel map[string][]procset.ProcSet) *Index {
	idx := &Index{
		groups: make(map[string][]procset.ProcSet, len(labels)),
		byID:   make(map[string]map[int32]int, len(labels)),
		labels: append([]string{}, labels...),
	}
	for _, label := range labels {
		groups := groupsByLabel[label]
		idx.groups[label] = groups
		byID := make(map[int32]int)
		for i, g := range groups {
			for _, iv := range g.Intervals() {
				for id := iv.Lo; id <= iv.Hi; id++ {
					byID[id] = i
				}
			}
		}
		idx.byID[label] = byID
	}
	return idx
}

// Labels returns the configured hierarchy label names, in configuration order.
func (idx *Index) Labels() []string {
	return idx.labels
}

// Groups returns the ordered ProcSet partition for label, or nil if label
// is not configured.
func (idx *Index) Groups(label string) []procset.ProcSet {
	return idx.groups[label]
}

// GroupOf returns the ProcSet of the group that resource id belongs to for
// label. Returns the empty ProcSet if id has no value for label.
func (idx *Index) GroupOf(label string, id int32) procset.ProcSet {
	groups, ok := idx.byID[label]
	if !ok {
		return procset.ProcSet{}
	}
	i, ok := groups[id]
	if !ok {
		return procset.ProcSet{}
	}
	return idx.groups[label][i]
}

// compareLabelValues orders two label values: numerically when both parse
// as integers, lexicographically otherwise. This is the tie-break rule
// §4.2 calls "natural ordering... numeric-aware comparison".
func compareLabelValues(a, b string) int {
	an, aerr := strconv.ParseInt(a, 10, 64)
	bn, berr := strconv.ParseInt(b, 10, 64)
	if aerr == nil && berr == nil {
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		default:
			return 0
		}
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
