// Package registry implements the SlotSet registry (C7): the named
// collection of slot-sets a cycle works with, plus the creation of
// per-container sub-slotsets.
package registry

import (
	"fmt"

	"github.com/oar-team/kamelot/pkg/procset"
	"github.com/oar-team/kamelot/pkg/slot"
)

// DefaultName is the name of the slotset every non-container job competes
// for by default.
const DefaultName = "default"

// Registry maps a SlotSet name to its SlotSet. It always contains
// DefaultName.
type Registry struct {
	sets map[string]*slot.SlotSet
}

// New builds a Registry with just the "default" SlotSet, covering
// [t0, +inf) with the given available ProcSet.
func New(t0 int64, available procset.ProcSet) *Registry {
	r := &Registry{sets: map[string]*slot.SlotSet{}}
	r.sets[DefaultName] = slot.New(DefaultName, t0, available)
	return r
}

// Default returns the "default" SlotSet.
func (r *Registry) Default() *slot.SlotSet {
	return r.sets[DefaultName]
}

// Get returns the named SlotSet, if it exists.
func (r *Registry) Get(name string) (*slot.SlotSet, bool) {
	ss, ok := r.sets[name]
	return ss, ok
}

// ContainerName is the SlotSet name a container job with the given id
// opens, and the name inner jobs with type inner=<id> schedule against.
func ContainerName(containerJobID int64) string {
	return fmt.Sprintf("c_%d", containerJobID)
}

// OpenContainer creates (or replaces) the sub-SlotSet for a just-assigned
// container job: it covers exactly [start, finish] with the container's
// own assigned ProcSet as its sole availability, and empty quota
// counters. Per §4.7, the container's own time-sharing/placeholder
// attributes are not propagated into it.
func (r *Registry) OpenContainer(containerJobID, start, finish int64, available procset.ProcSet) *slot.SlotSet {
	ss := slot.New(ContainerName(containerJobID), start, available)
	// Empty out everything past finish so the sub-slotset is effectively
	// bounded to [start, finish]: inner jobs can still span the whole
	// window but never beyond it.
	_ = ss.Subtract(finish+1, slot.Infinity, available)
	r.sets[ss.Name] = ss
	return ss
}

// Names returns every registered SlotSet name, "default" first.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.sets))
	names = append(names, DefaultName)
	for name := range r.sets {
		if name != DefaultName {
			names = append(names, name)
		}
	}
	return names
}

// TotalSlotCount sums Count() across every registered SlotSet, the value
// the scheduling loop returns for benchmarking (§4.8 step 5).
func (r *Registry) TotalSlotCount() int {
	total := 0
	for _, ss := range r.sets {
		total += ss.Count()
	}
	return total
}
