// Package slot implements the ordered, gapless partition of the time axis
// into maximal intervals of constant resource availability (the SlotSet),
// and the split/subtract/restore operations that keep it consistent as
// jobs are placed.
package slot

import (
	"fmt"
	"math"

	"github.com/oar-team/kamelot/pkg/procset"
)

// Infinity is the sentinel "end of time" value used by the last slot of a
// SlotSet, which always covers [t, +inf).
const Infinity int64 = math.MaxInt64

// Handle identifies a Slot inside a SlotSet's arena. Handles are stable
// across splits (a split only ever mutates the existing handle's End and
// allocates a new handle for the right half) but a merged-away handle must
// not be dereferenced again.
type Handle int32

// NilHandle is the handle of no slot.
const NilHandle Handle = -1

// Counters holds the quota accounting (§4.6) carried by a slot. The quota
// engine owns the semantics; the slot only stores the numbers.
type Counters struct {
	NbResources   int64
	NbJobs        int64
	ResourcesTime int64
}

// Slot is a maximal time interval [Start, End] over which Available is
// constant.
type Slot struct {
	Start, End int64
	Available  procset.ProcSet
	Quotas     map[string]Counters // quota rule key -> counters

	prev, next Handle
	dead       bool
}

// SlotSet is a named, doubly-linked ordered sequence of slots covering
// [t0, +inf) with no gaps and no overlap (invariant I1).
type SlotSet struct {
	Name string

	arena []Slot
	head  Handle
	tail  Handle

	// cursor is an opportunistic hint: the handle most recently returned
	// by SlotAt, so repeated forward-moving queries (the common access
	// pattern of the assigner walking candidate start times) don't walk
	// from head every time. It is never required for correctness.
	cursor Handle
}

// New creates a SlotSet with a single slot [t0, +inf) whose available set
// is the full ProcSet.
func New(name string, t0 int64, available procset.ProcSet) *SlotSet {
	ss := &SlotSet{Name: name}
	h := ss.alloc(Slot{
		Start:     t0,
		End:       Infinity,
		Available: available,
		prev:      NilHandle,
		next:      NilHandle,
	})
	ss.head, ss.tail, ss.cursor = h, h, h
	return ss
}

func (ss *SlotSet) alloc(s Slot) Handle {
	ss.arena = append(ss.arena, s)
	return Handle(len(ss.arena) - 1)
}

// Get returns the slot for h. Panics if h is out of range; callers only
// ever hold handles returned by this package.
func (ss *SlotSet) Get(h Handle) *Slot {
	return &ss.arena[h]
}

// Head returns the handle of the first slot.
func (ss *SlotSet) Head() Handle { return ss.head }

// Next returns the handle following h, or NilHandle at the tail.
func (ss *SlotSet) Next(h Handle) Handle { return ss.arena[h].next }

// Prev returns the handle preceding h, or NilHandle at the head.
func (ss *SlotSet) Prev(h Handle) Handle { return ss.arena[h].prev }

// SlotAt returns the handle of the slot covering time t, walking from the
// cached cursor (or head, if the cursor overshot t).
func (ss *SlotSet) SlotAt(t int64) Handle {
	h := ss.cursor
	if h == NilHandle || ss.arena[h].Start > t {
		h = ss.head
	}
	for h != NilHandle {
		s := &ss.arena[h]
		if s.Start <= t && t <= s.End {
			ss.cursor = h
			return h
		}
		h = s.next
	}
	return NilHandle
}

// split cuts slot h into two at time t, where s.Start < t <= s.End. The
// left half keeps handle h; a new handle is returned for the right half.
// If t <= s.Start (already a boundary) or t > s.End, h is returned
// unchanged.
func (ss *SlotSet) split(h Handle, t int64) Handle {
	s := &ss.arena[h]
	if t <= s.Start || t > s.End {
		return h
	}
	right := Slot{
		Start:     t,
		End:       s.End,
		Available: s.Available,
		Quotas:    cloneCounters(s.Quotas),
		prev:      h,
		next:      s.next,
	}
	rh := ss.alloc(right)

	s = &ss.arena[h] // re-fetch: alloc may have grown the slice
	oldNext := s.next
	s.End = t - 1
	s.next = rh
	if oldNext != NilHandle {
		ss.arena[oldNext].prev = rh
	} else {
		ss.tail = rh
	}
	return rh
}

func cloneCounters(m map[string]Counters) map[string]Counters {
	if m == nil {
		return nil
	}
	out := make(map[string]Counters, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// EnsureBoundary splits the slot covering t (if any) so that t becomes a
// slot start. A no-op if t is already a boundary or before the SlotSet's
// horizon.
func (ss *SlotSet) EnsureBoundary(t int64) error {
	h := ss.SlotAt(t)
	if h == NilHandle {
		return nil
	}
	ss.split(h, t)
	return nil
}

// slotsInWindow splits slots as needed so that [a, b] is covered exactly
// by a contiguous run of whole slots, and returns their handles in order.
// Returns an error if a is before the start of the SlotSet.
func (ss *SlotSet) slotsInWindow(a, b int64) ([]Handle, error) {
	first := ss.SlotAt(a)
	if first == NilHandle {
		return nil, fmt.Errorf("slot: window start %d before slotset %q horizon", a, ss.Name)
	}
	first = ss.split(first, a)

	var out []Handle
	h := first
	for h != NilHandle {
		s := &ss.arena[h]
		out = append(out, h)
		if s.End >= b {
			if s.End > b {
				ss.split(h, b+1)
			}
			break
		}
		h = s.next
	}
	return out, nil
}

// SlotsInWindow is the exported form of slotsInWindow, for callers that
// need the handle list. Like slotsInWindow it splits the boundary slots,
// so it mutates the SlotSet.
func (ss *SlotSet) SlotsInWindow(a, b int64) ([]Handle, error) {
	return ss.slotsInWindow(a, b)
}

// IntersectWindow computes the running intersection of Available over the
// slots covering [a, b], aborting early (ok=false) if it becomes empty or
// if the window falls outside the SlotSet. It does not split or mutate
// the SlotSet.
func (ss *SlotSet) IntersectWindow(a, b int64) (result procset.ProcSet, ok bool) {
	h := ss.SlotAt(a)
	if h == NilHandle {
		return procset.ProcSet{}, false
	}
	first := true
	for h != NilHandle {
		s := &ss.arena[h]
		if first {
			result = s.Available
			first = false
		} else {
			result = result.Intersection(s.Available)
		}
		if result.IsEmpty() {
			return procset.ProcSet{}, false
		}
		if s.End >= b {
			return result, true
		}
		h = s.next
	}
	return procset.ProcSet{}, false
}

// Subtract removes p from Available across every slot intersecting
// [a, b] (§4.3 "Subtract job"), splitting boundary slots first, and
// opportunistically merges across the new boundaries afterwards.
func (ss *SlotSet) Subtract(a, b int64, p procset.ProcSet) error {
	handles, err := ss.slotsInWindow(a, b)
	if err != nil {
		return err
	}
	for _, h := range handles {
		s := &ss.arena[h]
		s.Available = s.Available.Difference(p)
	}
	ss.mergeAround(handles)
	return nil
}

// Restore adds p back to Available across every slot intersecting [a, b];
// the inverse of Subtract. The scheduling loop itself never calls it.
func (ss *SlotSet) Restore(a, b int64, p procset.ProcSet) error {
	handles, err := ss.slotsInWindow(a, b)
	if err != nil {
		return err
	}
	for _, h := range handles {
		s := &ss.arena[h]
		s.Available = s.Available.Union(p)
	}
	ss.mergeAround(handles)
	return nil
}

// mergeAround opportunistically merges each handle in touched with its
// neighbors when content is identical (I2), plus the slots immediately
// before the first and after the last (the new boundaries created by the
// preceding split).
func (ss *SlotSet) mergeAround(touched []Handle) {
	if len(touched) == 0 {
		return
	}
	start := ss.arena[touched[0]].prev
	if start == NilHandle {
		start = touched[0]
	}
	h := start
	for h != NilHandle {
		next := ss.arena[h].next
		if next == NilHandle {
			break
		}
		if ss.sameContent(h, next) {
			ss.mergeInto(h, next)
			continue // h now extends further; re-check against its new next
		}
		h = next
	}
}

func (ss *SlotSet) sameContent(a, b Handle) bool {
	sa, sb := &ss.arena[a], &ss.arena[b]
	if !sa.Available.Equal(sb.Available) {
		return false
	}
	if len(sa.Quotas) != len(sb.Quotas) {
		return false
	}
	for k, v := range sa.Quotas {
		if sb.Quotas[k] != v {
			return false
		}
	}
	return true
}

// mergeInto absorbs b into a: a.End becomes b.End and b is marked dead.
func (ss *SlotSet) mergeInto(a, b Handle) {
	sa := &ss.arena[a]
	sb := &ss.arena[b]
	sa.End = sb.End
	sa.next = sb.next
	if sb.next != NilHandle {
		ss.arena[sb.next].prev = a
	} else {
		ss.tail = a
	}
	sb.dead = true
	if ss.cursor == b {
		ss.cursor = a
	}
}

// Count returns the number of live slots in the set, used by the
// scheduling loop (§4.8 step 5) for benchmarking.
func (ss *SlotSet) Count() int {
	n := 0
	for h := ss.head; h != NilHandle; h = ss.arena[h].next {
		n++
	}
	return n
}

// Walk calls fn for every live slot from head to tail, in order. Stops
// early if fn returns false.
func (ss *SlotSet) Walk(fn func(h Handle, s *Slot) bool) {
	for h := ss.head; h != NilHandle; h = ss.arena[h].next {
		if !fn(h, &ss.arena[h]) {
			return
		}
	}
}
