package kamelot

import (
	"github.com/oar-team/kamelot/pkg/job"
	"github.com/oar-team/kamelot/pkg/kerr"
	"github.com/oar-team/kamelot/pkg/procset"
	"github.com/oar-team/kamelot/pkg/request"
	"github.com/oar-team/kamelot/pkg/slot"
)

// assignJob implements the job assigner (C5, §4.5) for one job against
// the SlotSet ss. It never mutates ss or the quota engine — the caller
// commits on success.
func (cy *Cycle) assignJob(j job.Job, ss *slot.SlotSet) (job.Assignment, *kerr.Error) {
	if j.Placeholder != "" && j.TimeShare != nil {
		return job.Assignment{}, kerr.New(kerr.KindUnsatisfiable, j.ID, "placeholder and time-sharing types are mutually exclusive")
	}

	if cy.hooks.Assign != nil {
		if a, ok := cy.hooks.Assign(j); ok {
			return a, nil
		}
	}

	earliestStart, depErr := cy.resolveDependencies(j)
	if depErr != nil {
		return job.Assignment{}, depErr
	}

	t0 := j.AdvanceReservation
	if t0 == 0 {
		t0 = slotHeadStart(ss)
	}
	if earliestStart > t0 {
		t0 = earliestStart
	}

	horizon := cy.now + cy.cfg.DefaultHorizonSeconds
	if h, ok := cy.cfg.Quotas.Horizon(cy.now); ok {
		horizon = h
	}

	var best *job.Assignment
	var lastReason kerr.Kind = kerr.KindUnsatisfiable

	for _, m := range j.Moldables {
		if !request.Feasible(cy.global, m.Request, cy.hier, cy.evaluator) {
			continue
		}

		a, reason, ok := cy.searchMoldable(j, m, ss, t0, horizon)
		if !ok {
			lastReason = reason
			continue
		}
		if best == nil || a.Finish() < best.Finish() {
			best = &a
		}
	}

	if best == nil {
		return job.Assignment{}, kerr.New(lastReason, j.ID, "no candidate window found for any moldable")
	}
	return *best, nil
}

// searchMoldable walks candidate start times for one moldable, per §4.5
// step 2. It stops at the first window that satisfies every filter and
// quota check: since finish = t + walltime - 1 is strictly increasing in
// t for a fixed walltime, the first success is already this moldable's
// best candidate.
//
// besteffort exclusion (§4.5 "apply filters") needs no code here: the
// loop never subtracts a besteffort job's proc-set from ss (see
// (*Cycle).commit), so a is always computed as if besteffort jobs didn't
// exist, for every job, besteffort or not.
func (cy *Cycle) searchMoldable(j job.Job, m job.Moldable, ss *slot.SlotSet, t0, horizon int64) (job.Assignment, kerr.Kind, bool) {
	occupied := m.Walltime + cy.cfg.JobSecurityTime
	requestSize := request.RequestSize(m.Request)
	ctx := matchContextFor(j)
	contrib := contributionFor(requestSize, m.Walltime)
	exemptFromQuotas := j.Inner != 0

	reason := kerr.KindNoSlotWithinHorizon
	t := t0
	for t <= horizon {
		b := t + occupied - 1

		a, ok := ss.IntersectWindow(t, b)
		if !ok {
			next, advanced := advance(ss, t)
			if !advanced {
				break
			}
			t = next
			continue
		}

		if j.HasPropertyFilter {
			a = a.Intersection(j.PropertyFilter)
		}
		if j.TimeShare != nil {
			a = a.Union(cy.timeSharingPeerUnion(*j.TimeShare, t, b))
		}
		if j.Allow != "" {
			a = a.Union(cy.placeholderPeerUnion(j.Allow, t, b))
		}
		if a.IsEmpty() {
			next, advanced := advance(ss, t)
			if !advanced {
				break
			}
			t = next
			continue
		}

		if !exemptFromQuotas && !cy.quotas.CheckAdmission(ss, ctx, t, t+m.Walltime-1, contrib) {
			reason = kerr.KindQuotaRejection
			next, advanced := advance(ss, t)
			if !advanced {
				break
			}
			t = next
			continue
		}

		s, found := cy.find(a, m.Request)
		if !found {
			next, advanced := advance(ss, t)
			if !advanced {
				break
			}
			t = next
			continue
		}

		return job.Assignment{
			JobID:         j.ID,
			MoldableIndex: m.Index,
			Start:         t,
			Walltime:      m.Walltime,
			ProcSet:       s,
			SlotSetName:   ss.Name,
		}, "", true
	}
	return job.Assignment{}, reason, false
}

func (cy *Cycle) find(a procset.ProcSet, req job.Request) (procset.ProcSet, bool) {
	if cy.hooks.Find != nil {
		if s, ok := cy.hooks.Find(a, req); ok {
			return s, true
		}
	}
	return cy.evaluator.Find(a, req, cy.hier)
}

func (cy *Cycle) timeSharingPeerUnion(tag job.TimeSharing, t, b int64) procset.ProcSet {
	var u procset.ProcSet
	for _, p := range cy.tsPeers {
		if p.tag.Matches(tag) && p.start <= b && t <= p.finish {
			u = u.Union(p.procset)
		}
	}
	return u
}

func (cy *Cycle) placeholderPeerUnion(name string, t, b int64) procset.ProcSet {
	var u procset.ProcSet
	for _, p := range cy.phPeers {
		if p.name == name && p.start <= b && t <= p.finish {
			u = u.Union(p.procset)
		}
	}
	return u
}

// resolveDependencies reports the earliest start this job's dependencies
// permit. A dependency resolves only once the referenced job appears in
// get_scheduled_jobs with the required terminal state — a job assigned
// earlier in this same cycle has no terminal state yet (driving job
// lifecycle is out of scope, §1), so such a dependency stays unresolved
// until a later cycle.
func (cy *Cycle) resolveDependencies(j job.Job) (int64, *kerr.Error) {
	var earliest int64
	for _, dep := range j.Dependencies {
		rec, ok := cy.depInfo[dep.JobID]
		if !ok || rec.state != dep.State {
			return 0, kerr.New(kerr.KindDependencyUnresolved, j.ID, "dependency on job %d (state %s) not resolved", dep.JobID, dep.State)
		}
		if end := rec.start + rec.walltime; end > earliest {
			earliest = end
		}
	}
	return earliest, nil
}

func slotHeadStart(ss *slot.SlotSet) int64 {
	return ss.Get(ss.Head()).Start
}

// advance returns the earliest time after t at which the window could
// change: the end of the slot currently covering t, plus one (§4.5 step
// h). Returns ok=false once t has walked past the SlotSet's horizon.
func advance(ss *slot.SlotSet, t int64) (int64, bool) {
	h := ss.SlotAt(t)
	if h == slot.NilHandle {
		return 0, false
	}
	return ss.Get(h).End + 1, true
}
