package kamelot

import (
	"sort"

	"github.com/oar-team/kamelot/pkg/job"
	"github.com/oar-team/kamelot/pkg/kerr"
	"github.com/oar-team/kamelot/pkg/metrics"
	"github.com/oar-team/kamelot/pkg/slot"
	"github.com/rs/zerolog/log"
)

// Unscheduled records a job the cycle couldn't place, and why.
type Unscheduled struct {
	JobID  int64
	Reason kerr.Kind
	Detail string
}

// Result is what a cycle returns to its caller.
type Result struct {
	Assigned    []job.Assignment
	Unscheduled []Unscheduled
	TotalSlots  int
}

// Run executes the scheduling loop (C8, §4.8) once: sort the waiting jobs
// from queues, assign each in order, persist successes to the Platform,
// and return the total slot count across every SlotSet. An invariant
// violation (§7) aborts the loop immediately and returns it as err; every
// assignment already persisted via SaveAssignment up to that point stands
// — only the remaining, not-yet-attempted jobs are left unscheduled.
func (cy *Cycle) Run(queues []string, m *metrics.Cycle) (Result, error) {
	jobs := cy.plat.WaitingJobs(queues)
	jobs = cy.sortJobs(jobs)

	var res Result
	for _, j := range jobs {
		ss, ok := cy.slotSetFor(j)
		if !ok {
			e := kerr.New(kerr.KindDependencyUnresolved, j.ID, "container %d has not been assigned yet", j.Inner)
			cy.recordFailure(&res, m, j, e)
			continue
		}

		a, e := cy.assignJob(j, ss)
		if e != nil {
			if !kerr.IsSoft(e) {
				res.TotalSlots = cy.registry.TotalSlotCount()
				return res, e
			}
			cy.recordFailure(&res, m, j, e)
			continue
		}

		cy.commit(j, ss, a)
		cy.plat.SaveAssignment(a)
		res.Assigned = append(res.Assigned, a)
		if m != nil {
			m.JobsAssignedTotal.Inc()
		}
		log.Info().
			Int64("job_id", j.ID).
			Int64("start", a.Start).
			Int64("walltime", a.Walltime).
			Str("procset", a.ProcSet.String()).
			Str("slotset", a.SlotSetName).
			Msg("job assigned")
	}

	res.TotalSlots = cy.registry.TotalSlotCount()
	if m != nil {
		m.SlotsTotal.Set(float64(res.TotalSlots))
	}
	return res, nil
}

func (cy *Cycle) recordFailure(res *Result, m *metrics.Cycle, j job.Job, e *kerr.Error) {
	res.Unscheduled = append(res.Unscheduled, Unscheduled{JobID: j.ID, Reason: e.Kind, Detail: e.Msg})
	if m != nil {
		m.JobsUnscheduledTotal.WithLabelValues(string(e.Kind)).Inc()
		if e.Kind == kerr.KindQuotaRejection {
			m.QuotaRejectionsTotal.Inc()
		}
	}
	logSoftFailure(j, e)
}

// commit applies a successful assignment to the registry (§4.5 step 4):
// subtract resources, update quota counters, open a container sub-slotset
// if needed, and remember the job as a timesharing/placeholder/dependency
// peer for the rest of this cycle.
func (cy *Cycle) commit(j job.Job, ss *slot.SlotSet, a job.Assignment) {
	occupiedEnd := a.Start + a.Walltime + cy.cfg.JobSecurityTime - 1
	if !j.Besteffort {
		_ = ss.Subtract(a.Start, occupiedEnd, a.ProcSet)
	}

	if j.Inner == 0 && !j.Container {
		requestSize := a.ProcSet.Count()
		ctx := matchContextFor(j)
		contrib := contributionFor(requestSize, a.Walltime)
		cy.quotas.Commit(ss, ctx, a.Start, a.Finish(), contrib)
	}

	if j.Container {
		cy.registry.OpenContainer(j.ID, a.Start, a.Finish(), a.ProcSet)
	}

	if j.TimeShare != nil {
		cy.tsPeers = append(cy.tsPeers, tsPeer{tag: *j.TimeShare, start: a.Start, finish: a.Finish(), procset: a.ProcSet})
	}
	if j.Placeholder != "" {
		cy.phPeers = append(cy.phPeers, phPeer{name: j.Placeholder, start: a.Start, finish: a.Finish(), procset: a.ProcSet})
	}
}

// sortJobs applies the sort hook if registered, else the default order
// (§4.8 step 2): priority desc, karma asc, submission asc, id asc.
func (cy *Cycle) sortJobs(jobs []job.Job) []job.Job {
	if cy.hooks.Sort != nil {
		if sorted, ok := cy.hooks.Sort(jobs); ok {
			return sorted
		}
	}
	out := append([]job.Job(nil), jobs...)
	sort.SliceStable(out, func(i, k int) bool {
		a, b := out[i], out[k]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.Karma != b.Karma {
			return a.Karma < b.Karma
		}
		if a.Submit != b.Submit {
			return a.Submit < b.Submit
		}
		return a.ID < b.ID
	})
	return out
}
