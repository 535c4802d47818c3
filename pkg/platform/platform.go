// Package platform defines the capability contracts the scheduling core
// consumes from its external collaborators (§6): the read-only snapshot of
// cluster state the cycle runs against, and the optional hook overrides
// injected at process start. Neither is implemented here — this package
// only names the boundary; cmd/kamelot's demo harness and any real
// database/Python-binding layer both implement Platform against it.
package platform

import (
	"github.com/oar-team/kamelot/pkg/job"
	"github.com/oar-team/kamelot/pkg/procset"
	"github.com/oar-team/kamelot/pkg/quota"
)

// ScheduledJob is a previously-assigned job, as reported by
// get_scheduled_jobs, used to build the initial SlotSet occupancy and to
// resolve dependencies and time-sharing peers for the jobs being scheduled
// this cycle.
type ScheduledJob struct {
	JobID       int64
	Start       int64
	Walltime    int64
	ProcSet     procset.ProcSet
	SlotSetName string
	Container   bool
	TimeShare   *job.TimeSharing
	Placeholder string
	// State is the terminal state this job reached, if any. Only jobs
	// that have actually completed carry one; the core never infers a
	// state for a job it assigns in the current cycle, since driving job
	// lifecycle is explicitly out of scope (§1).
	State job.DependencyState
}

// Finish is the last second this job occupies.
func (s ScheduledJob) Finish() int64 { return s.Start + s.Walltime - 1 }

// Platform is the read-only snapshot the core consumes for one cycle
// (§6). Implementations own every bit of I/O (database, Python FFI); the
// core only ever calls these methods synchronously.
type Platform interface {
	Now() int64
	GlobalProcSet() procset.ProcSet
	Hierarchy(label string) []procset.ProcSet
	WaitingJobs(queues []string) []job.Job
	ScheduledJobs() []ScheduledJob
	QuotasConfig() quota.Config
	Config(key string) (string, bool)
	SaveAssignment(a job.Assignment)
}

// Hooks is the optional capability record (§9 "hook dispatch"): every
// field may be nil, meaning "use the default behavior". A non-nil hook
// that returns ok=false is also treated as "use the default" for that
// call, per §6 ("returning none/false means use default").
type Hooks struct {
	// Sort replaces the default priority/karma/submission/id ordering.
	Sort func(jobs []job.Job) ([]job.Job, bool)
	// Assign replaces the whole-job assignment C5 would otherwise compute.
	Assign func(j job.Job) (job.Assignment, bool)
	// Find replaces C4's leaf-level search for a single call.
	Find func(candidates procset.ProcSet, req job.Request) (procset.ProcSet, bool)
}
