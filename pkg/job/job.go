// Package job defines the scheduling core's view of a job: its moldable
// variants, resource requests, and the administrative types (besteffort,
// time-sharing, placeholder, container/inner, dependencies) that change
// how the assigner treats it.
package job

import "github.com/oar-team/kamelot/pkg/procset"

// Level is one step of a hierarchical request: count groups of Label,
// each contributing to the next level down.
type Level struct {
	Label string
	Count int64
}

// Request is a hierarchical resource request: an ordered list of levels
// plus a leaf resource count and an optional property filter restricting
// eligible resources before the hierarchy walk begins.
type Request struct {
	Levels         []Level
	LeafCount      int64
	PropertyFilter procset.ProcSet // zero value means "no filter"
	HasFilter      bool
}

// Moldable is one alternative way of running a job: a walltime in seconds
// plus the resource request that walltime is costed for.
type Moldable struct {
	Index    int
	Walltime int64
	Request  Request
}

// DependencyState is the terminal state a dependency must have reached.
type DependencyState string

const (
	DependencyTerminated DependencyState = "terminated"
	DependencyError      DependencyState = "error"
)

// Dependency names a job that must have completed, in a given state,
// before this job may start.
type Dependency struct {
	JobID int64
	State DependencyState
}

// TimeSharing is the equivalence-class tag of a job with type
// timesharing=user,name. Either field may be the wildcard "*".
type TimeSharing struct {
	User string
	Name string
}

// Matches reports whether two time-sharing tags place their jobs in the
// same equivalence class.
func (a TimeSharing) Matches(b TimeSharing) bool {
	return matchWildcard(a.User, b.User) && matchWildcard(a.Name, b.Name)
}

func matchWildcard(a, b string) bool {
	return a == "*" || b == "*" || a == b
}

// Job is a waiting job as seen by the core: the scheduling loop and
// assigner only ever read from it and, on success, stamp an Assignment.
type Job struct {
	ID       int64
	Queue    string
	Project  string
	Owner    string
	Submit   int64 // submission time, seconds since epoch
	Priority int64 // scheduler priority, higher scheduled first
	Karma    int64 // lower scheduled first

	Moldables []Moldable

	Besteffort  bool
	TimeShare   *TimeSharing // nil unless type timesharing=... is set
	Placeholder string       // name reserved, "" if not a placeholder job
	Allow       string       // placeholder name this job may use, "" if none
	Container   bool         // opens a sub-slotset on assignment
	Inner       int64        // 0 unless type inner=<container job id>

	Dependencies []Dependency

	AdvanceReservation int64 // fixed start time; 0 means "not set"
	PropertyFilter     procset.ProcSet
	HasPropertyFilter  bool
}

// Assignment is the result of successfully placing a job.
type Assignment struct {
	JobID          int64
	MoldableIndex  int
	Start          int64
	Walltime       int64
	ProcSet        procset.ProcSet
	SlotSetName    string
}

// Finish returns the last second (inclusive) this assignment occupies.
func (a Assignment) Finish() int64 {
	return a.Start + a.Walltime - 1
}
