// Package kamelot implements the scheduling loop (C8) and job assigner
// (C5): the glue that pulls waiting jobs from a Platform, finds each one a
// slot via the request evaluator and quota engine, and mutates the
// SlotSet registry accordingly.
package kamelot

import (
	"github.com/oar-team/kamelot/pkg/quota"
	"github.com/oar-team/kamelot/pkg/request"
)

// Config holds the subset of §6's configuration keys the core itself
// consults (SCHEDULER_RESOURCE_ORDER is accepted by internal/config but
// never read here, per spec: "unused by core, informative").
type Config struct {
	HierarchyLabels       []string
	Strategy              request.Strategy
	Quotas                quota.Config
	JobSecurityTime       int64 // SCHEDULER_JOB_SECURITY_TIME: gap appended to every walltime
	DefaultHorizonSeconds int64 // fallback search bound when quotas are disabled
}

// DefaultHorizonSeconds is used when quotas are disabled and therefore
// §7's "no slot within horizon" has no QUOTAS_WINDOW_TIME_LIMIT to anchor
// on. One year keeps an unsatisfiable-in-practice request from looping
// the assigner forever while never binding a realistically-schedulable
// job.
const DefaultHorizonSeconds = 365 * 24 * 3600
