package kamelot

import (
	"fmt"

	"github.com/oar-team/kamelot/pkg/hierarchy"
	"github.com/oar-team/kamelot/pkg/job"
	"github.com/oar-team/kamelot/pkg/kerr"
	"github.com/oar-team/kamelot/pkg/platform"
	"github.com/oar-team/kamelot/pkg/procset"
	"github.com/oar-team/kamelot/pkg/quota"
	"github.com/oar-team/kamelot/pkg/registry"
	"github.com/oar-team/kamelot/pkg/request"
	"github.com/oar-team/kamelot/pkg/slot"
	"github.com/rs/zerolog/log"
)

// tsPeer is a timesharing-tagged assignment a later job's candidate
// window may overlap with, per §4.5 "timesharing peer-set augmentation".
type tsPeer struct {
	tag           job.TimeSharing
	start, finish int64
	procset       procset.ProcSet
}

// phPeer is a placeholder-tagged assignment an allow=k job may borrow
// resources from, per §4.5 "placeholder peer-set restriction".
type phPeer struct {
	name          string
	start, finish int64
	procset       procset.ProcSet
}

type depRecord struct {
	start, walltime int64
	state           job.DependencyState
}

// Cycle is one run of the scheduling loop: it owns the SlotSet registry,
// hierarchy index and quota engine built from a single frozen Platform
// snapshot (§3 "Lifecycle"; §5: no concurrent observers).
type Cycle struct {
	plat  platform.Platform
	hooks platform.Hooks
	cfg   Config

	now    int64
	global procset.ProcSet

	hier      *hierarchy.Index
	evaluator request.Evaluator
	quotas    *quota.Engine
	registry  *registry.Registry

	tsPeers []tsPeer
	phPeers []phPeer
	depInfo map[int64]depRecord
}

// NewCycle builds a Cycle from one Platform snapshot: the hierarchy index
// (C2), the slot-set registry seeded with already-scheduled jobs (C3/C7),
// and the quota engine with its periodical/oneshot rules pre-expanded
// (C6), per §9 "pre-compute at cycle start".
func NewCycle(plat platform.Platform, hooks platform.Hooks, cfg Config) (*Cycle, error) {
	eval, err := request.New(cfg.Strategy)
	if err != nil {
		return nil, fmt.Errorf("kamelot: %w", err)
	}

	now := plat.Now()
	global := plat.GlobalProcSet()

	groups := make(map[string][]procset.ProcSet, len(cfg.HierarchyLabels))
	for _, label := range cfg.HierarchyLabels {
		groups[label] = plat.Hierarchy(label)
	}
	hier := hierarchy.FromGroups(cfg.HierarchyLabels, groups)

	qe := quota.Build(cfg.Quotas, now)
	reg := registry.New(now, global)

	cy := &Cycle{
		plat:      plat,
		hooks:     hooks,
		cfg:       cfg,
		now:       now,
		global:    global,
		hier:      hier,
		evaluator: eval,
		quotas:    qe,
		registry:  reg,
		depInfo:   map[int64]depRecord{},
	}

	if err := qe.AlignBoundaries(reg.Default()); err != nil {
		return nil, fmt.Errorf("kamelot: align quota boundaries: %w", err)
	}

	if err := cy.seedScheduledJobs(plat.ScheduledJobs()); err != nil {
		return nil, err
	}
	return cy, nil
}

func (cy *Cycle) seedScheduledJobs(scheduled []platform.ScheduledJob) error {
	// Open every container's sub-slotset first, so inner jobs (which may
	// appear before or after their container in the slice) always find
	// it.
	for _, sj := range scheduled {
		if sj.Container {
			cy.registry.OpenContainer(sj.JobID, sj.Start, sj.Finish(), sj.ProcSet)
		}
	}
	for _, sj := range scheduled {
		ss, ok := cy.registry.Get(sj.SlotSetName)
		if !ok {
			return kerr.New(kerr.KindInvariantViolation, sj.JobID, "scheduled job references unknown slotset %q", sj.SlotSetName)
		}
		if err := ss.Subtract(sj.Start, sj.Finish(), sj.ProcSet); err != nil {
			return fmt.Errorf("kamelot: seed scheduled job %d: %w", sj.JobID, err)
		}
		if sj.TimeShare != nil {
			cy.tsPeers = append(cy.tsPeers, tsPeer{tag: *sj.TimeShare, start: sj.Start, finish: sj.Finish(), procset: sj.ProcSet})
		}
		if sj.Placeholder != "" {
			cy.phPeers = append(cy.phPeers, phPeer{name: sj.Placeholder, start: sj.Start, finish: sj.Finish(), procset: sj.ProcSet})
		}
		if sj.State != "" {
			cy.depInfo[sj.JobID] = depRecord{start: sj.Start, walltime: sj.Walltime, state: sj.State}
		}
	}
	return nil
}

// slotSetFor returns the SlotSet a job competes against: its container's
// sub-slotset for inner=cid jobs, "default" otherwise.
func (cy *Cycle) slotSetFor(j job.Job) (*slot.SlotSet, bool) {
	if j.Inner == 0 {
		return cy.registry.Default(), true
	}
	return cy.registry.Get(registry.ContainerName(j.Inner))
}

func jobTypes(j job.Job) []string {
	var types []string
	if j.Besteffort {
		types = append(types, "besteffort")
	}
	if j.TimeShare != nil {
		types = append(types, "timesharing")
	}
	if j.Placeholder != "" {
		types = append(types, "placeholder")
	}
	if j.Container {
		types = append(types, "container")
	}
	if j.Inner != 0 {
		types = append(types, "inner")
	}
	return types
}

func matchContextFor(j job.Job) quota.MatchContext {
	return quota.MatchContext{Queue: j.Queue, Project: j.Project, User: j.Owner, JobTypes: jobTypes(j)}
}

func contributionFor(requestSize, walltime int64) quota.Contribution {
	return quota.Contribution{NbResources: requestSize, NbJobs: 1, ResourcesTime: requestSize * walltime}
}

func logSoftFailure(j job.Job, e *kerr.Error) {
	log.Warn().
		Int64("job_id", j.ID).
		Str("reason", string(e.Kind)).
		Str("detail", e.Msg).
		Msg("job left unscheduled")
}
