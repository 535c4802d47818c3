package kamelot

import (
	"testing"

	"github.com/oar-team/kamelot/pkg/hierarchy"
	"github.com/oar-team/kamelot/pkg/job"
	"github.com/oar-team/kamelot/pkg/platform"
	"github.com/oar-team/kamelot/pkg/procset"
	"github.com/oar-team/kamelot/pkg/quota"
	"github.com/oar-team/kamelot/pkg/request"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePlatform is a static, in-memory Platform snapshot for tests: 4
// nodes of 4 cores each (ids 1-16), node-only hierarchy.
type fakePlatform struct {
	now       int64
	global    procset.ProcSet
	hier      map[string][]procset.ProcSet
	waiting   []job.Job
	scheduled []platform.ScheduledJob
	quotas    quota.Config
	saved     []job.Assignment
}

func newFakePlatform() *fakePlatform {
	var resources []hierarchy.Resource
	id := int32(1)
	for node := 1; node <= 4; node++ {
		for core := 0; core < 4; core++ {
			resources = append(resources, hierarchy.Resource{
				ID:         id,
				Attributes: map[string]string{"node": string(rune('0' + node))},
			})
			id++
		}
	}
	idx := hierarchy.Build(resources, []string{"node"})
	return &fakePlatform{
		global: procset.Range(1, 16),
		hier:   map[string][]procset.ProcSet{"node": idx.Groups("node")},
	}
}

func (p *fakePlatform) Now() int64                               { return p.now }
func (p *fakePlatform) GlobalProcSet() procset.ProcSet           { return p.global }
func (p *fakePlatform) Hierarchy(label string) []procset.ProcSet { return p.hier[label] }
func (p *fakePlatform) WaitingJobs(queues []string) []job.Job    { return p.waiting }
func (p *fakePlatform) ScheduledJobs() []platform.ScheduledJob   { return p.scheduled }
func (p *fakePlatform) QuotasConfig() quota.Config               { return p.quotas }
func (p *fakePlatform) Config(key string) (string, bool)         { return "", false }
func (p *fakePlatform) SaveAssignment(a job.Assignment)          { p.saved = append(p.saved, a) }

func oneNodeRequest(nodeCount int64) job.Request {
	return job.Request{Levels: []job.Level{{Label: "node", Count: nodeCount}}, LeafCount: 4}
}

func baseCfg(strategy request.Strategy) Config {
	return Config{HierarchyLabels: []string{"node"}, Strategy: strategy, DefaultHorizonSeconds: 100000}
}

func assignmentOf(t *testing.T, res Result, jobID int64) job.Assignment {
	t.Helper()
	for _, a := range res.Assigned {
		if a.JobID == jobID {
			return a
		}
	}
	t.Fatalf("job %d was not assigned (unscheduled: %+v)", jobID, res.Unscheduled)
	return job.Assignment{}
}

// S1-analog: priority ordering plus a request that can only be satisfied
// once earlier jobs free their nodes. Run under both strategies, which
// must agree (no nesting, so basic and tree never diverge here).
func TestScheduleLoop_PriorityOrderingAndWaiting(t *testing.T) {
	for _, strategy := range []request.Strategy{request.StrategyBasic, request.StrategyTree} {
		t.Run(string(strategy), func(t *testing.T) {
			p := newFakePlatform()
			p.waiting = []job.Job{
				{ID: 1, Priority: 30, Moldables: []job.Moldable{{Index: 0, Walltime: 100, Request: oneNodeRequest(1)}}},
				{ID: 2, Priority: 20, Moldables: []job.Moldable{{Index: 0, Walltime: 100, Request: oneNodeRequest(1)}}},
				{ID: 3, Priority: 10, Moldables: []job.Moldable{{Index: 0, Walltime: 50, Request: oneNodeRequest(3)}}},
			}
			cy, err := NewCycle(p, platform.Hooks{}, baseCfg(strategy))
			require.NoError(t, err)
			res, err := cy.Run(nil, nil)
	require.NoError(t, err)

			a1 := assignmentOf(t, res, 1)
			a2 := assignmentOf(t, res, 2)
			a3 := assignmentOf(t, res, 3)

			assert.EqualValues(t, 0, a1.Start)
			assert.Equal(t, "1-4", a1.ProcSet.String())
			assert.EqualValues(t, 0, a2.Start)
			assert.Equal(t, "5-8", a2.ProcSet.String())

			assert.EqualValues(t, 100, a3.Start, "job 3 needs 3 free nodes, only available once jobs 1 and 2 finish")
			assert.EqualValues(t, 12, a3.ProcSet.Count())
		})
	}
}

// S2: container + inner.
func TestScheduleLoop_ContainerAndInner(t *testing.T) {
	p := newFakePlatform()
	p.waiting = []job.Job{
		{ID: 100, Priority: 30, Container: true,
			Moldables: []job.Moldable{{Index: 0, Walltime: 3600, Request: oneNodeRequest(4)}}},
		{ID: 101, Priority: 20, Inner: 100,
			Moldables: []job.Moldable{{Index: 0, Walltime: 1800, Request: oneNodeRequest(2)}}},
		{ID: 102, Priority: 10,
			Moldables: []job.Moldable{{Index: 0, Walltime: 1800, Request: oneNodeRequest(2)}}},
	}
	cy, err := NewCycle(p, platform.Hooks{}, baseCfg(request.StrategyTree))
	require.NoError(t, err)
	res, err := cy.Run(nil, nil)
	require.NoError(t, err)

	container := assignmentOf(t, res, 100)
	inner := assignmentOf(t, res, 101)
	outer := assignmentOf(t, res, 102)

	assert.EqualValues(t, 0, container.Start)
	assert.Equal(t, "1-16", container.ProcSet.String())
	assert.Equal(t, "c_100", inner.SlotSetName)
	assert.EqualValues(t, 0, inner.Start, "inner job lands at t=0 inside the container's sub-slotset")

	assert.GreaterOrEqual(t, outer.Start, int64(3600), "non-inner job is pushed past the container's reservation")
}

// S4: dependency ordering.
func TestScheduleLoop_DependencyOrdering(t *testing.T) {
	p := newFakePlatform()
	p.scheduled = []platform.ScheduledJob{
		{JobID: 1, Start: 500, Walltime: 1000, ProcSet: procset.Range(1, 4), SlotSetName: "default", State: job.DependencyTerminated},
	}
	p.waiting = []job.Job{
		{ID: 2, Priority: 10,
			Dependencies: []job.Dependency{{JobID: 1, State: job.DependencyTerminated}},
			Moldables:    []job.Moldable{{Index: 0, Walltime: 100, Request: oneNodeRequest(1)}}},
	}
	cy, err := NewCycle(p, platform.Hooks{}, baseCfg(request.StrategyBasic))
	require.NoError(t, err)
	res, err := cy.Run(nil, nil)
	require.NoError(t, err)

	a := assignmentOf(t, res, 2)
	assert.EqualValues(t, 1500, a.Start, "job 2 must wait for job 1's finish despite free resources at t=0")
}

// S4 continued: an unresolved dependency leaves the job unscheduled this
// cycle rather than guessing a start time.
func TestScheduleLoop_DependencyUnresolved(t *testing.T) {
	p := newFakePlatform()
	p.waiting = []job.Job{
		{ID: 2, Priority: 10,
			Dependencies: []job.Dependency{{JobID: 1, State: job.DependencyTerminated}},
			Moldables:    []job.Moldable{{Index: 0, Walltime: 100, Request: oneNodeRequest(1)}}},
	}
	cy, err := NewCycle(p, platform.Hooks{}, baseCfg(request.StrategyBasic))
	require.NoError(t, err)
	res, err := cy.Run(nil, nil)
	require.NoError(t, err)

	require.Len(t, res.Unscheduled, 1)
	assert.Equal(t, int64(2), res.Unscheduled[0].JobID)
}

// S5: time-sharing peers land on the same proc-set.
func TestScheduleLoop_TimeSharingSameProcSet(t *testing.T) {
	p := newFakePlatform()
	ts := &job.TimeSharing{User: "*", Name: "*"}
	p.waiting = []job.Job{
		{ID: 1, Priority: 20, TimeShare: ts,
			Moldables: []job.Moldable{{Index: 0, Walltime: 100, Request: oneNodeRequest(1)}}},
		{ID: 2, Priority: 10, TimeShare: ts,
			Moldables: []job.Moldable{{Index: 0, Walltime: 100, Request: oneNodeRequest(1)}}},
	}
	cy, err := NewCycle(p, platform.Hooks{}, baseCfg(request.StrategyBasic))
	require.NoError(t, err)
	res, err := cy.Run(nil, nil)
	require.NoError(t, err)

	a1 := assignmentOf(t, res, 1)
	a2 := assignmentOf(t, res, 2)
	assert.EqualValues(t, 0, a1.Start)
	assert.EqualValues(t, 0, a2.Start)
	assert.Equal(t, a1.ProcSet.String(), a2.ProcSet.String())
}
