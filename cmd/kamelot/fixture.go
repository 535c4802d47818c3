package main

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/oar-team/kamelot/pkg/hierarchy"
	"github.com/oar-team/kamelot/pkg/job"
	"github.com/oar-team/kamelot/pkg/platform"
	"github.com/oar-team/kamelot/pkg/procset"
	"github.com/oar-team/kamelot/pkg/quota"
)

// fixtureSnapshot is the demo Platform snapshot the run subcommand loads:
// a flat description of a cluster plus its waiting and already-scheduled
// jobs, read from YAML or JSON (viper infers the format from the file
// extension). It stands in for the out-of-scope meta-scheduler's real
// resource table and job queue.
type fixtureSnapshot struct {
	Now          int64              `mapstructure:"now"`
	Nodes        int                `mapstructure:"nodes"`
	CoresPerNode int                `mapstructure:"cores_per_node"`
	Jobs         []fixtureJob       `mapstructure:"jobs"`
	Scheduled    []fixtureScheduled `mapstructure:"scheduled"`
}

type fixtureJob struct {
	ID         int64    `mapstructure:"id"`
	Queue      string   `mapstructure:"queue"`
	Project    string   `mapstructure:"project"`
	Owner      string   `mapstructure:"owner"`
	Priority   int64    `mapstructure:"priority"`
	Walltime   int64    `mapstructure:"walltime"`
	NodeCount  int64    `mapstructure:"node_count"`
	Besteffort bool     `mapstructure:"besteffort"`
	Container  bool     `mapstructure:"container"`
	Inner      int64    `mapstructure:"inner"`
	TSUser     string   `mapstructure:"timesharing_user"`
	TSName     string   `mapstructure:"timesharing_name"`
	DependsOn  []int64  `mapstructure:"depends_on"`
}

type fixtureScheduled struct {
	JobID        int64 `mapstructure:"job_id"`
	Start        int64 `mapstructure:"start"`
	Walltime     int64 `mapstructure:"walltime"`
	ProcSetFrom  int32 `mapstructure:"procset_from"`
	ProcSetTo    int32 `mapstructure:"procset_to"`
	Container    bool  `mapstructure:"container"`
	SlotSetName  string `mapstructure:"slotset_name"`
}

// loadFixture reads a fixtureSnapshot from path.
func loadFixture(path string) (*fixtureSnapshot, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("fixture: read %s: %w", path, err)
	}
	var fs fixtureSnapshot
	if err := v.Unmarshal(&fs); err != nil {
		return nil, fmt.Errorf("fixture: unmarshal %s: %w", path, err)
	}
	return &fs, nil
}

// fixturePlatform implements platform.Platform over one fixtureSnapshot:
// a one-shot, frozen view, exactly what §3 requires of a Platform for the
// duration of a cycle.
type fixturePlatform struct {
	now       int64
	global    procset.ProcSet
	hier      map[string][]procset.ProcSet
	waiting   []job.Job
	scheduled []platform.ScheduledJob
	quotas    quota.Config
	saved     []job.Assignment
}

// newFixturePlatform builds a fixturePlatform from fs. quotas is echoed
// back unchanged from Platform.QuotasConfig — the core itself takes its
// quota rules from the Config passed to NewCycle, not from this method,
// but a real Platform implementation is expected to agree with whatever
// it hands the scheduler out-of-band, so the fixture keeps them in sync
// too.
func newFixturePlatform(fs *fixtureSnapshot, quotas quota.Config) (*fixturePlatform, error) {
	if fs.Nodes <= 0 || fs.CoresPerNode <= 0 {
		return nil, fmt.Errorf("fixture: nodes and cores_per_node must be positive")
	}

	var resources []hierarchy.Resource
	id := int32(1)
	for n := 1; n <= fs.Nodes; n++ {
		for c := 0; c < fs.CoresPerNode; c++ {
			resources = append(resources, hierarchy.Resource{
				ID:         id,
				Attributes: map[string]string{"node": fmt.Sprintf("%d", n)},
			})
			id++
		}
	}
	idx := hierarchy.Build(resources, []string{"node"})
	total := int32(fs.Nodes * fs.CoresPerNode)

	p := &fixturePlatform{
		now:    fs.Now,
		global: procset.Range(1, total),
		hier:   map[string][]procset.ProcSet{"node": idx.Groups("node")},
		quotas: quotas,
	}

	// The fixture has no per-job state: every scheduled job is reported
	// with State terminated, so a depends_on entry naming any scheduled
	// job resolves, with the waiting job starting no earlier than that
	// job's end.
	for _, sj := range fs.Scheduled {
		slotSetName := sj.SlotSetName
		if slotSetName == "" {
			slotSetName = "default"
		}
		p.scheduled = append(p.scheduled, platform.ScheduledJob{
			JobID:       sj.JobID,
			Start:       sj.Start,
			Walltime:    sj.Walltime,
			ProcSet:     procset.Range(sj.ProcSetFrom, sj.ProcSetTo),
			SlotSetName: slotSetName,
			Container:   sj.Container,
			State:       job.DependencyTerminated,
		})
	}

	for _, fj := range fs.Jobs {
		j := job.Job{
			ID:         fj.ID,
			Queue:      fj.Queue,
			Project:    fj.Project,
			Owner:      fj.Owner,
			Priority:   fj.Priority,
			Besteffort: fj.Besteffort,
			Container:  fj.Container,
			Inner:      fj.Inner,
			Moldables: []job.Moldable{{
				Index:    0,
				Walltime: fj.Walltime,
				Request: job.Request{
					Levels:    []job.Level{{Label: "node", Count: fj.NodeCount}},
					LeafCount: int64(fs.CoresPerNode),
				},
			}},
		}
		if fj.TSUser != "" || fj.TSName != "" {
			j.TimeShare = &job.TimeSharing{User: fj.TSUser, Name: fj.TSName}
		}
		for _, dep := range fj.DependsOn {
			j.Dependencies = append(j.Dependencies, job.Dependency{JobID: dep, State: job.DependencyTerminated})
		}
		p.waiting = append(p.waiting, j)
	}
	return p, nil
}

func (p *fixturePlatform) Now() int64                               { return p.now }
func (p *fixturePlatform) GlobalProcSet() procset.ProcSet           { return p.global }
func (p *fixturePlatform) Hierarchy(label string) []procset.ProcSet { return p.hier[label] }

// WaitingJobs returns the waiting jobs whose queue is in queues, or every
// waiting job when queues is empty.
func (p *fixturePlatform) WaitingJobs(queues []string) []job.Job {
	if len(queues) == 0 {
		return p.waiting
	}
	var out []job.Job
	for _, j := range p.waiting {
		for _, q := range queues {
			if j.Queue == q {
				out = append(out, j)
				break
			}
		}
	}
	return out
}

func (p *fixturePlatform) ScheduledJobs() []platform.ScheduledJob   { return p.scheduled }
func (p *fixturePlatform) QuotasConfig() quota.Config               { return p.quotas }
func (p *fixturePlatform) Config(key string) (string, bool)         { return "", false }
func (p *fixturePlatform) SaveAssignment(a job.Assignment)          { p.saved = append(p.saved, a) }
