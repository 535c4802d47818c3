// Package quota implements the quota engine (C6): static, periodical and
// one-shot caps on a job's resource/job/resource-time contribution,
// admission-checked and updated per slot.
package quota

import (
	"fmt"
	"sort"
	"time"

	"github.com/oar-team/kamelot/pkg/slot"
)

// Kind distinguishes the three rule flavors of §4.6.
type Kind string

const (
	KindStatic     Kind = "static"
	KindPeriodical Kind = "periodical"
	KindOneShot    Kind = "oneshot"
)

// Interval is a closed time interval in seconds since epoch.
type Interval struct {
	Start, End int64
}

// Cap holds the optional caps a rule places on each counter. A nil field
// means that counter is uncapped by this rule.
type Cap struct {
	NbResources   *int64
	NbJobs        *int64
	ResourcesTime *int64
}

// PeriodicalSpec is a recurring weekly window, e.g. "22:00-04:00 fri *"
// (start/end time-of-day, weekday or "*"). The external config syntax is
// half-open ([a,b)); Build converts to the closed ([a,b-1]) form used
// internally, once, when it expands the rule.
type PeriodicalSpec struct {
	Weekday  string // "mon".."sun", or "*"
	StartTOD int    // seconds since midnight, inclusive
	EndTOD   int    // seconds since midnight, EXCLUSIVE (half-open, pre-conversion)
}

// Rule is a single quota rule: a predicate over (queue, project, user,
// job type), a cap, and — for periodical/oneshot rules — the raw temporal
// spec that Build turns into concrete closed intervals.
type Rule struct {
	Key     string // tie-break key and per-slot counter key; should be unique
	Kind    Kind
	Queue   string // "*" wildcard
	Project string
	User    string
	JobType string

	Cap Cap

	Periodical *PeriodicalSpec // set only when Kind == KindPeriodical
	OneShot    *Interval       // set only when Kind == KindOneShot (half-open externally; End already exclusive here)
}

func (r Rule) specificity() int {
	n := 0
	for _, f := range []string{r.Queue, r.Project, r.User, r.JobType} {
		if f != "" && f != "*" {
			n++
		}
	}
	return n
}

func matchField(rule, val string) bool {
	return rule == "" || rule == "*" || rule == val
}

// MatchContext is the job-side data a rule is matched against.
type MatchContext struct {
	Queue   string
	Project string
	User    string
	// JobTypes lists every administrative type tag the job carries
	// (besteffort, timesharing, placeholder, container, ...); a rule's
	// JobType matches if it is "*"/empty or present in this list.
	JobTypes []string
}

func (r Rule) matches(ctx MatchContext) bool {
	if !matchField(r.Queue, ctx.Queue) || !matchField(r.Project, ctx.Project) || !matchField(r.User, ctx.User) {
		return false
	}
	if r.JobType == "" || r.JobType == "*" {
		return true
	}
	for _, t := range ctx.JobTypes {
		if t == r.JobType {
			return true
		}
	}
	return false
}

// expandedRule is a Rule plus its pre-computed active intervals, limited
// to those overlapping the scheduling horizon. Static rules have a nil interval list and
// are always active.
type expandedRule struct {
	rule      Rule
	intervals []Interval
}

func (er expandedRule) activeAt(t int64) bool {
	if er.rule.Kind == KindStatic {
		return true
	}
	for _, iv := range er.intervals {
		if iv.Start <= t && t <= iv.End {
			return true
		}
	}
	return false
}

// Config is the quota configuration pulled from the Platform (§6
// get_quotas_config), before expansion.
type Config struct {
	Enabled     bool
	WindowLimit int64 // QUOTAS_WINDOW_TIME_LIMIT, seconds
	Rules       []Rule
}

// Engine is the quota engine for one scheduling cycle: periodical/oneshot
// rules are expanded once at Build and never re-expanded on each
// admission check, per §9's design note.
type Engine struct {
	enabled bool
	rules   []expandedRule
}

// Build expands cfg's periodical/oneshot rules over [now, now+WindowLimit]
// and returns the ready-to-use Engine. If !cfg.Enabled, the returned
// Engine admits every job unconditionally.
func Build(cfg Config, now int64) *Engine {
	e := &Engine{enabled: cfg.Enabled}
	if !cfg.Enabled {
		return e
	}
	horizon := now + cfg.WindowLimit
	for _, r := range cfg.Rules {
		er := expandedRule{rule: r}
		switch r.Kind {
		case KindPeriodical:
			er.intervals = expandPeriodical(now, horizon, *r.Periodical)
		case KindOneShot:
			iv := Interval{Start: r.OneShot.Start, End: r.OneShot.End - 1}
			if iv.End >= now && iv.Start <= horizon {
				er.intervals = []Interval{iv}
			}
		}
		e.rules = append(e.rules, er)
	}
	return e
}

// Horizon returns now+WindowLimit — the point beyond which
// kerr.KindNoSlotWithinHorizon / KindQuotaRejection apply — or 0 if
// quotas (and therefore the only documented horizon) are disabled.
func (cfg Config) Horizon(now int64) (int64, bool) {
	if !cfg.Enabled {
		return 0, false
	}
	return now + cfg.WindowLimit, true
}

var weekdayNames = [...]string{"sun", "mon", "tue", "wed", "thu", "fri", "sat"}

func expandPeriodical(now, horizon int64, spec PeriodicalSpec) []Interval {
	const day = int64(86400)
	dayStart := (now / day) * day
	var out []Interval
	for d := dayStart; d <= horizon+day; d += day {
		wd := weekdayNames[time.Unix(d, 0).UTC().Weekday()]
		if spec.Weekday != "*" && spec.Weekday != wd {
			continue
		}
		start := d + int64(spec.StartTOD)
		if spec.StartTOD >= spec.EndTOD {
			// Overnight window: split into [start, day's 23:59:59] and
			// the following day's [00:00, end-1].
			piece1 := Interval{Start: start, End: d + day - 1}
			piece2 := Interval{Start: d + day, End: d + day + int64(spec.EndTOD) - 1}
			out = appendIfOverlaps(out, piece1, now, horizon)
			out = appendIfOverlaps(out, piece2, now, horizon)
			continue
		}
		end := d + int64(spec.EndTOD) - 1
		out = appendIfOverlaps(out, Interval{Start: start, End: end}, now, horizon)
	}
	return out
}

func appendIfOverlaps(out []Interval, iv Interval, now, horizon int64) []Interval {
	if iv.End < now || iv.Start > horizon {
		return out
	}
	return append(out, iv)
}

// SelectRule picks the single most-specific matching rule, breaking ties
// lexicographically on Key (§4.6, §9). A tie is resolved silently: no
// warning is logged. Returns nil if no rule matches.
func (e *Engine) SelectRule(ctx MatchContext) *expandedRule {
	var best *expandedRule
	for i := range e.rules {
		er := &e.rules[i]
		if !er.rule.matches(ctx) {
			continue
		}
		if best == nil {
			best = er
			continue
		}
		bs, cs := best.rule.specificity(), er.rule.specificity()
		if cs > bs || (cs == bs && er.rule.Key < best.rule.Key) {
			best = er
		}
	}
	return best
}

// Contribution is what a candidate assignment would add to every slot it
// covers, per §4.6.
type Contribution struct {
	NbResources   int64
	NbJobs        int64
	ResourcesTime int64
}

// CheckAdmission reports whether adding contrib over [a,b] is admissible under ctx's matching rule, for the named slotset.
// Per §4.6, quotas only constrain the "default" slotset and container
// jobs are checked but never update counters (handled by the caller by
// simply not calling Commit for them).
func (e *Engine) CheckAdmission(ss *slot.SlotSet, ctx MatchContext, a, b int64, contrib Contribution) bool {
	if !e.enabled || ss.Name != "default" {
		return true
	}
	er := e.SelectRule(ctx)
	if er == nil {
		return true
	}
	ok := true
	ss.Walk(func(h slot.Handle, s *slot.Slot) bool {
		if s.End < a {
			return true
		}
		if s.Start > b {
			return false
		}
		if !er.activeAt(s.Start) {
			return true
		}
		c := s.Quotas[er.rule.Key]
		cap := er.rule.Cap
		if cap.NbResources != nil && c.NbResources+contrib.NbResources > *cap.NbResources {
			ok = false
			return false
		}
		if cap.NbJobs != nil && c.NbJobs+contrib.NbJobs > *cap.NbJobs {
			ok = false
			return false
		}
		if cap.ResourcesTime != nil && c.ResourcesTime+contrib.ResourcesTime > *cap.ResourcesTime {
			ok = false
			return false
		}
		return true
	})
	return ok
}

// Commit records contrib's effect on every slot of ss inside [a,b] for
// ctx's matching rule, first splitting ss at a and b+1 so that no slot
// straddling the window is charged. No-op if quotas are disabled, ss
// isn't "default", or no rule matches.
func (e *Engine) Commit(ss *slot.SlotSet, ctx MatchContext, a, b int64, contrib Contribution) {
	if !e.enabled || ss.Name != "default" {
		return
	}
	er := e.SelectRule(ctx)
	if er == nil {
		return
	}
	_ = ss.EnsureBoundary(a)
	if b < slot.Infinity {
		_ = ss.EnsureBoundary(b + 1)
	}
	ss.Walk(func(h slot.Handle, s *slot.Slot) bool {
		if s.End < a {
			return true
		}
		if s.Start > b {
			return false
		}
		if er.activeAt(s.Start) {
			if s.Quotas == nil {
				s.Quotas = map[string]slot.Counters{}
			}
			c := s.Quotas[er.rule.Key]
			c.NbResources += contrib.NbResources
			c.NbJobs += contrib.NbJobs
			c.ResourcesTime += contrib.ResourcesTime
			s.Quotas[er.rule.Key] = c
		}
		return true
	})
}

// AlignBoundaries splits ss at every expanded periodical/oneshot interval
// boundary within the horizon, so that afterwards every slot lies either
// entirely inside or entirely outside any given rule's active window —
// the precondition CheckAdmission/Commit rely on (checking only s.Start).
func (e *Engine) AlignBoundaries(ss *slot.SlotSet) error {
	if !e.enabled {
		return nil
	}
	var cuts []int64
	for _, er := range e.rules {
		for _, iv := range er.intervals {
			cuts = append(cuts, iv.Start, iv.End+1)
		}
	}
	sort.Slice(cuts, func(i, j int) bool { return cuts[i] < cuts[j] })
	for _, t := range cuts {
		if err := ss.EnsureBoundary(t); err != nil {
			return fmt.Errorf("quota: align boundary at %d: %w", t, err)
		}
	}
	return nil
}
