// Package config loads kamelot's scheduling policy from a YAML file and
// the environment, the way ollamacron's internal/config does: viper reads
// defaults, a config file and KAMELOT_-prefixed env vars into one
// Settings tree, which the caller then converts into the typed
// kamelot.Config and quota.Config the scheduling core actually consumes.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/oar-team/kamelot/pkg/kamelot"
	"github.com/oar-team/kamelot/pkg/quota"
	"github.com/oar-team/kamelot/pkg/request"
)

// Settings is the on-disk/env configuration shape. Field names track the
// configuration keys of §6 ("Configuration keys recognized"), grouped
// into a struct per concern rather than a flat string/string map.
type Settings struct {
	Scheduler   SchedulerSettings   `yaml:"scheduler"`
	Quotas      QuotasSettings      `yaml:"quotas"`
	Fairsharing FairsharingSettings `yaml:"fairsharing"`
	Logging     LoggingSettings     `yaml:"logging"`
	Metrics     MetricsSettings     `yaml:"metrics"`
}

// SchedulerSettings covers HIERARCHY_LABELS, SCHEDULER_RESOURCE_ORDER and
// SCHEDULER_JOB_SECURITY_TIME.
type SchedulerSettings struct {
	HierarchyLabels []string `yaml:"hierarchy_labels"`
	ResourceOrder   string   `yaml:"resource_order"` // SCHEDULER_RESOURCE_ORDER; unused by core, informative only per §6
	Strategy        string   `yaml:"strategy"`       // "basic" or "tree"; selects the evaluator Strategy() returns
	JobSecurityTime int64    `yaml:"job_security_time"`
	HorizonSeconds  int64    `yaml:"horizon_seconds"`
}

// QuotasSettings covers QUOTAS and QUOTAS_WINDOW_TIME_LIMIT.
type QuotasSettings struct {
	Enabled         bool          `yaml:"enabled"`
	WindowTimeLimit int64         `yaml:"window_time_limit"`
	Rules           []RuleSetting `yaml:"rules"`
}

// RuleSetting is one quota rule (§4.6) in its on-disk form: temporal
// fields are strings ("15:04" for a time-of-day, RFC3339 for a one-shot
// boundary) so the file stays human-editable; ToQuotaConfig parses them.
type RuleSetting struct {
	Key     string `yaml:"key"`
	Kind    string `yaml:"kind"` // "static", "periodical" or "oneshot"
	Queue   string `yaml:"queue"`
	Project string `yaml:"project"`
	User    string `yaml:"user"`
	JobType string `yaml:"job_type"`

	NbResources   *int64 `yaml:"nb_resources"`
	NbJobs        *int64 `yaml:"nb_jobs"`
	ResourcesTime *int64 `yaml:"resources_time"`

	Weekday  string `yaml:"weekday"`  // "mon".."sun", or "*"; periodical only
	StartTOD string `yaml:"start_tod"` // "15:04"; periodical only
	EndTOD   string `yaml:"end_tod"`   // "15:04", exclusive; periodical only

	Start string `yaml:"start"` // RFC3339; oneshot only
	End   string `yaml:"end"`   // RFC3339, exclusive; oneshot only
}

// FairsharingSettings mirrors FAIRSHARING_ENABLED/FAIRSHARING_COEF_*: the
// core never reads these itself (§6 says so explicitly); Get answers them
// for whatever Platform or Sort hook asks. Nothing in this repository
// passes them to a hook.
type FairsharingSettings struct {
	Enabled  bool               `yaml:"enabled"`
	Coefs    map[string]float64 `yaml:"coefs"`
}

type LoggingSettings struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
}

type MetricsSettings struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Default returns the configuration kamelot ships with when no file or
// env var overrides a key.
func Default() *Settings {
	return &Settings{
		Scheduler: SchedulerSettings{
			HierarchyLabels: []string{"node"},
			ResourceOrder:   "node",
			Strategy:        "tree",
			JobSecurityTime: 60,
			HorizonSeconds:  30 * 24 * 3600,
		},
		Quotas: QuotasSettings{
			Enabled:         false,
			WindowTimeLimit: 7 * 24 * 3600,
		},
		Fairsharing: FairsharingSettings{
			Enabled: false,
		},
		Logging: LoggingSettings{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsSettings{
			Enabled: false,
			Listen:  "0.0.0.0:9102",
		},
	}
}

// Load reads configFile (if non-empty) plus KAMELOT_-prefixed env vars on
// top of Default(), the way ollamacron's config.Load layers viper over a
// DefaultConfig() base.
func Load(configFile string) (*Settings, error) {
	v := viper.New()
	settings := Default()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("kamelot")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/kamelot")
	}

	v.SetEnvPrefix("KAMELOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return settings, nil
}

// Validate rejects a configuration the core could not run with.
func (s *Settings) Validate() error {
	if len(s.Scheduler.HierarchyLabels) == 0 {
		return fmt.Errorf("scheduler.hierarchy_labels must name at least one level")
	}
	switch s.Scheduler.Strategy {
	case "basic", "tree", "":
	default:
		return fmt.Errorf("scheduler.strategy must be %q or %q, got %q", "basic", "tree", s.Scheduler.Strategy)
	}
	for _, r := range s.Quotas.Rules {
		switch quota.Kind(r.Kind) {
		case quota.KindStatic, quota.KindPeriodical, quota.KindOneShot:
		default:
			return fmt.Errorf("quotas.rules[%s]: unknown kind %q", r.Key, r.Kind)
		}
	}
	return nil
}

// Strategy resolves the resource-request evaluator strategy: "tree" is
// the default because, unlike "basic", it never rejects a request a
// looser search would have accepted.
func (s *Settings) Strategy() request.Strategy {
	if s.Scheduler.Strategy == "basic" {
		return request.StrategyBasic
	}
	return request.StrategyTree
}

// ToKamelotConfig builds the kamelot.Config the scheduling core takes at
// cycle construction.
func (s *Settings) ToKamelotConfig() (kamelot.Config, error) {
	qc, err := s.ToQuotaConfig()
	if err != nil {
		return kamelot.Config{}, err
	}
	horizon := s.Scheduler.HorizonSeconds
	if horizon == 0 {
		horizon = kamelot.DefaultHorizonSeconds
	}
	return kamelot.Config{
		HierarchyLabels:       append([]string{}, s.Scheduler.HierarchyLabels...),
		Strategy:              s.Strategy(),
		Quotas:                qc,
		JobSecurityTime:       s.Scheduler.JobSecurityTime,
		DefaultHorizonSeconds: horizon,
	}, nil
}

// ToQuotaConfig builds the quota.Config the quota engine (C6) expands at
// cycle start, parsing each rule's on-disk temporal fields.
func (s *Settings) ToQuotaConfig() (quota.Config, error) {
	qc := quota.Config{
		Enabled:     s.Quotas.Enabled,
		WindowLimit: s.Quotas.WindowTimeLimit,
	}
	for _, rs := range s.Quotas.Rules {
		r := quota.Rule{
			Key:     rs.Key,
			Kind:    quota.Kind(rs.Kind),
			Queue:   rs.Queue,
			Project: rs.Project,
			User:    rs.User,
			JobType: rs.JobType,
			Cap: quota.Cap{
				NbResources:   rs.NbResources,
				NbJobs:        rs.NbJobs,
				ResourcesTime: rs.ResourcesTime,
			},
		}
		switch r.Kind {
		case quota.KindPeriodical:
			startTOD, err := parseTOD(rs.StartTOD)
			if err != nil {
				return quota.Config{}, fmt.Errorf("quotas.rules[%s].start_tod: %w", rs.Key, err)
			}
			endTOD, err := parseTOD(rs.EndTOD)
			if err != nil {
				return quota.Config{}, fmt.Errorf("quotas.rules[%s].end_tod: %w", rs.Key, err)
			}
			r.Periodical = &quota.PeriodicalSpec{Weekday: rs.Weekday, StartTOD: startTOD, EndTOD: endTOD}
		case quota.KindOneShot:
			start, err := time.Parse(time.RFC3339, rs.Start)
			if err != nil {
				return quota.Config{}, fmt.Errorf("quotas.rules[%s].start: %w", rs.Key, err)
			}
			end, err := time.Parse(time.RFC3339, rs.End)
			if err != nil {
				return quota.Config{}, fmt.Errorf("quotas.rules[%s].end: %w", rs.Key, err)
			}
			r.OneShot = &quota.Interval{Start: start.Unix(), End: end.Unix()}
		}
		qc.Rules = append(qc.Rules, r)
	}
	return qc, nil
}

// parseTOD parses a "15:04" time-of-day into seconds since midnight.
func parseTOD(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	return t.Hour()*3600 + t.Minute()*60, nil
}

// Get implements the generic get_config(key) lookup of §6 for the
// handful of keys the core never interprets itself (FAIRSHARING_*),
// plus the keys the core does consume, exposed here too so a Platform
// built on top of Settings can answer get_config uniformly.
func (s *Settings) Get(key string) (string, bool) {
	switch {
	case key == "HIERARCHY_LABELS":
		return strings.Join(s.Scheduler.HierarchyLabels, ","), true
	case key == "SCHEDULER_RESOURCE_ORDER":
		return s.Scheduler.ResourceOrder, true
	case key == "SCHEDULER_STRATEGY":
		return s.Scheduler.Strategy, true
	case key == "QUOTAS":
		if s.Quotas.Enabled {
			return "YES", true
		}
		return "NO", true
	case key == "QUOTAS_WINDOW_TIME_LIMIT":
		return strconv.FormatInt(s.Quotas.WindowTimeLimit, 10), true
	case key == "SCHEDULER_JOB_SECURITY_TIME":
		return strconv.FormatInt(s.Scheduler.JobSecurityTime, 10), true
	case key == "FAIRSHARING_ENABLED":
		return strconv.FormatBool(s.Fairsharing.Enabled), true
	case strings.HasPrefix(key, "FAIRSHARING_COEF_"):
		name := strings.TrimPrefix(key, "FAIRSHARING_COEF_")
		if v, ok := s.Fairsharing.Coefs[name]; ok {
			return strconv.FormatFloat(v, 'f', -1, 64), true
		}
		return "", false
	default:
		return "", false
	}
}
