package quota

import (
	"testing"

	"github.com/oar-team/kamelot/pkg/procset"
	"github.com/oar-team/kamelot/pkg/slot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cap64(n int64) *int64 { return &n }

// S3: a single static rule {queue=default, user=*, nb_resources=16}; two
// jobs each requesting 16 resources for 1h at t=0 must serialize: the
// first admits, the second is rejected in the same slot but admits once
// it lands in a later, freshly-split slot.
func TestCheckAdmission_StaticCapSerializesJobs(t *testing.T) {
	cfg := Config{
		Enabled: true,
		Rules: []Rule{{
			Key:   "default/*",
			Kind:  KindStatic,
			Queue: "default",
			User:  "*",
			Cap:   Cap{NbResources: cap64(16)},
		}},
	}
	e := Build(cfg, 0)

	ss := slot.New("default", 0, procset.Range(1, 100))
	ctx := MatchContext{Queue: "default", User: "alice"}

	contrib := Contribution{NbResources: 16, NbJobs: 1, ResourcesTime: 16 * 3600}
	require.True(t, e.CheckAdmission(ss, ctx, 0, 3599, contrib))
	e.Commit(ss, ctx, 0, 3599, contrib)
	require.NoError(t, ss.Subtract(0, 3599, procset.Range(1, 16)))

	// Second job at the same window is rejected: 16+16 > 16.
	assert.False(t, e.CheckAdmission(ss, ctx, 0, 3599, contrib))

	// Pushed to the next hour, it's admissible again (fresh slot).
	assert.True(t, e.CheckAdmission(ss, ctx, 3600, 7199, contrib))
}

// S6: overnight periodical rule "22:00-04:00 fri *" with cap 0 rejects
// any job during Friday 23:00-Saturday 03:00, but the same request at
// Saturday 05:00 succeeds. Epoch 0 is Thursday 1970-01-01 00:00 UTC, so
// Friday 00:00 UTC is t=86400.
func TestCheckAdmission_OvernightPeriodicalQuota(t *testing.T) {
	const day = int64(86400)
	cfg := Config{
		Enabled: true,
		Rules: []Rule{{
			Key:  "friday-blackout",
			Kind: KindPeriodical,
			Periodical: &PeriodicalSpec{
				Weekday:  "fri",
				StartTOD: 22 * 3600,
				EndTOD:   4 * 3600,
			},
			Cap: Cap{NbResources: cap64(0)},
		}},
		WindowLimit: 7 * day,
	}
	e := Build(cfg, 0)

	ss := slot.New("default", 0, procset.Range(1, 100))
	require.NoError(t, e.AlignBoundaries(ss))

	ctx := MatchContext{Queue: "default", User: "bob"}
	contrib := Contribution{NbResources: 1, NbJobs: 1, ResourcesTime: 3600}

	fri2300 := day + 23*3600
	sat0300 := 2*day + 3*3600
	assert.False(t, e.CheckAdmission(ss, ctx, fri2300, fri2300+3599, contrib), "Friday 23:00 must be blacked out")
	assert.False(t, e.CheckAdmission(ss, ctx, sat0300-3600, sat0300-1, contrib), "Saturday 02:00 must be blacked out")

	sat0500 := 2*day + 5*3600
	assert.True(t, e.CheckAdmission(ss, ctx, sat0500, sat0500+3599, contrib), "Saturday 05:00 is outside the blackout")
}

func TestSelectRule_MostSpecificWins(t *testing.T) {
	cfg := Config{
		Enabled: true,
		Rules: []Rule{
			{Key: "b-wildcard", Kind: KindStatic, Queue: "*", Cap: Cap{NbJobs: cap64(100)}},
			{Key: "a-specific", Kind: KindStatic, Queue: "default", User: "alice", Cap: Cap{NbJobs: cap64(1)}},
		},
	}
	e := Build(cfg, 0)
	got := e.SelectRule(MatchContext{Queue: "default", User: "alice"})
	require.NotNil(t, got)
	assert.Equal(t, "a-specific", got.rule.Key)
}
