package gate

import (
	"context"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/outreach/internal/domain"
	"github.com/roasbeef/outreach/internal/ratelimit"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type memConfig struct {
	values map[string]string
	writes int
}

func (m *memConfig) GetConfig(_ context.Context,
	key string) (fn.Option[string], error) {

	v, ok := m.values[key]
	if !ok {
		return fn.None[string](), nil
	}

	return fn.Some(v), nil
}

func (m *memConfig) SetConfig(_ context.Context, key, value string) error {
	m.values[key] = value
	m.writes++

	return nil
}

type staticHalt bool

func (h staticHalt) IsHalted(context.Context) (bool, error) {
	return bool(h), nil
}

func newTestGate(t *testing.T, now time.Time,
	halted bool) (*Gate, *memConfig, *clock.TestClock,
	*ratelimit.MonthlyBudget) {

	t.Helper()

	clk := clock.NewTestClock(now)
	store := &memConfig{values: make(map[string]string)}
	budget := ratelimit.NewMonthlyBudget(100, time.UTC, clk)

	g := New(DefaultConfig(), store, staticHalt(halted), budget, clk)

	return g, store, clk, budget
}

func TestAllowCycleActiveHours(t *testing.T) {
	ctx := context.Background()
	g, _, _, _ := newTestGate(t, time.Now(), false)

	day := time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		hour   int
		allow  bool
		reason Reason
	}{
		{7, false, ReasonOutsideHours},
		{8, true, ReasonNone},
		{15, true, ReasonNone},
		{23, true, ReasonNone},
		{0, false, ReasonOutsideHours},
	}
	for _, tc := range cases {
		ok, reason, err := g.AllowCycle(
			ctx, day.Add(time.Duration(tc.hour)*time.Hour),
		)
		require.NoError(t, err)
		require.Equal(t, tc.allow, ok, "hour %d", tc.hour)
		require.Equal(t, tc.reason, reason, "hour %d", tc.hour)
	}
}

func TestInWindowWrapsMidnight(t *testing.T) {
	require.True(t, InWindow(23, 22, 2))
	require.True(t, InWindow(1, 22, 2))
	require.False(t, InWindow(12, 22, 2))
}

func TestAllowCycleHalted(t *testing.T) {
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	g, _, _, _ := newTestGate(t, now, true)

	ok, reason, err := g.AllowCycle(context.Background(), now)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, ReasonHalted, reason)
}

func TestAllowCycleHardStop(t *testing.T) {
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	g, _, _, budget := newTestGate(t, now, false)
	budget.Use(96)

	// UI kinds keep the cycle alive.
	ok, _, err := g.AllowCycle(context.Background(), now)
	require.NoError(t, err)
	require.True(t, ok)
	require.Zero(t, g.KindMultiplier(domain.KindReply))
	require.Equal(t, 1.0, g.KindMultiplier(domain.KindDM))

	// With only API kinds enabled the whole cycle is refused.
	g.cfg.EnabledKinds = []domain.ActionKind{domain.KindReply}
	ok, reason, err := g.AllowCycle(context.Background(), now)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, ReasonBudgetExhausted, reason)
}

func TestPhaseFor(t *testing.T) {
	require.Equal(t, PhaseNormal, PhaseFor(0.79, 0.8, 0.95))
	require.Equal(t, PhaseConservation, PhaseFor(0.80, 0.8, 0.95))
	require.Equal(t, PhaseConservation, PhaseFor(0.949, 0.8, 0.95))
	require.Equal(t, PhaseHardStop, PhaseFor(0.95, 0.8, 0.95))
	require.Equal(t, PhaseHardStop, PhaseFor(1.2, 0.8, 0.95))

	require.Equal(t, 0.5, PhaseMultiplier(PhaseConservation, true))
	require.Equal(t, 1.0, PhaseMultiplier(PhaseConservation, false))
	require.Equal(t, 1.0, PhaseMultiplier(PhaseHardStop, false))
}

func TestWarmupDayRecordsStartOnce(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	g, store, clk, _ := newTestGate(t, now, false)

	day, err := g.WarmupDay(ctx, clk.Now())
	require.NoError(t, err)
	require.Equal(t, 1, day)
	require.Equal(t, "2026-05-04", store.values[PipelineStartKey])

	day, err = g.WarmupDay(ctx, now.Add(2*24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 3, day)
	require.Equal(t, 1, store.writes)

	m, day, err := g.WarmupMultiplier(ctx, now.Add(14*24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 15, day)
	require.Equal(t, 1.0, m)

	m, _, err = g.WarmupMultiplier(ctx, now.Add(13*24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 0.5, m)
}

func TestActiveKeywords(t *testing.T) {
	kw := []string{"a", "b", "c", "d", "e"}
	require.Equal(t, []string{"a", "b"}, ActiveKeywords(kw, 0.5))
	require.Equal(t, kw, ActiveKeywords(kw, 1))
	require.Equal(t, []string{"a"}, ActiveKeywords([]string{"a"}, 0.5))
}

func TestGateKeywordsAndSetConfig(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	g, _, _, _ := newTestGate(t, now, false)
	require.Empty(t, g.Keywords(0.5))

	cfg := DefaultConfig()
	cfg.Keywords = []string{"golang", "sqlite", "rate limits"}
	cfg.ActiveStartHour, cfg.ActiveEndHour = 13, 20
	cfg.Location = nil
	g.SetConfig(cfg)

	// The timezone is kept when the new config names none.
	require.Equal(t, time.UTC, g.Location())

	require.Equal(t, []string{"golang"}, g.Keywords(0.5))
	all := g.Keywords(1)
	require.Equal(t, cfg.Keywords, all)

	// Callers get their own copy.
	all[0] = "changed"
	require.Equal(t, "golang", g.Keywords(1)[0])

	// The new window applies to the next cycle.
	ok, reason, err := g.AllowCycle(ctx, now)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, ReasonOutsideHours, reason)
}

// TestWarmupCapScaling checks the effective warmup cap against its
// definition for arbitrary caps.
func TestWarmupCapScaling(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		limit := rapid.IntRange(0, 500).Draw(t, "cap")
		day := rapid.IntRange(1, 30).Draw(t, "day")

		m := WarmupFactor(day, 14)
		got := ratelimit.ScaleCap(limit, m)

		// PROPERTY: during warmup the cap is ceil(cap/2), floor 1.
		switch {
		case day > 14:
			if got != limit {
				t.Fatalf("post-warmup cap %d != %d", got, limit)
			}
		case limit == 0:
			if got != 0 {
				t.Fatalf("zero cap scaled to %d", got)
			}
		default:
			want := max(1, (limit+1)/2)
			if got != want {
				t.Fatalf("warmup cap(%d) = %d, want %d",
					limit, got, want)
			}
		}
	})
}
