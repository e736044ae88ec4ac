package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestRemainingActive(t *testing.T) {
	at := func(hour, minute int) time.Time {
		return time.Date(2026, 5, 4, hour, minute, 0, 0, time.UTC)
	}

	tests := []struct {
		name       string
		now        time.Time
		start, end int
		want       time.Duration
	}{
		{"morning", at(8, 0), 8, 23, 16 * time.Hour},
		{"last hour", at(23, 30), 8, 23, 30 * time.Minute},
		{"before window", at(7, 59), 8, 23, 0},
		{"wrapped evening", at(22, 0), 22, 2, 5 * time.Hour},
		{"wrapped morning", at(1, 0), 22, 2, 2 * time.Hour},
		{"wrapped gap", at(12, 0), 22, 2, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := RemainingActive(tc.now, tc.start, tc.end, time.UTC)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestExpectedCycles(t *testing.T) {
	require.Equal(t, 1, ExpectedCycles(0, 2*time.Hour, 4*time.Hour))
	require.Equal(t, 1, ExpectedCycles(
		2*time.Hour, 2*time.Hour, 4*time.Hour,
	))
	require.Equal(t, 6, ExpectedCycles(
		16*time.Hour, 2*time.Hour, 4*time.Hour,
	))
	require.Equal(t, 1, ExpectedCycles(time.Hour, 0, 0))
}

func TestKindBudget(t *testing.T) {
	tests := []struct {
		name                 string
		dailyCap, sent, gran int
		m                    float64
		expected             int
		want                 int
	}{
		{"full day", 20, 0, 0, 1, 6, 3},
		{"half sent", 20, 10, 10, 1, 1, 10},
		{"warmup", 10, 0, 0, 0.5, 1, 5},
		{"floor to minimum", 3, 0, 0, 0.5, 6, 1},
		{"minimum only once", 3, 1, 1, 0.5, 6, 0},
		{"zero multiplier", 20, 0, 0, 0, 1, 0},
		{"no cap", 0, 0, 0, 1, 1, 0},
		{"over sent", 5, 9, 9, 1, 1, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := KindBudget(
				tc.dailyCap, tc.sent, tc.gran, tc.m, tc.expected,
			)
			require.Equal(t, tc.want, got)
		})
	}
}

// TestKindBudgetBounds: a cycle never grants more than what is left of the
// daily cap.
func TestKindBudgetBounds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		dailyCap := rapid.IntRange(1, 200).Draw(t, "cap")
		sent := rapid.IntRange(0, dailyCap).Draw(t, "sent")
		m := rapid.SampledFrom([]float64{0.25, 0.5, 1}).Draw(t, "m")
		expected := rapid.IntRange(1, 12).Draw(t, "expected")

		got := KindBudget(dailyCap, sent, sent, m, expected)
		if got < 0 {
			t.Fatalf("negative budget %d", got)
		}
		if sent > 0 && got > dailyCap-sent {
			t.Fatalf("budget %d exceeds remaining %d", got,
				dailyCap-sent)
		}
	})
}
