package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	for _, k := range AllKinds {
		parsed, err := ParseKind(string(k))
		require.NoError(t, err)
		require.Equal(t, k, parsed)
	}

	_, err := ParseKind("retweet")
	require.Error(t, err)
}

func TestDayKeyUsesLocation(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	// 20:00 UTC is already the next day in Tokyo.
	ts := time.Date(2026, 3, 31, 20, 0, 0, 0, time.UTC)
	require.Equal(t, "2026-03-31", DayKey(ts, time.UTC))
	require.Equal(t, "2026-04-01", DayKey(ts, tokyo))
	require.Equal(t, "2026-04", MonthKey(ts, tokyo))
	require.Equal(t, "2026-03-31", DayKey(ts, nil))
}
