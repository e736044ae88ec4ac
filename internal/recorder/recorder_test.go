package recorder

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/roasbeef/outreach/internal/domain"
	"github.com/roasbeef/outreach/internal/store"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"pgregory.net/rapid"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testNow = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func startRecorder(t *testing.T, repo store.Repository) *Recorder {
	t.Helper()

	r := New(DefaultConfig(), repo, clock.NewTestClock(testNow))
	r.Start()
	t.Cleanup(r.Stop)

	return r
}

func record(id, acct string, kind domain.ActionKind,
	started time.Time) domain.OutreachRecord {

	return domain.OutreachRecord{
		DispatchID: id,
		AccountID:  acct,
		TargetKey:  "target-" + id,
		Kind:       kind,
		StartedAt:  started,
	}
}

func finished(rec domain.OutreachRecord, outcome domain.Outcome,
	at time.Time) domain.OutreachRecord {

	rec.Outcome = outcome
	rec.FinishedAt = &at

	return rec
}

func TestBeginFinishIdempotent(t *testing.T) {
	repo := store.NewMockStore()
	r := startRecorder(t, repo)
	ctx := context.Background()

	rec := record("d1", "A", domain.KindReply, testNow)
	require.NoError(t, r.Begin(ctx, rec))
	require.NoError(t, r.Begin(ctx, rec))

	done := finished(rec, domain.OutcomeSent, testNow.Add(time.Second))
	require.NoError(t, r.Finish(ctx, done))
	require.NoError(t, r.Finish(ctx, done))
	require.NoError(t, r.Flush(ctx))

	all, err := repo.ListOutreach(ctx, testNow, testNow.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, domain.OutcomeSent, all[0].Outcome)

	counts, err := repo.DailyCounters(ctx, "2026-05-04")
	require.NoError(t, err)
	require.Equal(t, 1, counts[domain.KindReply])
}

func TestFinishWithoutBegin(t *testing.T) {
	repo := store.NewMockStore()
	r := startRecorder(t, repo)
	ctx := context.Background()

	rec := finished(
		record("d1", "A", domain.KindLike, testNow),
		domain.OutcomePermanentFail, testNow.Add(time.Second),
	)
	require.NoError(t, r.Finish(ctx, rec))
	require.NoError(t, r.Flush(ctx))

	got, err := repo.GetOutreach(ctx, "d1")
	require.NoError(t, err)
	require.True(t, got.IsSome())
	require.Equal(t, domain.OutcomePermanentFail,
		got.UnwrapOr(domain.OutreachRecord{}).Outcome)

	// Only sent outcomes count towards the aggregates.
	counts, err := repo.DailyCounters(ctx, "2026-05-04")
	require.NoError(t, err)
	require.Empty(t, counts)
}

func TestFinishedAtMonotonicPerAccount(t *testing.T) {
	repo := store.NewMockStore()
	r := startRecorder(t, repo)
	ctx := context.Background()

	later := testNow.Add(10 * time.Second)
	earlier := testNow.Add(5 * time.Second)

	d1 := record("d1", "A", domain.KindReply, testNow)
	d2 := record("d2", "A", domain.KindReply, testNow)
	d3 := record("d3", "B", domain.KindReply, testNow)
	for _, rec := range []domain.OutreachRecord{d1, d2, d3} {
		require.NoError(t, r.Begin(ctx, rec))
	}

	require.NoError(t, r.Finish(ctx, finished(d1, domain.OutcomeSent, later)))
	require.NoError(t, r.Finish(ctx, finished(d2, domain.OutcomeSent, earlier)))
	require.NoError(t, r.Finish(ctx, finished(d3, domain.OutcomeSent, earlier)))
	require.NoError(t, r.Flush(ctx))

	get := func(id string) time.Time {
		rec, err := repo.GetOutreach(ctx, id)
		require.NoError(t, err)
		return *rec.UnwrapOr(domain.OutreachRecord{}).FinishedAt
	}
	require.True(t, get("d2").Equal(later))

	// Other accounts are unaffected.
	require.True(t, get("d3").Equal(earlier))
}

func TestFlushReportsWriteFailure(t *testing.T) {
	repo := store.NewMockStore()
	r := startRecorder(t, repo)
	ctx := context.Background()

	rec := record("d1", "A", domain.KindReply, testNow)
	require.NoError(t, r.Begin(ctx, rec))

	boom := errors.New("disk full")
	repo.SetWriteErr(boom)

	require.NoError(t, r.Finish(ctx, finished(rec, domain.OutcomeSent,
		testNow)))
	require.ErrorIs(t, r.Flush(ctx), boom)

	// The failure is reported once.
	repo.SetWriteErr(nil)
	require.NoError(t, r.Flush(ctx))

	// Begin failures surface directly.
	repo.SetWriteErr(boom)
	require.ErrorIs(t, r.Begin(ctx, record("d2", "A", domain.KindReply,
		testNow)), boom)
	repo.SetWriteErr(nil)
}

func TestStopAppliesQueuedFinishes(t *testing.T) {
	repo := store.NewMockStore()
	ctx := context.Background()

	r := New(DefaultConfig(), repo, clock.NewTestClock(testNow))
	r.Start()

	const n = 50
	for i := 0; i < n; i++ {
		rec := record(fmt.Sprintf("d%d", i), "A", domain.KindLike,
			testNow)
		require.NoError(t, r.Begin(ctx, rec))
		require.NoError(t, r.Finish(ctx, finished(
			rec, domain.OutcomeSent, testNow,
		)))
	}
	r.Stop()

	counts, err := repo.DailyCounters(ctx, "2026-05-04")
	require.NoError(t, err)
	require.Equal(t, n, counts[domain.KindLike])

	require.ErrorIs(t, r.Finish(ctx, record("late", "A", domain.KindLike,
		testNow)), ErrStopped)
}

func TestSummaries(t *testing.T) {
	repo := store.NewMockStore()
	r := startRecorder(t, repo)
	ctx := context.Background()

	yesterday := testNow.AddDate(0, 0, -1)
	recs := []domain.OutreachRecord{
		finished(record("d1", "A", domain.KindReply, testNow),
			domain.OutcomeSent, testNow),
		finished(record("d2", "B", domain.KindLike, testNow),
			domain.OutcomeSent, testNow),
		finished(record("d3", "A", domain.KindReply, yesterday),
			domain.OutcomeTransientFail, yesterday),
		record("d4", "A", domain.KindDM, testNow),
	}
	recs[2].ErrorClass = domain.ErrClassTransient
	for _, rec := range recs {
		begin := rec
		begin.Outcome, begin.ErrorClass, begin.FinishedAt = "", "", nil
		require.NoError(t, r.Begin(ctx, begin))
		if rec.Finished() {
			require.NoError(t, r.Finish(ctx, rec))
		}
	}
	require.NoError(t, r.Flush(ctx))

	today, err := r.TodaySummary(ctx)
	require.NoError(t, err)

	from, to := DayBounds(testNow, time.UTC)
	want := Summary{
		From:       from,
		To:         to,
		Total:      3,
		Unfinished: 1,
		Outcomes: map[domain.Outcome]int{
			domain.OutcomeSent: 2,
		},
		SentByKind: map[domain.ActionKind]int{
			domain.KindReply: 1,
			domain.KindLike:  1,
		},
		SentByAccount: map[string]int{"A": 1, "B": 1},
		ErrorClasses:  map[domain.ErrorClass]int{},
		Days: []DayCount{
			{Day: "2026-05-04", Total: 3, Sent: 2},
		},
	}
	if diff := cmp.Diff(want, today); diff != "" {
		t.Fatalf("unexpected summary (-want +got):\n%s", diff)
	}
	require.InDelta(t, 1.0, today.SuccessRate(), 1e-9)

	week, err := r.WindowSummary(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, 4, week.Total)
	require.Len(t, week.Days, 2)
	require.Equal(t, 1, week.ErrorClasses[domain.ErrClassTransient])
	require.InDelta(t, 2.0/3.0, week.SuccessRate(), 1e-9)
}

func TestReplayDay(t *testing.T) {
	repo := store.NewMockStore()
	ctx := context.Background()

	recs := []domain.OutreachRecord{
		finished(record("d1", "A", domain.KindReply, testNow),
			domain.OutcomeSent, testNow),
		finished(record("d2", "A", domain.KindReply, testNow),
			domain.OutcomeRateLimited, testNow),
		finished(record("d3", "B", domain.KindDM,
			testNow.AddDate(0, 0, -1)), domain.OutcomeSent, testNow),
	}
	for _, rec := range recs {
		_, err := repo.AppendOutreach(ctx, rec)
		require.NoError(t, err)
	}

	day, counts, err := ReplayDay(ctx, repo, testNow, time.UTC)
	require.NoError(t, err)
	require.Equal(t, "2026-05-04", day)
	require.Equal(t, map[string]map[domain.ActionKind]int{
		"A": {domain.KindReply: 1},
	}, counts)
}

// TestReplayMatchesLiveCounters checks that replaying the persisted log
// yields the counters built up while recording.
func TestReplayMatchesLiveCounters(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		repo := store.NewMockStore()
		ctx := context.Background()

		accounts := []string{"A", "B", "C"}
		kinds := []domain.ActionKind{
			domain.KindReply, domain.KindLike, domain.KindDM,
		}
		outcomes := []domain.Outcome{
			domain.OutcomeSent, domain.OutcomeTransientFail,
			domain.OutcomeRateLimited, domain.OutcomePermanentFail,
		}

		live := make(map[string]map[domain.ActionKind]int)
		svc := NewService(repo, time.UTC)

		n := rapid.IntRange(0, 40).Draw(rt, "records")
		for i := 0; i < n; i++ {
			acct := rapid.SampledFrom(accounts).Draw(rt, "account")
			kind := rapid.SampledFrom(kinds).Draw(rt, "kind")
			outcome := rapid.SampledFrom(outcomes).Draw(rt, "outcome")
			at := testNow.Add(time.Duration(i) * time.Minute)

			rec := record(fmt.Sprintf("d%d", i), acct, kind, at)
			if res := svc.Receive(ctx, BeginRequest{Record: rec}); res.IsErr() {
				rt.Fatalf("begin failed")
			}

			done := finished(rec, outcome, at)
			if res := svc.Receive(ctx, FinishRequest{Record: done}); res.IsErr() {
				rt.Fatalf("finish failed")
			}

			if outcome == domain.OutcomeSent {
				if live[acct] == nil {
					live[acct] = make(map[domain.ActionKind]int)
				}
				live[acct][kind]++
			}
		}

		_, replayed, err := ReplayDay(ctx, repo, testNow, time.UTC)
		if err != nil {
			rt.Fatalf("replay: %v", err)
		}
		if diff := cmp.Diff(live, replayed); diff != "" {
			rt.Fatalf("replay mismatch (-live +replayed):\n%s", diff)
		}

		daily, err := repo.DailyCounters(ctx, "2026-05-04")
		if err != nil {
			rt.Fatalf("counters: %v", err)
		}
		for _, kind := range kinds {
			total := 0
			for _, perKind := range live {
				total += perKind[kind]
			}
			if daily[kind] != total {
				rt.Fatalf("%s aggregate %d, want %d", kind,
					daily[kind], total)
			}
		}
	})
}
