package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enveloppeapp/enveloppe-go/internal/entity"
	"github.com/enveloppeapp/enveloppe-go/internal/store"
)

func newTestReconciler(t *testing.T) (*Reconciler, *store.Store) {
	t.Helper()

	s := newTestStore(t)

	return NewReconciler(s, "u1", testLogger()), s
}

// seedAllocation inserts an allocation and drains its CREATE job so job
// assertions only see what reconciliation itself appends.
func seedAllocation(t *testing.T, s *store.Store, a *entity.MonthlyAllocation) *entity.MonthlyAllocation {
	t.Helper()

	rec, err := s.Create(context.Background(), a)
	require.NoError(t, err)

	return rec.(*entity.MonthlyAllocation)
}

// drainJobs marks every pending job done so later assertions start clean.
func drainJobs(t *testing.T, s *store.Store) {
	t.Helper()

	ctx := context.Background()

	jobs, err := s.Queue().Pending(ctx)
	require.NoError(t, err)

	for _, j := range jobs {
		require.NoError(t, s.Queue().MarkDone(ctx, j.ID, ""))
	}
}

func pendingJobs(t *testing.T, s *store.Store) []store.Job {
	t.Helper()

	jobs, err := s.Queue().Pending(context.Background())
	require.NoError(t, err)

	return jobs
}

var march2025 = time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)

func TestGetOrCreate_CreatesZeroedRecord(t *testing.T) {
	t.Parallel()

	r, s := newTestReconciler(t)
	ctx := context.Background()

	alloc, err := r.GetOrCreateAllocation(ctx, "e1", march2025)
	require.NoError(t, err)
	require.NotEmpty(t, alloc.ID)
	assert.Equal(t, "e1", alloc.EnvelopeID)
	assert.Zero(t, alloc.Balance)
	assert.Zero(t, alloc.Allocated)
	assert.Zero(t, alloc.Spent)

	jobs := pendingJobs(t, s)
	require.Len(t, jobs, 1)
	assert.Equal(t, store.ActionCreate, jobs[0].Action)
	assert.Equal(t, entity.KindAllocation, jobs[0].Kind)
}

func TestGetOrCreate_SingleMatchIsNoOp(t *testing.T) {
	t.Parallel()

	r, s := newTestReconciler(t)
	ctx := context.Background()

	seeded := seedAllocation(t, s, &entity.MonthlyAllocation{
		UserID: "u1", EnvelopeID: "e1", Month: march2025,
		Balance: 30, Allocated: 30,
	})
	drainJobs(t, s)

	alloc, err := r.GetOrCreateAllocation(ctx, "e1", march2025)
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, alloc.ID)
	assert.Empty(t, pendingJobs(t, s), "single match must produce no jobs")
}

func TestGetOrCreate_MatchesByCalendarMonthNotTimestamp(t *testing.T) {
	t.Parallel()

	r, s := newTestReconciler(t)
	ctx := context.Background()

	// Stored with time-of-day drift; requested at a different instant of
	// the same calendar month.
	seeded := seedAllocation(t, s, &entity.MonthlyAllocation{
		UserID: "u1", EnvelopeID: "e1",
		Month:   time.Date(2025, time.March, 14, 17, 45, 12, 0, time.UTC),
		Balance: 10, Allocated: 10,
	})
	drainJobs(t, s)

	alloc, err := r.GetOrCreateAllocation(ctx, "e1",
		time.Date(2025, time.March, 2, 8, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, alloc.ID)

	// An adjacent month is a different window.
	other, err := r.GetOrCreateAllocation(ctx, "e1",
		time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.NotEqual(t, seeded.ID, other.ID)
}

func TestGetOrCreate_MergesTwoNonEmptyDuplicates(t *testing.T) {
	t.Parallel()

	r, s := newTestReconciler(t)
	ctx := context.Background()

	a1 := seedAllocation(t, s, &entity.MonthlyAllocation{
		UserID: "u1", EnvelopeID: "e1", Month: march2025,
		Balance: 50, Allocated: 50, Spent: 0, FundingAccountID: "acc-main",
	})
	a2 := seedAllocation(t, s, &entity.MonthlyAllocation{
		UserID: "u1", EnvelopeID: "e1", Month: march2025,
		Balance: 20, Allocated: 20, Spent: 0, FundingAccountID: "acc-side",
	})
	drainJobs(t, s)

	alloc, err := r.GetOrCreateAllocation(ctx, "e1", march2025)
	require.NoError(t, err)

	// Canonical is the oldest record; id preserved for external references.
	assert.Equal(t, a1.ID, alloc.ID)
	assert.InDelta(t, 70.0, alloc.Balance, 0.01)
	assert.InDelta(t, 70.0, alloc.Allocated, 0.01)
	assert.InDelta(t, 0.0, alloc.Spent, 0.01)

	// Funding source from the dominant contributor.
	assert.Equal(t, "acc-main", alloc.FundingAccountID)

	// Exactly one UPDATE (canonical) and one DELETE (the other record).
	jobs := pendingJobs(t, s)
	require.Len(t, jobs, 2)
	assert.Equal(t, store.ActionUpdate, jobs[0].Action)
	assert.Equal(t, store.ActionDelete, jobs[1].Action)
	assert.Contains(t, string(jobs[1].Payload), a2.ID)

	// One row remains locally.
	remaining, err := s.AllocationsByEnvelope(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, a1.ID, remaining[0].ID)
}

func TestGetOrCreate_MergeProperty(t *testing.T) {
	t.Parallel()

	r, s := newTestReconciler(t)
	ctx := context.Background()

	balances := []float64{12.5, 7.25, 30, 0.05}

	var want float64
	for i, b := range balances {
		seedAllocation(t, s, &entity.MonthlyAllocation{
			UserID: "u1", EnvelopeID: "e1", Month: march2025.Add(time.Duration(i) * time.Hour),
			Balance: b, Allocated: b,
		})
		want += b
	}
	drainJobs(t, s)

	alloc, err := r.GetOrCreateAllocation(ctx, "e1", march2025)
	require.NoError(t, err)
	assert.InDelta(t, want, alloc.Balance, 0.01)

	// N−1 DELETE jobs, one UPDATE.
	var deletes, updates int
	for _, j := range pendingJobs(t, s) {
		switch j.Action {
		case store.ActionDelete:
			deletes++
		case store.ActionUpdate:
			updates++
		}
	}

	assert.Equal(t, len(balances)-1, deletes)
	assert.Equal(t, 1, updates)

	remaining, err := s.AllocationsByEnvelope(ctx, "e1")
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestGetOrCreate_DropsEmptyDuplicatesWithoutArithmetic(t *testing.T) {
	t.Parallel()

	r, s := newTestReconciler(t)
	ctx := context.Background()

	kept := seedAllocation(t, s, &entity.MonthlyAllocation{
		UserID: "u1", EnvelopeID: "e1", Month: march2025,
		Balance: 40, Allocated: 40,
	})
	empty := seedAllocation(t, s, &entity.MonthlyAllocation{
		UserID: "u1", EnvelopeID: "e1", Month: march2025,
	})
	drainJobs(t, s)

	alloc, err := r.GetOrCreateAllocation(ctx, "e1", march2025)
	require.NoError(t, err)
	assert.Equal(t, kept.ID, alloc.ID)
	assert.InDelta(t, 40.0, alloc.Balance, 0.01)

	jobs := pendingJobs(t, s)
	require.Len(t, jobs, 1, "empty-duplicate cleanup needs no UPDATE")
	assert.Equal(t, store.ActionDelete, jobs[0].Action)
	assert.Contains(t, string(jobs[0].Payload), empty.ID)
}

func TestGetOrCreate_ClearsFundingWhenMergedBalanceZero(t *testing.T) {
	t.Parallel()

	r, s := newTestReconciler(t)
	ctx := context.Background()

	seedAllocation(t, s, &entity.MonthlyAllocation{
		UserID: "u1", EnvelopeID: "e1", Month: march2025,
		Balance: 25, Allocated: 25, FundingAccountID: "acc-1",
	})
	seedAllocation(t, s, &entity.MonthlyAllocation{
		UserID: "u1", EnvelopeID: "e1", Month: march2025,
		Balance: -25, Allocated: 10, FundingAccountID: "acc-2",
	})
	drainJobs(t, s)

	alloc, err := r.GetOrCreateAllocation(ctx, "e1", march2025)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, alloc.Balance, 0.01)
	assert.Empty(t, alloc.FundingAccountID, "zero merged balance clears the funding source")
}

func TestGetOrCreate_Idempotent(t *testing.T) {
	t.Parallel()

	r, s := newTestReconciler(t)
	ctx := context.Background()

	seedAllocation(t, s, &entity.MonthlyAllocation{
		UserID: "u1", EnvelopeID: "e1", Month: march2025,
		Balance: 50, Allocated: 50, FundingAccountID: "acc-1",
	})
	seedAllocation(t, s, &entity.MonthlyAllocation{
		UserID: "u1", EnvelopeID: "e1", Month: march2025,
		Balance: 20, Allocated: 20,
	})
	drainJobs(t, s)

	first, err := r.GetOrCreateAllocation(ctx, "e1", march2025)
	require.NoError(t, err)
	drainJobs(t, s)

	second, err := r.GetOrCreateAllocation(ctx, "e1", march2025)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.InDelta(t, first.Balance, second.Balance, 0.001)
	assert.Empty(t, pendingJobs(t, s), "re-running reconciliation must produce no new jobs")
}

func TestGetOrCreate_AllEmptyFallsBackToFirst(t *testing.T) {
	t.Parallel()

	r, s := newTestReconciler(t)
	ctx := context.Background()

	first := seedAllocation(t, s, &entity.MonthlyAllocation{
		UserID: "u1", EnvelopeID: "e1", Month: march2025,
	})
	seedAllocation(t, s, &entity.MonthlyAllocation{
		UserID: "u1", EnvelopeID: "e1", Month: march2025,
	})
	drainJobs(t, s)

	alloc, err := r.GetOrCreateAllocation(ctx, "e1", march2025)
	require.NoError(t, err)
	assert.Equal(t, first.ID, alloc.ID)
	assert.Empty(t, pendingJobs(t, s))
}
