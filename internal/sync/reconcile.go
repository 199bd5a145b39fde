package sync

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/enveloppeapp/enveloppe-go/internal/entity"
	"github.com/enveloppeapp/enveloppe-go/internal/store"
)

// balanceEpsilon is the zero-comparison threshold for monetary sums,
// consistent with how amounts are stored everywhere else in the system.
const balanceEpsilon = 0.01

// Reconciler collapses duplicate monthly allocation records created by
// concurrent get-or-create races. It repairs the race after the fact; it
// does not try to prevent it.
type Reconciler struct {
	store  *store.Store
	userID string
	logger *slog.Logger
}

// NewReconciler creates a Reconciler. userID owns any allocation records
// the reconciler has to create.
func NewReconciler(st *store.Store, userID string, logger *slog.Logger) *Reconciler {
	return &Reconciler{store: st, userID: userID, logger: logger}
}

// GetOrCreateAllocation returns the single canonical allocation for the
// envelope and the calendar month of the given time, creating a zeroed
// record when none exists and merging duplicates when several do. Every
// repair goes through the store's write paths, so it enqueues the matching
// sync jobs. Errors propagate: returning a partial merge would corrupt
// money tracking.
//
// Re-running on an already-reconciled envelope/month is a no-op that
// produces no new jobs.
func (r *Reconciler) GetOrCreateAllocation(
	ctx context.Context, envelopeID string, month time.Time,
) (*entity.MonthlyAllocation, error) {
	matches, err := r.loadMonth(ctx, envelopeID, month)
	if err != nil {
		return nil, err
	}

	if len(matches) == 0 {
		// Stale-read guard: re-filter the full set once more before
		// deciding the record really is missing.
		matches, err = r.loadMonth(ctx, envelopeID, month)
		if err != nil {
			return nil, err
		}

		if len(matches) == 0 {
			return r.createZeroed(ctx, envelopeID, month)
		}
	}

	if len(matches) == 1 {
		return matches[0], nil
	}

	return r.merge(ctx, envelopeID, month, matches)
}

// loadMonth loads all allocations for the envelope and filters them to the
// calendar year/month of the requested time. Stored values may carry
// time-of-day drift, so the comparison decomposes to year and month instead
// of comparing timestamps.
func (r *Reconciler) loadMonth(
	ctx context.Context, envelopeID string, month time.Time,
) ([]*entity.MonthlyAllocation, error) {
	all, err := r.store.AllocationsByEnvelope(ctx, envelopeID)
	if err != nil {
		return nil, err
	}

	wantYear, wantMonth, _ := month.UTC().Date()

	var matches []*entity.MonthlyAllocation

	for _, a := range all {
		y, m, _ := a.Month.UTC().Date()
		if y == wantYear && m == wantMonth {
			matches = append(matches, a)
		}
	}

	return matches, nil
}

// createZeroed persists a fresh zero-balance allocation (appending the
// CREATE job) and returns it.
func (r *Reconciler) createZeroed(
	ctx context.Context, envelopeID string, month time.Time,
) (*entity.MonthlyAllocation, error) {
	alloc := &entity.MonthlyAllocation{
		UserID:     r.userID,
		EnvelopeID: envelopeID,
		Month:      month.UTC(),
	}

	created, err := r.store.Create(ctx, alloc)
	if err != nil {
		return nil, fmt.Errorf("sync: creating allocation for envelope %s: %w", envelopeID, err)
	}

	r.logger.Debug("allocation created",
		slog.String("envelope_id", envelopeID),
		slog.String("month", month.UTC().Format("2006-01")),
	)

	return created.(*entity.MonthlyAllocation), nil
}

// merge collapses a duplicate set into one canonical record.
func (r *Reconciler) merge(
	ctx context.Context, envelopeID string, month time.Time,
	matches []*entity.MonthlyAllocation,
) (*entity.MonthlyAllocation, error) {
	var nonEmpty, empty []*entity.MonthlyAllocation

	for _, a := range matches {
		if math.Abs(a.Allocated) < balanceEpsilon && math.Abs(a.Balance) < balanceEpsilon {
			empty = append(empty, a)
		} else {
			nonEmpty = append(nonEmpty, a)
		}
	}

	// One real record plus empties: drop the empties, no arithmetic needed.
	if len(nonEmpty) == 1 && len(empty) > 0 {
		if err := r.deleteAll(ctx, empty); err != nil {
			return nil, err
		}

		return nonEmpty[0], nil
	}

	if len(nonEmpty) > 1 {
		return r.mergeNonEmpty(ctx, envelopeID, month, nonEmpty, empty)
	}

	// Degenerate: should not occur given the cases above.
	r.logger.Warn("allocation merge fell through to degenerate case",
		slog.String("envelope_id", envelopeID),
		slog.Int("matches", len(matches)),
	)

	return matches[0], nil
}

// mergeNonEmpty sums the contributing records into the oldest one. The
// canonical record keeps its id so external references (transactions
// pointing at an allocation) stay valid.
func (r *Reconciler) mergeNonEmpty(
	ctx context.Context, envelopeID string, month time.Time,
	nonEmpty, empty []*entity.MonthlyAllocation,
) (*entity.MonthlyAllocation, error) {
	var balance, allocated, spent float64

	// Funding source follows the dominant contributor: the record with the
	// largest positive balance.
	var (
		funding     string
		bestBalance float64
	)

	for _, a := range nonEmpty {
		balance += a.Balance
		allocated += a.Allocated
		spent += a.Spent

		if a.Balance > bestBalance {
			bestBalance = a.Balance
			funding = a.FundingAccountID
		}
	}

	if math.Abs(balance) < balanceEpsilon {
		funding = ""
	}

	canonical := nonEmpty[0]
	canonical.Balance = balance
	canonical.Allocated = allocated
	canonical.Spent = spent
	canonical.FundingAccountID = funding

	if err := r.store.Update(ctx, canonical); err != nil {
		return nil, fmt.Errorf("sync: persisting merged allocation %s: %w", canonical.ID, err)
	}

	if err := r.deleteAll(ctx, nonEmpty[1:]); err != nil {
		return nil, err
	}

	if err := r.deleteAll(ctx, empty); err != nil {
		return nil, err
	}

	r.logger.Info("duplicate allocations merged",
		slog.String("envelope_id", envelopeID),
		slog.String("month", month.UTC().Format("2006-01")),
		slog.String("canonical_id", canonical.ID),
		slog.Int("merged", len(nonEmpty)),
		slog.Int("dropped_empty", len(empty)),
	)

	return canonical, nil
}

// deleteAll removes each record through the store, appending one DELETE job
// per deletion.
func (r *Reconciler) deleteAll(ctx context.Context, allocs []*entity.MonthlyAllocation) error {
	for _, a := range allocs {
		if err := r.store.Delete(ctx, entity.KindAllocation, a.ID); err != nil {
			return fmt.Errorf("sync: deleting duplicate allocation %s: %w", a.ID, err)
		}
	}

	return nil
}
