package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/enveloppeapp/enveloppe-go/internal/entity"
)

// ErrNotFound is returned by single-record reads when no row matches.
var ErrNotFound = errors.New("store: record not found")

// AllocationsByEnvelope returns every allocation record for an envelope in
// insertion order (oldest first). The reconciler relies on this order to
// pick the canonical record of a duplicate set.
func (s *Store) AllocationsByEnvelope(ctx context.Context, envelopeID string) ([]*entity.MonthlyAllocation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, envelope_id, month, balance, allocated, spent, funding_account_id
		 FROM monthly_allocations WHERE envelope_id = ? ORDER BY rowid`, envelopeID)
	if err != nil {
		return nil, fmt.Errorf("store: loading allocations for envelope %s: %w", envelopeID, err)
	}
	defer rows.Close()

	var allocs []*entity.MonthlyAllocation

	for rows.Next() {
		a, scanErr := scanAllocation(rows)
		if scanErr != nil {
			return nil, scanErr
		}

		allocs = append(allocs, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating allocations: %w", err)
	}

	return allocs, nil
}

// GetAllocation returns a single allocation by id.
func (s *Store) GetAllocation(ctx context.Context, id string) (*entity.MonthlyAllocation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, envelope_id, month, balance, allocated, spent, funding_account_id
		 FROM monthly_allocations WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("store: loading allocation %s: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("store: loading allocation %s: %w", id, err)
		}

		return nil, ErrNotFound
	}

	return scanAllocation(rows)
}

func scanAllocation(rows *sql.Rows) (*entity.MonthlyAllocation, error) {
	var (
		a       entity.MonthlyAllocation
		month   int64
		funding sql.NullString
	)

	err := rows.Scan(&a.ID, &a.UserID, &a.EnvelopeID, &month,
		&a.Balance, &a.Allocated, &a.Spent, &funding)
	if err != nil {
		return nil, fmt.Errorf("store: scanning allocation row: %w", err)
	}

	a.Month = time.Unix(month, 0).UTC()
	a.FundingAccountID = funding.String

	return &a, nil
}

// ListAccounts returns all accounts.
func (s *Store) ListAccounts(ctx context.Context) ([]*entity.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, type, archived FROM accounts ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("store: listing accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*entity.Account

	for rows.Next() {
		var (
			a        entity.Account
			archived int
		)

		if err := rows.Scan(&a.ID, &a.UserID, &a.Name, &a.Type, &archived); err != nil {
			return nil, fmt.Errorf("store: scanning account row: %w", err)
		}

		a.Archived = archived != 0
		accounts = append(accounts, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating accounts: %w", err)
	}

	return accounts, nil
}

// ListEnvelopes returns all envelopes.
func (s *Store) ListEnvelopes(ctx context.Context) ([]*entity.Envelope, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, icon, archived FROM envelopes ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("store: listing envelopes: %w", err)
	}
	defer rows.Close()

	var envelopes []*entity.Envelope

	for rows.Next() {
		var (
			e        entity.Envelope
			icon     sql.NullString
			archived int
		)

		if err := rows.Scan(&e.ID, &e.UserID, &e.Name, &icon, &archived); err != nil {
			return nil, fmt.Errorf("store: scanning envelope row: %w", err)
		}

		e.Icon = icon.String
		e.Archived = archived != 0
		envelopes = append(envelopes, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating envelopes: %w", err)
	}

	return envelopes, nil
}

// GetTransaction returns a single transaction by id.
func (s *Store) GetTransaction(ctx context.Context, id string) (*entity.Transaction, error) {
	var (
		t          entity.Transaction
		envelope   sql.NullString
		allocation sql.NullString
		thirdParty sql.NullString
		note       sql.NullString
		occurredAt int64
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, account_id, envelope_id, allocation_id, third_party_id,
		        amount, occurred_at, note
		 FROM transactions WHERE id = ?`, id).
		Scan(&t.ID, &t.UserID, &t.AccountID, &envelope, &allocation, &thirdParty,
			&t.Amount, &occurredAt, &note)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("store: loading transaction %s: %w", id, err)
	}

	t.EnvelopeID = envelope.String
	t.AllocationID = allocation.String
	t.ThirdPartyID = thirdParty.String
	t.Note = note.String
	t.OccurredAt = time.Unix(occurredAt, 0).UTC()

	return &t, nil
}

// ListLoans returns all loans.
func (s *Store) ListLoans(ctx context.Context) ([]*entity.Loan, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, principal, rate, start_at FROM loans ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("store: listing loans: %w", err)
	}
	defer rows.Close()

	var loans []*entity.Loan

	for rows.Next() {
		var (
			l       entity.Loan
			startAt int64
		)

		if err := rows.Scan(&l.ID, &l.UserID, &l.Name, &l.Principal, &l.Rate, &startAt); err != nil {
			return nil, fmt.Errorf("store: scanning loan row: %w", err)
		}

		l.StartAt = time.Unix(startAt, 0).UTC()
		loans = append(loans, &l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating loans: %w", err)
	}

	return loans, nil
}

// ListCategories returns all categories.
func (s *Store) ListCategories(ctx context.Context) ([]*entity.Category, error) {
	return listNamed(ctx, s.db, `SELECT id, user_id, name FROM categories ORDER BY name`,
		func(id, userID, name string) *entity.Category {
			return &entity.Category{ID: id, UserID: userID, Name: name}
		})
}

// ListThirdParties returns all third parties.
func (s *Store) ListThirdParties(ctx context.Context) ([]*entity.ThirdParty, error) {
	return listNamed(ctx, s.db, `SELECT id, user_id, name FROM third_parties ORDER BY name`,
		func(id, userID, name string) *entity.ThirdParty {
			return &entity.ThirdParty{ID: id, UserID: userID, Name: name}
		})
}

// listNamed scans the (id, user_id, name) tables shared by categories and
// third parties.
func listNamed[T any](ctx context.Context, db *sql.DB, query string, build func(id, userID, name string) *T) ([]*T, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: listing named records: %w", err)
	}
	defer rows.Close()

	var out []*T

	for rows.Next() {
		var id, userID, name string

		if err := rows.Scan(&id, &userID, &name); err != nil {
			return nil, fmt.Errorf("store: scanning named row: %w", err)
		}

		out = append(out, build(id, userID, name))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating named rows: %w", err)
	}

	return out, nil
}
