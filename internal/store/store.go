// Package store is the durable local side of the sync engine: one SQLite
// table per entity kind, the write-ahead sync job queue, and the durable
// cache tier. The local store is authoritative for reads; every accepted
// mutation appends exactly one sync job in the same transaction before the
// call returns.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"golang.org/x/text/unicode/norm"

	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"

	"github.com/enveloppeapp/enveloppe-go/internal/entity"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Notifier receives a callback after every committed mutation. The cache
// guard implements it to stamp its modification registry.
type Notifier interface {
	NotifyModification(kind entity.Kind)
}

// noopNotifier is used when no cache guard is attached.
type noopNotifier struct{}

func (noopNotifier) NotifyModification(entity.Kind) {}

// Store is the sole writer to the local database. It shares its *sql.DB
// with the Queue (same file, single connection).
type Store struct {
	db       *sql.DB
	queue    *Queue
	notifier Notifier
	logger   *slog.Logger
	nowFunc  func() time.Time // injectable for deterministic tests
}

// Open opens the SQLite database at dbPath, runs migrations, and returns a
// ready-to-use store. The database uses WAL mode with synchronous=FULL for
// crash-safe durability.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening database %s: %w", dbPath, err)
	}

	// Sole-writer pattern: only one connection writes at a time.
	db.SetMaxOpenConns(1)

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("local store opened", slog.String("db_path", dbPath))

	s := &Store{
		db:       db,
		notifier: noopNotifier{},
		logger:   logger,
		nowFunc:  time.Now,
	}
	s.queue = &Queue{db: db, logger: logger, nowFunc: time.Now}

	return s, nil
}

// runMigrations applies all pending schema migrations using the goose v3
// Provider API (no global state, context-aware).
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("store: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("store: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("store: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Queue returns the sync job queue sharing this store's database.
func (s *Store) Queue() *Queue {
	return s.queue
}

// SetNotifier attaches a mutation notifier (typically the cache guard).
func (s *Store) SetNotifier(n Notifier) {
	if n != nil {
		s.notifier = n
	}
}

// Create assigns an id if the record has none, persists the row, and appends
// a CREATE sync job carrying the persisted snapshot — all in one transaction.
// Returns the persisted record.
func (s *Store) Create(ctx context.Context, rec entity.Record) (entity.Record, error) {
	if rec.EntityID() == "" {
		rec.SetEntityID(uuid.NewString())
	}

	normalizeRecord(rec)

	if err := s.mutate(ctx, rec.EntityKind(), ActionCreate, rec); err != nil {
		return nil, err
	}

	return rec, nil
}

// Update persists the new snapshot and appends an UPDATE job.
func (s *Store) Update(ctx context.Context, rec entity.Record) error {
	if rec.EntityID() == "" {
		return fmt.Errorf("store: update %s: missing id", rec.EntityKind())
	}

	normalizeRecord(rec)

	return s.mutate(ctx, rec.EntityKind(), ActionUpdate, rec)
}

// Delete removes the row and appends a DELETE job carrying the id. Deleting
// a missing row is accepted (idempotent) and still enqueues, so a local
// delete always reaches the remote mirror.
func (s *Store) Delete(ctx context.Context, kind entity.Kind, id string) error {
	if id == "" {
		return fmt.Errorf("store: delete %s: missing id", kind)
	}

	payload := []byte(fmt.Sprintf(`{"id":%q}`, id))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: delete %s %s: begin: %w", kind, id, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, deleteSQL(kind), id); err != nil {
		return fmt.Errorf("store: delete %s %s: %w", kind, id, err)
	}

	if err := s.queue.appendTx(ctx, tx, kind, ActionDelete, payload, s.nowFunc()); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: delete %s %s: commit: %w", kind, id, err)
	}

	s.logger.Debug("entity deleted",
		slog.String("kind", kind.String()),
		slog.String("id", id),
	)
	s.notifier.NotifyModification(kind)

	return nil
}

// mutate runs the shared upsert-plus-job transaction for Create and Update.
// The local write and the job append are atomic: if either fails, neither is
// visible and the error is fatal to the caller.
func (s *Store) mutate(ctx context.Context, kind entity.Kind, action Action, rec entity.Record) error {
	snapshot, err := entity.Marshal(rec)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: %s %s: begin: %w", action, kind, err)
	}
	defer tx.Rollback()

	query, args, err := upsertSQL(rec)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("store: %s %s %s: %w", action, kind, rec.EntityID(), err)
	}

	if err := s.queue.appendTx(ctx, tx, kind, action, snapshot, s.nowFunc()); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: %s %s %s: commit: %w", action, kind, rec.EntityID(), err)
	}

	s.logger.Debug("entity persisted",
		slog.String("kind", kind.String()),
		slog.String("action", string(action)),
		slog.String("id", rec.EntityID()),
	)
	s.notifier.NotifyModification(kind)

	return nil
}

// normalizeRecord applies NFC normalization to free-text names so that
// payee dedup and display are byte-stable across input methods.
func normalizeRecord(rec entity.Record) {
	switch r := rec.(type) {
	case *entity.ThirdParty:
		r.Name = norm.NFC.String(r.Name)
	case *entity.Category:
		r.Name = norm.NFC.String(r.Name)
	default:
	}
}

// upsertSQL returns the INSERT .. ON CONFLICT statement and arguments for a
// record. The switch is exhaustive over all entity kinds; an unhandled kind
// is a programming error surfaced as an explicit error, never a silent drop.
func upsertSQL(rec entity.Record) (string, []any, error) {
	switch r := rec.(type) {
	case *entity.Account:
		return `INSERT INTO accounts (id, user_id, name, type, archived)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
			 user_id = excluded.user_id, name = excluded.name,
			 type = excluded.type, archived = excluded.archived`,
			[]any{r.ID, r.UserID, r.Name, r.Type, boolInt(r.Archived)}, nil
	case *entity.Envelope:
		return `INSERT INTO envelopes (id, user_id, name, icon, archived)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
			 user_id = excluded.user_id, name = excluded.name,
			 icon = excluded.icon, archived = excluded.archived`,
			[]any{r.ID, r.UserID, r.Name, nullString(r.Icon), boolInt(r.Archived)}, nil
	case *entity.MonthlyAllocation:
		return `INSERT INTO monthly_allocations
			(id, user_id, envelope_id, month, balance, allocated, spent, funding_account_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
			 user_id = excluded.user_id, envelope_id = excluded.envelope_id,
			 month = excluded.month, balance = excluded.balance,
			 allocated = excluded.allocated, spent = excluded.spent,
			 funding_account_id = excluded.funding_account_id`,
			[]any{
				r.ID, r.UserID, r.EnvelopeID, r.Month.Unix(),
				r.Balance, r.Allocated, r.Spent, nullString(r.FundingAccountID),
			}, nil
	case *entity.Transaction:
		return `INSERT INTO transactions
			(id, user_id, account_id, envelope_id, allocation_id, third_party_id,
			 amount, occurred_at, note)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
			 user_id = excluded.user_id, account_id = excluded.account_id,
			 envelope_id = excluded.envelope_id, allocation_id = excluded.allocation_id,
			 third_party_id = excluded.third_party_id, amount = excluded.amount,
			 occurred_at = excluded.occurred_at, note = excluded.note`,
			[]any{
				r.ID, r.UserID, r.AccountID, nullString(r.EnvelopeID),
				nullString(r.AllocationID), nullString(r.ThirdPartyID),
				r.Amount, r.OccurredAt.Unix(), nullString(r.Note),
			}, nil
	case *entity.Category:
		return `INSERT INTO categories (id, user_id, name)
			VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
			 user_id = excluded.user_id, name = excluded.name`,
			[]any{r.ID, r.UserID, r.Name}, nil
	case *entity.ThirdParty:
		return `INSERT INTO third_parties (id, user_id, name)
			VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
			 user_id = excluded.user_id, name = excluded.name`,
			[]any{r.ID, r.UserID, r.Name}, nil
	case *entity.Loan:
		return `INSERT INTO loans (id, user_id, name, principal, rate, start_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
			 user_id = excluded.user_id, name = excluded.name,
			 principal = excluded.principal, rate = excluded.rate,
			 start_at = excluded.start_at`,
			[]any{r.ID, r.UserID, r.Name, r.Principal, r.Rate, r.StartAt.Unix()}, nil
	default:
		return "", nil, fmt.Errorf("store: no table mapping for kind %q", rec.EntityKind())
	}
}

// deleteSQL returns the DELETE statement for a kind (exhaustive).
func deleteSQL(kind entity.Kind) string {
	switch kind {
	case entity.KindAccount:
		return `DELETE FROM accounts WHERE id = ?`
	case entity.KindEnvelope:
		return `DELETE FROM envelopes WHERE id = ?`
	case entity.KindAllocation:
		return `DELETE FROM monthly_allocations WHERE id = ?`
	case entity.KindTransaction:
		return `DELETE FROM transactions WHERE id = ?`
	case entity.KindCategory:
		return `DELETE FROM categories WHERE id = ?`
	case entity.KindThirdParty:
		return `DELETE FROM third_parties WHERE id = ?`
	case entity.KindLoan:
		return `DELETE FROM loans WHERE id = ?`
	default:
		return ""
	}
}

// Wipe deletes all local data, table by table, honoring context
// cancellation between tables. Intended for the user-invoked full reset.
func (s *Store) Wipe(ctx context.Context) error {
	tables := []string{
		"transactions", "monthly_allocations", "loans", "envelopes",
		"accounts", "categories", "third_parties", "sync_jobs", "cache_entries",
	}

	for _, table := range tables {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("store: wipe canceled: %w", err)
		}

		if _, err := s.db.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("store: wiping %s: %w", table, err)
		}
	}

	s.logger.Warn("local data wiped", slog.Int("tables", len(tables)))

	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}

	return 0
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}

	return sql.NullString{String: s, Valid: true}
}
