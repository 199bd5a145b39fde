package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/enveloppeapp/enveloppe-go/internal/entity"
)

// Action is the kind of mutation a sync job propagates.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// Job status constants for the sync_jobs.status column.
const (
	jobStatusPending = "pending"
	jobStatusDone    = "done"
)

// Job is one pending propagation of a local mutation to the remote service.
// Jobs are appended by the store's write paths (inside the mutation
// transaction), consumed and marked done by the sync worker, and never
// mutated otherwise.
type Job struct {
	ID        int64
	Kind      entity.Kind
	Action    Action
	Payload   []byte // serialized entity snapshot
	RemoteID  string // remote record id, set on completion of a CREATE
	CreatedAt time.Time
	Status    string
}

// Queue is the durable FIFO of sync jobs. Global insertion order is the
// drain order; per-entity ordering follows from the single local writer
// appending jobs in causal order.
type Queue struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time
}

// NewQueue wraps an existing database. Used by tests; production code gets
// the queue from Store.Queue().
func NewQueue(db *sql.DB, logger *slog.Logger) *Queue {
	return &Queue{db: db, logger: logger, nowFunc: time.Now}
}

// appendTx inserts one pending job inside the caller's transaction so the
// entity write and the job append commit or roll back together.
func (q *Queue) appendTx(
	ctx context.Context, tx *sql.Tx, kind entity.Kind, action Action,
	payload []byte, createdAt time.Time,
) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO sync_jobs (entity_type, action, data_json, created_at, status)
		 VALUES (?, ?, ?, ?, '`+jobStatusPending+`')`,
		kind.String(), string(action), string(payload), createdAt.UnixNano())
	if err != nil {
		return fmt.Errorf("store: appending %s job for %s: %w", action, kind, err)
	}

	return nil
}

// Append enqueues one pending job in its own transaction. The store's write
// paths append inside their mutation transaction via appendTx; Append exists
// for callers that need a raw job without a local write (repair tooling,
// tests).
func (q *Queue) Append(ctx context.Context, kind entity.Kind, action Action, payload []byte) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: appending %s job for %s: begin: %w", action, kind, err)
	}
	defer tx.Rollback()

	if err := q.appendTx(ctx, tx, kind, action, payload, q.nowFunc()); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: appending %s job for %s: commit: %w", action, kind, err)
	}

	return nil
}

// Pending returns all pending jobs in creation (insertion) order.
func (q *Queue) Pending(ctx context.Context) ([]Job, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, entity_type, action, data_json, record_id, created_at, status
		 FROM sync_jobs WHERE status = '`+jobStatusPending+`' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: loading pending jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job

	for rows.Next() {
		j, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, scanErr
		}

		jobs = append(jobs, *j)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating pending jobs: %w", err)
	}

	return jobs, nil
}

// MarkDone transitions a job from pending to done, recording the remote
// record id when the remote returned one (CREATE).
func (q *Queue) MarkDone(ctx context.Context, id int64, remoteID string) error {
	result, err := q.db.ExecContext(ctx,
		`UPDATE sync_jobs SET status = '`+jobStatusDone+`', record_id = ?
		 WHERE id = ? AND status = '`+jobStatusPending+`'`,
		nullString(remoteID), id)
	if err != nil {
		return fmt.Errorf("store: marking job %d done: %w", id, err)
	}

	rows, rowsErr := result.RowsAffected()
	if rowsErr != nil {
		return fmt.Errorf("store: marking job %d done: rows affected: %w", id, rowsErr)
	}

	if rows == 0 {
		return fmt.Errorf("store: marking job %d done: job not %s", id, jobStatusPending)
	}

	return nil
}

// CountPending returns the number of pending jobs.
func (q *Queue) CountPending(ctx context.Context) (int, error) {
	var count int

	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_jobs WHERE status = '`+jobStatusPending+`'`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("store: counting pending jobs: %w", err)
	}

	return count, nil
}

// CountPendingByKind returns pending job counts per entity kind.
func (q *Queue) CountPendingByKind(ctx context.Context) (map[entity.Kind]int, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT entity_type, COUNT(*) FROM sync_jobs
		 WHERE status = '`+jobStatusPending+`' GROUP BY entity_type`)
	if err != nil {
		return nil, fmt.Errorf("store: counting pending jobs by kind: %w", err)
	}
	defer rows.Close()

	counts := make(map[entity.Kind]int)

	for rows.Next() {
		var (
			kindStr string
			n       int
		)

		if err := rows.Scan(&kindStr, &n); err != nil {
			return nil, fmt.Errorf("store: scanning pending count: %w", err)
		}

		kind, parseErr := entity.ParseKind(kindStr)
		if parseErr != nil {
			return nil, parseErr
		}

		counts[kind] = n
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating pending counts: %w", err)
	}

	return counts, nil
}

// OldestPendingAge returns how long the oldest pending job has been waiting,
// or zero if the queue is drained. A large age indicates jobs the remote
// keeps rejecting (they are never deleted automatically).
func (q *Queue) OldestPendingAge(ctx context.Context) (time.Duration, error) {
	var createdAt sql.NullInt64

	err := q.db.QueryRowContext(ctx,
		`SELECT MIN(created_at) FROM sync_jobs WHERE status = '`+jobStatusPending+`'`).
		Scan(&createdAt)
	if err != nil {
		return 0, fmt.Errorf("store: oldest pending job: %w", err)
	}

	if !createdAt.Valid {
		return 0, nil
	}

	return q.nowFunc().Sub(time.Unix(0, createdAt.Int64)), nil
}

// scanJob scans a single sync_jobs row.
func scanJob(rows *sql.Rows) (*Job, error) {
	var (
		j         Job
		kindStr   string
		actionStr string
		payload   string
		remoteID  sql.NullString
		createdAt int64
	)

	err := rows.Scan(&j.ID, &kindStr, &actionStr, &payload, &remoteID, &createdAt, &j.Status)
	if err != nil {
		return nil, fmt.Errorf("store: scanning job row: %w", err)
	}

	kind, err := entity.ParseKind(kindStr)
	if err != nil {
		return nil, err
	}

	j.Kind = kind
	j.Action = Action(actionStr)
	j.Payload = []byte(payload)
	j.RemoteID = remoteID.String
	j.CreatedAt = time.Unix(0, createdAt)

	return &j, nil
}
