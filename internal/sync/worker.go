// Package sync contains the propagation side of the engine: the drain
// worker that pushes queued mutations to the remote collections, the
// reconciler that repairs duplicate monthly allocations, and the
// connectivity monitor that triggers drains when the network comes back.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	stdsync "sync"

	"github.com/enveloppeapp/enveloppe-go/internal/entity"
	"github.com/enveloppeapp/enveloppe-go/internal/remote"
	"github.com/enveloppeapp/enveloppe-go/internal/store"
)

// RecordPusher is the slice of the remote client the worker needs. Defined
// at the consumer; satisfied by *remote.Client.
type RecordPusher interface {
	Create(ctx context.Context, collection string, payload []byte) (string, error)
	Update(ctx context.Context, collection, id string, payload []byte) error
	Delete(ctx context.Context, collection, id string) error
}

// DrainStats summarizes one drain pass.
type DrainStats struct {
	Done     int // jobs submitted and marked done
	Failed   int // transient failures, retried on the next trigger
	Rejected int // remote validation rejections, stuck until investigated
	Skipped  int // jobs held back to preserve per-entity ordering
}

// Worker drains the sync job queue against the remote service. Exactly one
// drain pass runs at a time per process; overlapping triggers coalesce into
// a single re-scan after the in-flight pass completes.
type Worker struct {
	queue  *store.Queue
	pusher RecordPusher
	logger *slog.Logger

	// drainMu serializes passes across Kick-driven and DrainOnce callers.
	drainMu stdsync.Mutex

	// kick has capacity 1: a trigger during a pass parks here and the run
	// loop re-scans once the pass finishes. Further triggers are dropped
	// because one re-scan already covers them.
	kick chan struct{}

	wg stdsync.WaitGroup
}

// NewWorker creates a Worker. Call Start for the background drain loop or
// DrainOnce for a single synchronous pass.
func NewWorker(queue *store.Queue, pusher RecordPusher, logger *slog.Logger) *Worker {
	return &Worker{
		queue:  queue,
		pusher: pusher,
		logger: logger,
		kick:   make(chan struct{}, 1),
	}
}

// Kick requests a drain pass. Never blocks: if a pass is already pending or
// running, the request coalesces with it.
func (w *Worker) Kick() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// Start launches the background drain loop. The loop exits when ctx is
// canceled; Wait blocks until it has.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)

	go func() {
		defer w.wg.Done()

		for {
			select {
			case <-ctx.Done():
				return
			case <-w.kick:
				stats, err := w.DrainOnce(ctx)
				if err != nil && !errors.Is(err, context.Canceled) {
					w.logger.Error("drain pass failed", slog.String("error", err.Error()))

					continue
				}

				if stats.Done+stats.Failed+stats.Rejected > 0 {
					w.logger.Info("drain pass finished",
						slog.Int("done", stats.Done),
						slog.Int("failed", stats.Failed),
						slog.Int("rejected", stats.Rejected),
						slog.Int("skipped", stats.Skipped),
					)
				}
			}
		}
	}()
}

// Wait blocks until the background loop has exited.
func (w *Worker) Wait() {
	w.wg.Wait()
}

// DrainOnce runs one full drain pass: all pending jobs in creation order.
// A failing job stays pending and does not block unrelated jobs, but every
// later job for the same record is skipped so per-entity ordering survives
// across passes.
func (w *Worker) DrainOnce(ctx context.Context) (DrainStats, error) {
	w.drainMu.Lock()
	defer w.drainMu.Unlock()

	var stats DrainStats

	jobs, err := w.queue.Pending(ctx)
	if err != nil {
		return stats, err
	}

	// Records whose earlier job failed in this pass.
	blocked := make(map[string]bool)

	// Kinds with an unreadable payload earlier in this pass. The record id
	// is unknowable there, so every later job of the kind is held back
	// rather than risk submitting out of order for the affected record.
	blockedKinds := make(map[entity.Kind]bool)

	for i := range jobs {
		job := &jobs[i]

		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("sync: drain canceled: %w", err)
		}

		if blockedKinds[job.Kind] {
			stats.Skipped++

			continue
		}

		recordID, idErr := payloadID(job.Payload)
		if idErr != nil {
			// A malformed payload can never be submitted; treat like a
			// rejection so it shows up in diagnostics.
			stats.Rejected++
			blockedKinds[job.Kind] = true
			w.logger.Error("job payload unreadable",
				slog.Int64("job_id", job.ID),
				slog.String("kind", job.Kind.String()),
				slog.String("error", idErr.Error()),
			)

			continue
		}

		key := job.Kind.String() + "/" + recordID
		if blocked[key] {
			stats.Skipped++

			continue
		}

		if err := w.drainOne(ctx, job, recordID); err != nil {
			blocked[key] = true

			if errors.Is(err, remote.ErrRejected) {
				stats.Rejected++
				w.logger.Error("remote rejected job; it will stay pending",
					slog.Int64("job_id", job.ID),
					slog.String("kind", job.Kind.String()),
					slog.String("action", string(job.Action)),
					slog.String("record_id", recordID),
					slog.String("error", err.Error()),
				)
			} else {
				stats.Failed++
				w.logger.Warn("job failed; will retry on next trigger",
					slog.Int64("job_id", job.ID),
					slog.String("kind", job.Kind.String()),
					slog.String("error", err.Error()),
				)
			}

			continue
		}

		stats.Done++
	}

	return stats, nil
}

// drainOne routes a single job to the remote collection and marks it done.
// A CREATE retried after a lost acknowledgement can duplicate the remote
// record; the reconciler repairs the one case where that corrupts local
// state (monthly allocations), the rest is a known gap.
func (w *Worker) drainOne(ctx context.Context, job *store.Job, recordID string) error {
	collection := job.Kind.Collection()

	var (
		remoteID string
		err      error
	)

	switch job.Action {
	case store.ActionCreate:
		remoteID, err = w.pusher.Create(ctx, collection, job.Payload)
	case store.ActionUpdate:
		err = w.pusher.Update(ctx, collection, recordID, job.Payload)
	case store.ActionDelete:
		err = w.pusher.Delete(ctx, collection, recordID)
	default:
		return fmt.Errorf("sync: unknown job action %q", job.Action)
	}

	if err != nil {
		return err
	}

	if err := w.queue.MarkDone(ctx, job.ID, remoteID); err != nil {
		return err
	}

	return nil
}

// payloadID extracts the record id from a job payload. Every payload — full
// snapshot or the minimal DELETE body — carries the id field.
func payloadID(payload []byte) (string, error) {
	var holder struct {
		ID string `json:"id"`
	}

	if err := json.Unmarshal(payload, &holder); err != nil {
		return "", fmt.Errorf("sync: parsing job payload: %w", err)
	}

	if holder.ID == "" {
		return "", errors.New("sync: job payload has no id")
	}

	return holder.ID, nil
}
