package sync

import (
	"context"
	"log/slog"
	stdsync "sync"

	"github.com/enveloppeapp/enveloppe-go/internal/cache"
	"github.com/enveloppeapp/enveloppe-go/internal/entity"
	"github.com/enveloppeapp/enveloppe-go/internal/store"
)

// Service wires the store, cache guard, drain worker, and connectivity
// monitor into one explicitly constructed unit with a start/stop lifecycle.
// Nothing here is a package-level singleton; callers inject every
// collaborator.
type Service struct {
	Store      *store.Store
	Guard      *cache.Guard
	Worker     *Worker
	Reconciler *Reconciler
	Monitor    *Monitor

	logger *slog.Logger
	cancel context.CancelFunc
	wg     stdsync.WaitGroup
}

// mutationNotifier fans one committed mutation out to both consumers: the
// cache guard stamps its modification registry, and the drain worker gets a
// kick so the new job propagates right away instead of waiting for the next
// connectivity event or resync tick. Implements store.Notifier.
type mutationNotifier struct {
	guard  *cache.Guard
	worker *Worker
}

func (n *mutationNotifier) NotifyModification(kind entity.Kind) {
	n.guard.NotifyModification(kind)
	n.worker.Kick()
}

// NewService assembles the engine. The mutation notifier is attached to the
// store so every committed mutation — including the reconciler's repair
// writes — stamps the cache registry and triggers a drain.
func NewService(
	st *store.Store, guard *cache.Guard, worker *Worker,
	reconciler *Reconciler, monitor *Monitor, logger *slog.Logger,
) *Service {
	st.SetNotifier(&mutationNotifier{guard: guard, worker: worker})

	return &Service{
		Store:      st,
		Guard:      guard,
		Worker:     worker,
		Reconciler: reconciler,
		Monitor:    monitor,
		logger:     logger,
	}
}

// Start launches the background drain loop and the connectivity monitor.
// All background work runs off the caller's goroutine; mutation calls only
// ever block on local persistence.
func (s *Service) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.Worker.Start(ctx)

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		if err := s.Monitor.Run(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("connectivity monitor stopped",
				slog.String("error", err.Error()),
			)
		}
	}()

	// One explicit trigger at startup: anything queued while the process
	// was down drains as soon as the remote is reachable.
	s.Worker.Kick()

	s.logger.Info("sync service started")
}

// Stop cancels background work and waits for it to exit. The store stays
// open; the caller closes it last.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}

	s.Worker.Wait()
	s.wg.Wait()
	s.logger.Info("sync service stopped")
}
