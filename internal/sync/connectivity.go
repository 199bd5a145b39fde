package sync

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"
)

// Connectivity timing defaults.
const (
	defaultPollInterval   = 30 * time.Second
	defaultSettleDelay    = 2 * time.Second
	defaultResyncInterval = 5 * time.Minute
	wsRetryBackoff        = 15 * time.Second
)

// Prober checks transport-level reachability of the remote service.
// Satisfied by *remote.Client.
type Prober interface {
	Reachable(ctx context.Context) bool
}

// Kicker triggers a drain pass. Satisfied by *Worker.
type Kicker interface {
	Kick()
}

// MonitorConfig holds the options for NewMonitor. Zero durations fall back
// to the defaults above.
type MonitorConfig struct {
	Prober         Prober
	Worker         Kicker
	Logger         *slog.Logger
	PollInterval   time.Duration
	SettleDelay    time.Duration
	ResyncInterval time.Duration

	// PushURL, when set, opens a websocket to the remote as a push-based
	// reachability hint: a live connection means online, a dropped one
	// re-arms offline detection ahead of the next poll.
	PushURL string
}

// Monitor observes reachability and triggers the worker. On a transition
// from unreachable to reachable it waits a settle delay, re-verifies, then
// triggers one drain; while online a standing ticker re-syncs periodically.
type Monitor struct {
	prober    Prober
	worker    Kicker
	logger    *slog.Logger
	poll      time.Duration
	settle    time.Duration
	resync    time.Duration
	pushURL   string
	sleepFunc func(ctx context.Context, d time.Duration) error

	// wasOffline starts true so the first successful probe triggers an
	// initial drain. Reset to true on any loss of reachability.
	wasOffline atomic.Bool
}

// NewMonitor creates a Monitor from the config.
func NewMonitor(cfg MonitorConfig) *Monitor {
	m := &Monitor{
		prober:    cfg.Prober,
		worker:    cfg.Worker,
		logger:    cfg.Logger,
		poll:      cfg.PollInterval,
		settle:    cfg.SettleDelay,
		resync:    cfg.ResyncInterval,
		pushURL:   cfg.PushURL,
		sleepFunc: sleepCtx,
	}

	if m.logger == nil {
		m.logger = slog.Default()
	}

	if m.poll <= 0 {
		m.poll = defaultPollInterval
	}

	if m.settle <= 0 {
		m.settle = defaultSettleDelay
	}

	if m.resync <= 0 {
		m.resync = defaultResyncInterval
	}

	m.wasOffline.Store(true)

	return m
}

// Online reports whether the monitor currently believes the remote is
// reachable.
func (m *Monitor) Online() bool {
	return !m.wasOffline.Load()
}

// Run blocks until ctx is canceled, running the probe loop, the periodic
// re-sync ticker, and (when configured) the websocket push listener.
func (m *Monitor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return m.probeLoop(ctx) })
	g.Go(func() error { return m.resyncLoop(ctx) })

	if m.pushURL != "" {
		g.Go(func() error { return m.pushLoop(ctx) })
	}

	return g.Wait()
}

// probeLoop polls reachability at the poll interval, starting immediately.
func (m *Monitor) probeLoop(ctx context.Context) error {
	ticker := time.NewTicker(m.poll)
	defer ticker.Stop()

	m.handleProbe(ctx, m.prober.Reachable(ctx))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.handleProbe(ctx, m.prober.Reachable(ctx))
		}
	}
}

// handleProbe applies one reachability observation. The wasOffline latch
// keeps redundant triggers from firing while already online.
func (m *Monitor) handleProbe(ctx context.Context, reachable bool) {
	if !reachable {
		if m.wasOffline.CompareAndSwap(false, true) {
			m.logger.Warn("remote unreachable; queuing mutations locally")
		}

		return
	}

	if !m.wasOffline.Load() {
		return
	}

	// Settle, then re-verify: flapping links often come up for a moment.
	if err := m.sleepFunc(ctx, m.settle); err != nil {
		return
	}

	if !m.prober.Reachable(ctx) {
		return
	}

	m.wasOffline.Store(false)
	m.logger.Info("connectivity restored; draining sync queue")
	m.worker.Kick()
}

// resyncLoop kicks a drain on a standing schedule while online.
func (m *Monitor) resyncLoop(ctx context.Context) error {
	ticker := time.NewTicker(m.resync)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if m.Online() {
				m.worker.Kick()
			}
		}
	}
}

// pushLoop keeps a websocket open to the remote. A successful dial counts
// as a reachability observation; a read error re-arms offline detection
// without waiting for the next poll.
func (m *Monitor) pushLoop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, _, err := websocket.Dial(ctx, m.pushURL, nil)
		if err != nil {
			m.logger.Debug("push channel dial failed",
				slog.String("error", err.Error()),
			)

			if sleepErr := m.sleepFunc(ctx, wsRetryBackoff); sleepErr != nil {
				return sleepErr
			}

			continue
		}

		m.handleProbe(ctx, true)

		// Block on reads until the connection drops. Message contents are
		// ignored; the connection state is the signal.
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				break
			}
		}

		conn.Close(websocket.StatusNormalClosure, "reconnecting")
		m.handleProbe(ctx, false)
	}
}

// sleepCtx waits for the duration or until the context is canceled. It is
// the default sleepFunc; tests substitute their own to avoid real delays.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
