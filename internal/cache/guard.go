// Package cache implements the guarded two-tier cache for static reference
// data. The guard is fail-closed: only allow-listed keys are ever cached,
// any payload that looks like it carries a monetary magnitude is refused,
// and a mutation notification evicts before TTL expiry. Money is never
// served stale because money never enters the cache in the first place.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/enveloppeapp/enveloppe-go/internal/entity"
)

const (
	// entryTTL bounds the lifetime of any cache entry.
	entryTTL = 1 * time.Hour
	// modificationGrace forces a miss when the owning kind was modified
	// this recently, even if the entry itself predates the notification.
	modificationGrace = 30 * time.Second
)

// allowedKeys is the fixed allow-list of static-data cache keys, each owned
// by exactly one entity kind.
var allowedKeys = map[string]entity.Kind{
	"categories_list":    entity.KindCategory,
	"third_parties_list": entity.KindThirdParty,
	"accounts_list":      entity.KindAccount,
	"envelopes_list":     entity.KindEnvelope,
}

// denyWords are substrings that mark a serialized payload as monetary or
// quantitative. The scan is a deliberately blunt instrument: a false
// positive costs one cache miss, a false negative serves stale money.
var denyWords = []string{
	"balance", "amount", "total", "sum", "allocation",
	"montant", "solde", "somme", "spent", "allocated",
}

// denyContexts are substrings that disqualify a caller-supplied context.
var denyContexts = []string{"transaction", "balance"}

// RejectionError reports why the guard refused a put. Rejections are
// non-fatal by design; the typed error exists so they are observable
// instead of silently swallowed.
type RejectionError struct {
	Key    string
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("cache: rejected %q: %s", e.Key, e.Reason)
}

// DurableTier is the persistent backing for the in-memory tier, implemented
// by the local store's cache_entries table.
type DurableTier interface {
	CachePut(ctx context.Context, key, value string, storedAt time.Time) error
	CacheGet(ctx context.Context, key string) (string, time.Time, error)
	CacheDelete(ctx context.Context, key string) error
	CacheFlush(ctx context.Context) error
}

// memEntry is one in-memory cache entry.
type memEntry struct {
	value    string
	storedAt time.Time
}

// Guard is the two-tier guarded cache. The in-process map is the hot path;
// the durable tier survives restarts. All failures are non-fatal: the cache
// is pure optimization, never a source of truth.
type Guard struct {
	durable DurableTier
	logger  *slog.Logger
	nowFunc func() time.Time

	memory sync.Map // key → memEntry

	// registry maps entity kind → last modification time. Created lazily
	// on the first notified mutation.
	registryMu sync.Mutex
	registry   map[entity.Kind]time.Time
}

// NewGuard creates a Guard over the given durable tier. durable may be nil,
// leaving a memory-only cache (used in tests and by the wipe command).
func NewGuard(durable DurableTier, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}

	return &Guard{
		durable: durable,
		logger:  logger,
		nowFunc: time.Now,
	}
}

// Put stores a value under an allow-listed key. Any failed gate is a no-op;
// the returned *RejectionError is diagnostic only and callers are free to
// ignore it. Storage errors in either tier are logged and swallowed.
func (g *Guard) Put(ctx context.Context, key, value, callContext string) error {
	if err := g.check(key, value, callContext); err != nil {
		g.logger.Debug("cache put rejected", slog.String("error", err.Error()))

		return err
	}

	now := g.nowFunc()
	g.memory.Store(key, memEntry{value: value, storedAt: now})

	if g.durable != nil {
		if err := g.durable.CachePut(ctx, key, value, now); err != nil {
			g.logger.Debug("durable cache put failed", slog.String("error", err.Error()))
		}
	}

	return nil
}

// check runs the three put gates: key allow-list, payload deny-list, and
// context deny-list.
func (g *Guard) check(key, value, callContext string) *RejectionError {
	kind, ok := allowedKeys[key]
	if !ok {
		return &RejectionError{Key: key, Reason: "key not on allow-list"}
	}

	// Static-vs-dynamic classification on the kind itself, in addition to
	// the substring scan below.
	if !kind.Cacheable() {
		return &RejectionError{Key: key, Reason: "kind " + kind.String() + " is not cacheable"}
	}

	lower := strings.ToLower(value)
	for _, word := range denyWords {
		if strings.Contains(lower, word) {
			return &RejectionError{Key: key, Reason: "payload contains " + word}
		}
	}

	lowerCtx := strings.ToLower(callContext)
	for _, word := range denyContexts {
		if strings.Contains(lowerCtx, word) {
			return &RejectionError{Key: key, Reason: "context mentions " + word}
		}
	}

	return nil
}

// Get returns the cached value for an allow-listed key, checking the memory
// tier first and promoting durable hits. It misses when the entry is older
// than the TTL or when the owning kind was modified since the entry was
// stored (or within the grace window).
func (g *Guard) Get(ctx context.Context, key string) (string, bool) {
	kind, ok := allowedKeys[key]
	if !ok {
		return "", false
	}

	entry, found := g.lookup(ctx, key)
	if !found {
		return "", false
	}

	now := g.nowFunc()
	if now.Sub(entry.storedAt) > entryTTL {
		g.evict(ctx, key)

		return "", false
	}

	if g.modifiedSince(kind, entry.storedAt, now) {
		g.evict(ctx, key)

		return "", false
	}

	return entry.value, true
}

// lookup reads memory first, then the durable tier, promoting durable hits
// back into memory.
func (g *Guard) lookup(ctx context.Context, key string) (memEntry, bool) {
	if v, ok := g.memory.Load(key); ok {
		return v.(memEntry), true
	}

	if g.durable == nil {
		return memEntry{}, false
	}

	value, storedAt, err := g.durable.CacheGet(ctx, key)
	if err != nil {
		return memEntry{}, false
	}

	entry := memEntry{value: value, storedAt: storedAt}
	g.memory.Store(key, entry)

	return entry, true
}

// modifiedSince reports whether the owning kind has a modification stamp
// invalidating an entry stored at storedAt.
func (g *Guard) modifiedSince(kind entity.Kind, storedAt, now time.Time) bool {
	g.registryMu.Lock()
	lastMod, ok := g.registry[kind]
	g.registryMu.Unlock()

	if !ok {
		return false
	}

	return lastMod.After(storedAt) || now.Sub(lastMod) < modificationGrace
}

// NotifyModification stamps the registry for the kind and cascades:
// transaction and allocation mutations can change derived values shown
// anywhere, so they flush the whole cache; other kinds evict only the key
// they own. Implements store.Notifier.
func (g *Guard) NotifyModification(kind entity.Kind) {
	g.registryMu.Lock()

	if g.registry == nil {
		g.registry = make(map[entity.Kind]time.Time)
	}

	g.registry[kind] = g.nowFunc()
	g.registryMu.Unlock()

	ctx := context.Background()

	switch kind {
	case entity.KindTransaction, entity.KindAllocation:
		g.flush(ctx)
	default:
		for key, owner := range allowedKeys {
			if owner == kind {
				g.evict(ctx, key)
			}
		}
	}
}

// evict removes one key from both tiers.
func (g *Guard) evict(ctx context.Context, key string) {
	g.memory.Delete(key)

	if g.durable != nil {
		if err := g.durable.CacheDelete(ctx, key); err != nil {
			g.logger.Debug("durable cache delete failed", slog.String("error", err.Error()))
		}
	}
}

// flush removes everything from both tiers.
func (g *Guard) flush(ctx context.Context) {
	g.memory.Range(func(key, _ any) bool {
		g.memory.Delete(key)

		return true
	})

	if g.durable != nil {
		if err := g.durable.CacheFlush(ctx); err != nil {
			g.logger.Debug("durable cache flush failed", slog.String("error", err.Error()))
		}
	}
}
