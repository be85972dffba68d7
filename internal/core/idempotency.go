package core

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"time"

	"PerpFunding/internal/observability"

	"github.com/rs/zerolog"
)

// ErrDedupUnavailable means the durable dedup tier could not be consulted.
// The command was not applied and may be retried.
var ErrDedupUnavailable = errors.New("dedup lookup unavailable")

// DBIdempotencyChecker looks up keys that fell out of the LRU, typically
// against the persisted record tables.
type DBIdempotencyChecker interface {
	IsDuplicate(ctx context.Context, eventType string, idempotencyKey string) (bool, error)
}

// IdempotencyChecker dedups commands in two tiers: an in-memory LRU on the
// hot path, then the optional database checker.
type IdempotencyChecker struct {
	lru       *IdempotencyLRU
	dbChecker DBIdempotencyChecker
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker, metrics *observability.Metrics, logger zerolog.Logger) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:       NewIdempotencyLRU(capacity),
		dbChecker: dbChecker,
		metrics:   metrics,
		logger:    logger,
	}
}

func compositeKey(eventType, idempotencyKey string) string {
	return eventType + ":" + idempotencyKey
}

// IsDuplicate reports whether the command was already applied. A database
// error is returned as ErrDedupUnavailable: applying an unchecked command
// could assign a second sequence to one the log already holds.
func (ic *IdempotencyChecker) IsDuplicate(ctx context.Context, eventType string, idempotencyKey string) (bool, error) {
	key := compositeKey(eventType, idempotencyKey)

	if ic.lru.Contains(key) {
		ic.recordDuplicate(eventType, "lru")
		return true, nil
	}

	if ic.dbChecker == nil {
		return false, nil
	}

	start := time.Now()
	isDup, err := ic.dbChecker.IsDuplicate(ctx, eventType, idempotencyKey)
	if ic.metrics != nil {
		ic.metrics.DedupTier2Duration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		ic.logger.Warn().Err(err).
			Str("event_type", eventType).
			Str("key", idempotencyKey).
			Msg("tier-2 dedup lookup failed")
		return false, fmt.Errorf("%w: %v", ErrDedupUnavailable, err)
	}
	if isDup {
		ic.recordDuplicate(eventType, "postgres")
		ic.lru.Add(key)
		return true, nil
	}
	return false, nil
}

// MarkProcessed remembers the key after a successful apply.
func (ic *IdempotencyChecker) MarkProcessed(eventType string, idempotencyKey string) {
	evicted := ic.lru.Add(compositeKey(eventType, idempotencyKey))
	if ic.metrics != nil {
		ic.metrics.DedupLRUSize.Set(float64(ic.lru.Size()))
		if evicted {
			ic.metrics.DedupLRUEvictions.Inc()
		}
	}
}

// Keys returns the remembered composite keys, least recent first.
func (ic *IdempotencyChecker) Keys() []string {
	return ic.lru.Keys()
}

// Warm preloads composite keys, e.g. from a snapshot.
func (ic *IdempotencyChecker) Warm(keys []string) {
	ic.lru.WarmFromKeys(keys)
}

func (ic *IdempotencyChecker) recordDuplicate(eventType, tier string) {
	if ic.metrics != nil {
		ic.metrics.IdempotencyDuplicates.WithLabelValues(eventType, tier).Inc()
	}
}

// IdempotencyLRU is a bounded set of keys with least-recently-used eviction.
// Not thread-safe: only the core goroutine touches it.
type IdempotencyLRU struct {
	capacity int
	cache    map[string]*list.Element
	order    *list.List
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	if capacity <= 0 {
		capacity = 1
	}
	return &IdempotencyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

// Contains promotes key on a hit.
func (lru *IdempotencyLRU) Contains(key string) bool {
	elem, ok := lru.cache[key]
	if ok {
		lru.order.MoveToFront(elem)
	}
	return ok
}

// Add inserts or promotes key and reports whether an entry was evicted.
func (lru *IdempotencyLRU) Add(key string) bool {
	if elem, ok := lru.cache[key]; ok {
		lru.order.MoveToFront(elem)
		return false
	}
	lru.cache[key] = lru.order.PushFront(key)
	if lru.order.Len() > lru.capacity {
		oldest := lru.order.Back()
		lru.order.Remove(oldest)
		delete(lru.cache, oldest.Value.(string))
		return true
	}
	return false
}

// WarmFromKeys adds keys in order, so the last one ends most recent.
func (lru *IdempotencyLRU) WarmFromKeys(keys []string) {
	for _, key := range keys {
		lru.Add(key)
	}
}

// Keys lists entries from least to most recently used.
func (lru *IdempotencyLRU) Keys() []string {
	keys := make([]string, 0, lru.order.Len())
	for e := lru.order.Back(); e != nil; e = e.Prev() {
		keys = append(keys, e.Value.(string))
	}
	return keys
}

func (lru *IdempotencyLRU) Size() int {
	return lru.order.Len()
}
