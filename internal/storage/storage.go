// Package storage provides the indication archive of the E2SM-NTN function.
// Every indication handed to the transport is also archived so that xApps
// can fetch recent reports on demand. The implementation is in-memory and
// bounded by item count and TTL; UE state itself is never persisted.
package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/free5gc/e2sm-ntn/internal/logger"
	"github.com/free5gc/e2sm-ntn/pkg/factory"
)

// Entry is one archived indication.
type Entry struct {
	SubscriptionID string    `json:"subscriptionId"`
	UEID           string    `json:"ueId"`
	Style          string    `json:"reportStyle"`
	Trigger        string    `json:"trigger"`
	Format         string    `json:"format"`
	Timestamp      time.Time `json:"timestamp"`
	// Payload is the enveloped encoding as delivered to the transport.
	Payload []byte `json:"payload"`
}

// Store is the archive interface used by the scheduler, the southbound
// receiver and the fetch API. All operations are safe to be called from
// concurrent goroutines.
type Store interface {
	// Save archives a batch of indications.
	Save(ctx context.Context, entries []Entry) error

	// Query returns the matching entries ordered by archive time, oldest
	// first.
	Query(ctx context.Context, query Query) ([]Entry, error)

	// DeleteByUE removes every entry of a UE, e.g. after idle eviction.
	DeleteByUE(ctx context.Context, ueID string) error

	// DeleteBySubscription removes every entry of a subscription.
	DeleteBySubscription(ctx context.Context, subscriptionID string) error

	// Vacuum removes expired entries. It is a no-op without a TTL.
	Vacuum(ctx context.Context) error

	// Len returns the number of archived entries.
	Len() int
}

// Query defines constraints used when selecting entries.
type Query struct {
	// UEID and SubscriptionID restrict the result when non-empty.
	UEID           string
	SubscriptionID string

	// Since and Until bound the indication timestamp, inclusive.
	Since *time.Time
	Until *time.Time

	// Limit is an optional maximum number of results, keeping the newest.
	// If Limit <= 0, no explicit limit is applied.
	Limit int
}

// NewStoreFromConfig creates a Store based on the storage configuration.
func NewStoreFromConfig(storageConfig factory.StorageSection) (Store, error) {
	switch storageConfig.Driver {
	case "memory", "":
		logger.StorageLog.Infof("Using in-memory indication archive (maxItems=%d, ttlSec=%d)",
			storageConfig.MaxItems, storageConfig.TTLSec)
		return newMemoryStore(storageConfig), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", storageConfig.Driver)
	}
}

// -----------------------------------------------------------------------------
// In-memory implementation
// -----------------------------------------------------------------------------

type memoryStore struct {
	mutexForEntries sync.RWMutex
	entries         []memoryEntry

	maxItems int           // 0 means "no explicit limit"
	ttl      time.Duration // 0 means "no TTL"
	clock    func() time.Time
}

type memoryEntry struct {
	entry         Entry
	insertionTime time.Time
}

func newMemoryStore(storageConfig factory.StorageSection) *memoryStore {
	var ttlDuration time.Duration
	if storageConfig.TTLSec > 0 {
		ttlDuration = time.Duration(storageConfig.TTLSec) * time.Second
	}

	return &memoryStore{
		entries:  make([]memoryEntry, 0),
		maxItems: storageConfig.MaxItems,
		ttl:      ttlDuration,
		clock:    time.Now,
	}
}

// Save appends a batch of entries and enforces TTL and maxItems.
func (store *memoryStore) Save(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	now := store.clock()

	store.mutexForEntries.Lock()
	defer store.mutexForEntries.Unlock()

	if store.ttl > 0 {
		store.removeExpiredLocked(now)
	}

	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			entry.Payload = append([]byte(nil), entry.Payload...)
			store.entries = append(store.entries, memoryEntry{
				entry:         entry,
				insertionTime: now,
			})
		}
	}

	if store.maxItems > 0 && len(store.entries) > store.maxItems {
		overflow := len(store.entries) - store.maxItems
		logger.StorageLog.Debugf("archive reached maxItems=%d, dropping oldest %d entries",
			store.maxItems, overflow)
		kept := make([]memoryEntry, store.maxItems)
		copy(kept, store.entries[overflow:])
		store.entries = kept
	}

	return nil
}

// Query scans the archive and returns a filtered copy.
func (store *memoryStore) Query(ctx context.Context, query Query) ([]Entry, error) {
	now := store.clock()

	store.mutexForEntries.RLock()
	defer store.mutexForEntries.RUnlock()

	results := make([]Entry, 0)
	for _, stored := range store.entries {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if store.ttl > 0 && now.Sub(stored.insertionTime) > store.ttl {
			// Expired; Vacuum or the next Save removes it.
			continue
		}

		entry := stored.entry
		if query.UEID != "" && entry.UEID != query.UEID {
			continue
		}
		if query.SubscriptionID != "" && entry.SubscriptionID != query.SubscriptionID {
			continue
		}
		if query.Since != nil && entry.Timestamp.Before(*query.Since) {
			continue
		}
		if query.Until != nil && entry.Timestamp.After(*query.Until) {
			continue
		}

		entry.Payload = append([]byte(nil), entry.Payload...)
		results = append(results, entry)
	}

	if query.Limit > 0 && len(results) > query.Limit {
		results = results[len(results)-query.Limit:]
	}
	return results, nil
}

// DeleteByUE implements Store.DeleteByUE.
func (store *memoryStore) DeleteByUE(ctx context.Context, ueID string) error {
	if ueID == "" {
		return nil
	}
	return store.deleteWhere(ctx, func(entry Entry) bool { return entry.UEID == ueID }, "ueId="+ueID)
}

// DeleteBySubscription implements Store.DeleteBySubscription.
func (store *memoryStore) DeleteBySubscription(ctx context.Context, subscriptionID string) error {
	if subscriptionID == "" {
		return nil
	}
	return store.deleteWhere(ctx, func(entry Entry) bool { return entry.SubscriptionID == subscriptionID },
		"subscriptionId="+subscriptionID)
}

func (store *memoryStore) deleteWhere(ctx context.Context, match func(Entry) bool, description string) error {
	store.mutexForEntries.Lock()
	defer store.mutexForEntries.Unlock()

	filtered := make([]memoryEntry, 0, len(store.entries))
	for _, stored := range store.entries {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if match(stored.entry) {
			continue
		}
		filtered = append(filtered, stored)
	}

	droppedCount := len(store.entries) - len(filtered)
	if droppedCount > 0 {
		logger.StorageLog.Infof("deleted %d archived indication(s) for %s", droppedCount, description)
	}

	store.entries = filtered
	return nil
}

// Vacuum removes expired entries according to TTL. It is safe to call this
// periodically; if TTL is not configured, it becomes a no-op.
func (store *memoryStore) Vacuum(ctx context.Context) error {
	if store.ttl <= 0 {
		return nil
	}

	now := store.clock()

	store.mutexForEntries.Lock()
	defer store.mutexForEntries.Unlock()

	beforeCount := len(store.entries)
	store.removeExpiredLocked(now)
	afterCount := len(store.entries)

	if beforeCount != afterCount {
		logger.StorageLog.Debugf("vacuum removed %d expired indication(s)", beforeCount-afterCount)
	}

	return nil
}

// Len implements Store.Len.
func (store *memoryStore) Len() int {
	store.mutexForEntries.RLock()
	defer store.mutexForEntries.RUnlock()
	return len(store.entries)
}

// removeExpiredLocked is a helper that assumes mutexForEntries is already held.
func (store *memoryStore) removeExpiredLocked(referenceTime time.Time) {
	if store.ttl <= 0 || len(store.entries) == 0 {
		return
	}

	filtered := store.entries[:0]
	for _, stored := range store.entries {
		if referenceTime.Sub(stored.insertionTime) <= store.ttl {
			filtered = append(filtered, stored)
		}
	}
	store.entries = filtered
}
