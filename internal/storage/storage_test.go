package storage

import (
	"context"
	"testing"
	"time"

	"github.com/free5gc/e2sm-ntn/pkg/factory"
)

var archiveBase = time.Unix(1700000000, 0)

func entry(subscriptionID, ueID string, offset time.Duration) Entry {
	return Entry{
		SubscriptionID: subscriptionID,
		UEID:           ueID,
		Style:          "full",
		Trigger:        "periodic",
		Format:         "per",
		Timestamp:      archiveBase.Add(offset),
		Payload:        []byte{0x01, 0x00, 0x0a, 0x42},
	}
}

func newTestStore(maxItems, ttlSec int) (*memoryStore, *time.Time) {
	now := archiveBase
	store := newMemoryStore(factory.StorageSection{Driver: "memory", MaxItems: maxItems, TTLSec: ttlSec})
	store.clock = func() time.Time { return now }
	return store, &now
}

func TestNewStoreFromConfig(t *testing.T) {
	if _, err := NewStoreFromConfig(factory.StorageSection{Driver: "memory"}); err != nil {
		t.Errorf("memory driver: %v", err)
	}
	if _, err := NewStoreFromConfig(factory.StorageSection{Driver: "mongo"}); err == nil {
		t.Error("unknown driver accepted")
	}
}

func TestQueryFilters(t *testing.T) {
	store, _ := newTestStore(0, 0)
	ctx := context.Background()

	if err := store.Save(ctx, []Entry{
		entry("sub-a", "ue-1", 0),
		entry("sub-a", "ue-2", time.Second),
		entry("sub-b", "ue-1", 2*time.Second),
		entry("sub-b", "ue-1", 3*time.Second),
	}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	since := archiveBase.Add(time.Second)
	until := archiveBase.Add(2 * time.Second)

	testCases := []struct {
		name  string
		query Query
		want  int
	}{
		{name: "everything", query: Query{}, want: 4},
		{name: "by ue", query: Query{UEID: "ue-1"}, want: 3},
		{name: "by subscription", query: Query{SubscriptionID: "sub-a"}, want: 2},
		{name: "ue and subscription", query: Query{UEID: "ue-1", SubscriptionID: "sub-b"}, want: 2},
		{name: "time window", query: Query{Since: &since, Until: &until}, want: 2},
		{name: "limit keeps newest", query: Query{Limit: 1}, want: 1},
		{name: "unknown ue", query: Query{UEID: "ue-9"}, want: 0},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			results, err := store.Query(ctx, testCase.query)
			if err != nil {
				t.Fatalf("Query: %v", err)
			}
			if len(results) != testCase.want {
				t.Errorf("results=%d, want %d", len(results), testCase.want)
			}
		})
	}

	newest, _ := store.Query(ctx, Query{Limit: 1})
	if !newest[0].Timestamp.Equal(archiveBase.Add(3 * time.Second)) {
		t.Errorf("limit kept %s, want the newest entry", newest[0].Timestamp)
	}
}

func TestQueryReturnsCopies(t *testing.T) {
	store, _ := newTestStore(0, 0)
	ctx := context.Background()

	original := entry("sub-a", "ue-1", 0)
	if err := store.Save(ctx, []Entry{original}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	original.Payload[3] = 0xff

	results, _ := store.Query(ctx, Query{})
	if results[0].Payload[3] != 0x42 {
		t.Errorf("stored payload aliased the caller's buffer")
	}
	results[0].Payload[3] = 0xee
	again, _ := store.Query(ctx, Query{})
	if again[0].Payload[3] != 0x42 {
		t.Errorf("query result aliased the archive")
	}
}

func TestMaxItemsDropsOldest(t *testing.T) {
	store, _ := newTestStore(2, 0)
	ctx := context.Background()

	for index := 0; index < 5; index++ {
		if err := store.Save(ctx, []Entry{entry("sub-a", "ue-1", time.Duration(index)*time.Second)}); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	results, _ := store.Query(ctx, Query{})
	if len(results) != 2 {
		t.Fatalf("entries=%d, want 2", len(results))
	}
	if !results[0].Timestamp.Equal(archiveBase.Add(3 * time.Second)) {
		t.Errorf("oldest kept=%s, want +3s", results[0].Timestamp)
	}
}

func TestTTLAndVacuum(t *testing.T) {
	store, now := newTestStore(0, 10)
	ctx := context.Background()

	if err := store.Save(ctx, []Entry{entry("sub-a", "ue-1", 0)}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	*now = archiveBase.Add(5 * time.Second)
	if err := store.Save(ctx, []Entry{entry("sub-a", "ue-2", 0)}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	*now = archiveBase.Add(12 * time.Second)
	results, _ := store.Query(ctx, Query{})
	if len(results) != 1 || results[0].UEID != "ue-2" {
		t.Errorf("unexpired entries=%+v, want only ue-2", results)
	}
	if store.Len() != 2 {
		t.Errorf("Len before vacuum=%d, want 2", store.Len())
	}
	if err := store.Vacuum(ctx); err != nil {
		t.Fatalf("Vacuum: %v", err)
	}
	if store.Len() != 1 {
		t.Errorf("Len after vacuum=%d, want 1", store.Len())
	}
}

func TestDeleteByUEAndSubscription(t *testing.T) {
	store, _ := newTestStore(0, 0)
	ctx := context.Background()

	_ = store.Save(ctx, []Entry{
		entry("sub-a", "ue-1", 0),
		entry("sub-a", "ue-2", 0),
		entry("sub-b", "ue-2", 0),
	})

	if err := store.DeleteByUE(ctx, "ue-1"); err != nil {
		t.Fatalf("DeleteByUE: %v", err)
	}
	if store.Len() != 2 {
		t.Errorf("Len=%d, want 2", store.Len())
	}
	if err := store.DeleteBySubscription(ctx, "sub-b"); err != nil {
		t.Fatalf("DeleteBySubscription: %v", err)
	}
	results, _ := store.Query(ctx, Query{})
	if len(results) != 1 || results[0].SubscriptionID != "sub-a" || results[0].UEID != "ue-2" {
		t.Errorf("remaining=%+v", results)
	}

	// Empty identifiers are ignored.
	_ = store.DeleteByUE(ctx, "")
	_ = store.DeleteBySubscription(ctx, "")
	if store.Len() != 1 {
		t.Errorf("Len=%d, want 1", store.Len())
	}
}

func TestSaveHonoursCancelledContext(t *testing.T) {
	store, _ := newTestStore(0, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := store.Save(ctx, []Entry{entry("sub-a", "ue-1", 0)}); err == nil {
		t.Error("Save with a cancelled context succeeded")
	}
}
