package manifest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Open-WP-Club/plugin-hub/internal/kvstore"
)

type countingSource struct {
	records []PluginRecord
	err     error
	calls   int
}

func (s *countingSource) Name() string { return "test" }

func (s *countingSource) Fetch(_ context.Context) ([]PluginRecord, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := make([]PluginRecord, len(s.records))
	copy(out, s.records)
	return out, nil
}

func testRecords() []PluginRecord {
	return []PluginRecord{
		{ID: "alpha", Version: "1.0.0", DownloadURL: "https://example.test/alpha-1.0.0.zip"},
		{ID: "beta", Version: "0.5.0"},
	}
}

func TestCache_ReadThrough(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{records: testRecords()}
	cache := NewCache(src, kvstore.NewMemory(), nil, nil)

	first := cache.Records(ctx)
	second := cache.Records(ctx)

	if src.calls != 1 {
		t.Errorf("Expected one upstream fetch, got %d", src.calls)
	}
	if len(first) != 2 || len(second) != 2 {
		t.Errorf("Expected 2 records from both reads, got %d and %d", len(first), len(second))
	}
}

func TestCache_TTL(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	src := &countingSource{records: testRecords()}
	cache := NewCache(src, store, nil, nil)
	cache.SetTTL(time.Millisecond)

	if cache.TTL() != time.Millisecond {
		t.Fatalf("Expected TTL to be updated, got %v", cache.TTL())
	}

	cache.Records(ctx)
	time.Sleep(5 * time.Millisecond)
	cache.Records(ctx)

	if src.calls != 2 {
		t.Errorf("Expected refetch after expiry, got %d fetches", src.calls)
	}

	cache.SetTTL(0)
	if cache.TTL() != DefaultTTL {
		t.Errorf("Zero TTL should reset to default, got %v", cache.TTL())
	}
}

func TestCache_Refresh(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{records: testRecords()}
	cache := NewCache(src, kvstore.NewMemory(), nil, nil)

	cache.Records(ctx)
	src.records = append(src.records, PluginRecord{ID: "gamma", Version: "1.0.0"})

	refreshed := cache.Refresh(ctx)
	if len(refreshed) != 3 {
		t.Errorf("Expected 3 records after refresh, got %d", len(refreshed))
	}
	if got := cache.Records(ctx); len(got) != 3 {
		t.Errorf("Expected refreshed records to be cached, got %d", len(got))
	}
	if src.calls != 2 {
		t.Errorf("Expected 2 fetches, got %d", src.calls)
	}
}

func TestCache_FetchFailureNotCached(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	src := &countingSource{err: errors.New("network down")}
	cache := NewCache(src, store, nil, nil)

	records := cache.Records(ctx)
	if records == nil || len(records) != 0 {
		t.Errorf("Expected empty non-nil manifest, got %v", records)
	}
	if _, err := store.Get(ctx, CacheKey); !errors.Is(err, kvstore.ErrNotFound) {
		t.Errorf("Failed fetch must not be cached, got %v", err)
	}

	src.err = nil
	src.records = testRecords()
	if got := cache.Records(ctx); len(got) != 2 {
		t.Errorf("Expected recovery on next read, got %d records", len(got))
	}
}

func TestCache_EmptyManifestIsCached(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{}
	cache := NewCache(src, kvstore.NewMemory(), nil, nil)

	cache.Records(ctx)
	cache.Records(ctx)
	if src.calls != 1 {
		t.Errorf("Expected an empty manifest to be cached, got %d fetches", src.calls)
	}
}

func TestCache_CorruptEntryRefetches(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	_ = store.Set(ctx, CacheKey, []byte("not json"), 0)
	src := &countingSource{records: testRecords()}

	if got := NewCache(src, store, nil, nil).Records(ctx); len(got) != 2 {
		t.Errorf("Expected refetch on corrupt cache, got %d records", len(got))
	}
}

func TestCache_ForceRefresh(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{records: testRecords()}
	cache := NewCache(src, kvstore.NewMemory(), nil, nil)

	latest := map[string]string{"alpha": "1.1.0"}
	lookup := func(_ context.Context, id string) (string, error) {
		v, ok := latest[id]
		if !ok {
			return "", errors.New("no release")
		}
		return v, nil
	}

	changed, err := cache.ForceRefresh(ctx, lookup)
	if err != nil {
		t.Fatalf("ForceRefresh failed: %v", err)
	}
	if !changed {
		t.Fatal("Expected a change")
	}

	records := cache.Records(ctx)
	if records[0].Version != "1.1.0" {
		t.Errorf("Expected alpha at 1.1.0, got %s", records[0].Version)
	}
	if records[0].DownloadURL != "" {
		t.Error("Expected stale download URL to be cleared")
	}
	if records[1].Version != "0.5.0" {
		t.Errorf("Failed lookup should leave beta unchanged, got %s", records[1].Version)
	}

	changed, err = cache.ForceRefresh(ctx, lookup)
	if err != nil || changed {
		t.Errorf("Second force refresh should report no change, got %v (%v)", changed, err)
	}
}
