package memory

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestInMemoryStore_SearchRanksByCosine(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	entries := []Entry{
		{ID: "a", Text: "close", Vector: []float32{1, 0}},
		{ID: "b", Text: "far", Vector: []float32{0, 1}},
		{ID: "c", Text: "middle", Vector: []float32{1, 1}},
	}
	for _, e := range entries {
		if err := s.Upsert(ctx, e); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	got, err := s.Search(ctx, []float32{1, 0}, 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if got[0].ID != "a" {
		t.Fatalf("expected closest entry first, got %s", got[0].ID)
	}
}

func TestInMemoryStore_RecentNewestFirst(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	base := time.Now()
	s.Upsert(ctx, Entry{ID: "old", CreatedAt: base.Add(-time.Hour)})
	s.Upsert(ctx, Entry{ID: "new", CreatedAt: base})

	got := s.Recent(1)
	if len(got) != 1 || got[0].ID != "new" {
		t.Fatalf("expected newest entry, got %v", got)
	}
}

func TestSelectAndTrim(t *testing.T) {
	entries := []Entry{{Text: strings.Repeat("x", 2000)}}

	if got := SelectAndTrim(entries, TierNone, 1000); got != "" {
		t.Fatalf("tier none should yield empty context, got %d bytes", len(got))
	}
	// full: 100 tokens -> 400 chars max
	if got := SelectAndTrim(entries, TierFull, 100); len(got) > 400 {
		t.Fatalf("full tier exceeded budget: %d chars", len(got))
	}
	// summary: quarter budget -> 100 chars max
	if got := SelectAndTrim(entries, TierSummary, 100); len(got) > 100 {
		t.Fatalf("summary tier exceeded budget: %d chars", len(got))
	}
}
