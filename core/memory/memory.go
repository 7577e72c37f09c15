// Package memory provides semantic memory for executions: a vector-store
// port with an in-process implementation, and tier-based selection that trims
// recalled context to a token budget.
package memory

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// Tier controls how much memory context an agent is willing to spend tokens on.
type Tier string

const (
	TierNone    Tier = "none"
	TierSummary Tier = "summary"
	TierDelta   Tier = "delta"
	TierFull    Tier = "full"
)

// Entry is one remembered item.
type Entry struct {
	ID        string
	Text      string
	Vector    []float32
	CreatedAt time.Time
}

// VectorStore is the semantic search port.
type VectorStore interface {
	Upsert(ctx context.Context, entry Entry) error
	Search(ctx context.Context, vector []float32, topK int) ([]Entry, error)
}

// InMemoryStore is a cosine-similarity VectorStore used in development and
// tests.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{entries: make(map[string]Entry)}
}

func (s *InMemoryStore) Upsert(ctx context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	s.entries[entry.ID] = entry
	return nil
}

func (s *InMemoryStore) Search(ctx context.Context, vector []float32, topK int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		entry Entry
		score float64
	}
	results := make([]scored, 0, len(s.entries))
	for _, e := range s.entries {
		results = append(results, scored{entry: e, score: cosine(vector, e.Vector)})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].score > results[j].score })

	if topK > len(results) {
		topK = len(results)
	}
	out := make([]Entry, 0, topK)
	for _, r := range results[:topK] {
		out = append(out, r.entry)
	}
	return out, nil
}

// Recent returns the most recently created entries, newest first. It is the
// fallback when no embedder is configured.
func (s *InMemoryStore) Recent(topK int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if topK > len(all) {
		topK = len(all)
	}
	return all[:topK]
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// SelectAndTrim joins entries into a context block, trimmed to the fraction
// of budgetTokens the tier allows: summary a quarter, delta half, full all.
func SelectAndTrim(entries []Entry, tier Tier, budgetTokens int64) string {
	if tier == TierNone || budgetTokens <= 0 || len(entries) == 0 {
		return ""
	}

	effective := budgetTokens
	switch tier {
	case TierSummary:
		effective = budgetTokens / 4
	case TierDelta:
		effective = budgetTokens / 2
	}

	// ~4 chars per token
	maxChars := int(effective) * 4
	var b strings.Builder
	for _, e := range entries {
		segment := e.Text + "\n"
		if b.Len()+len(segment) > maxChars {
			remaining := maxChars - b.Len()
			if remaining > 0 {
				b.WriteString(segment[:remaining])
			}
			break
		}
		b.WriteString(segment)
	}
	return b.String()
}
