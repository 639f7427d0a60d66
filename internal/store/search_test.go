package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestSearchModes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	insertProposition(t, s, &Proposition{Text: "drinks coffee daily", Reasoning: "morning orders", RevisionGroup: "a", Version: 1})
	insertProposition(t, s, &Proposition{Text: "prefers green tea", Reasoning: "afternoon habit", RevisionGroup: "b", Version: 1})

	hits, err := s.Search(ctx, SearchQuery{Text: "coffee tea", Limit: 10, Mode: MatchAny})
	if err != nil {
		t.Fatalf("or search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected both rows for OR, got %d", len(hits))
	}

	hits, err = s.Search(ctx, SearchQuery{Text: "coffee tea", Limit: 10, Mode: MatchAll})
	if err != nil {
		t.Fatalf("and search: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected no rows for AND, got %d", len(hits))
	}

	hits, err = s.Search(ctx, SearchQuery{Text: "coffee daily", Limit: 10, Mode: MatchAll})
	if err != nil {
		t.Fatalf("and search: %v", err)
	}
	if len(hits) != 1 || hits[0].Proposition.Text != "drinks coffee daily" {
		t.Fatalf("expected the coffee row for AND, got %+v", hits)
	}
}

func TestSearchEmptyQueryAndNoMatches(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	insertProposition(t, s, &Proposition{Text: "writes Go at work", Reasoning: "editor sessions", RevisionGroup: "a", Version: 1})

	hits, err := s.Search(ctx, SearchQuery{Text: "   ", Limit: 10})
	if err != nil {
		t.Fatalf("empty query: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected no hits for empty query, got %d", len(hits))
	}

	hits, err = s.Search(ctx, SearchQuery{Text: "kubernetes", Limit: 10})
	if err != nil {
		t.Fatalf("no-match query: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected no hits, got %d", len(hits))
	}
}

func TestSearchScoresStayInRange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	insertProposition(t, s, &Proposition{Text: "studies piano", Reasoning: "sheet music tabs open", Confidence: intPtr(10), RevisionGroup: "a", Version: 1})
	insertProposition(t, s, &Proposition{Text: "piano practice before dinner", Reasoning: "repeated evening sessions", RevisionGroup: "b", Version: 1})

	hits, err := s.Search(ctx, SearchQuery{Text: "piano", Limit: 10})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	for _, h := range hits {
		if h.Score < 0 || h.Score > 1 {
			t.Errorf("score out of range: %f", h.Score)
		}
		if h.Relevance <= 0 || h.Relevance > 1 {
			t.Errorf("relevance out of range: %f", h.Relevance)
		}
	}
}

func TestSearchRelevanceIsMonotone(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Same length, same age, same (absent) confidence: the row matching the
	// term twice must outrank the row matching it once.
	at := time.Now().UTC().Truncate(time.Second)
	insertProposition(t, s, &Proposition{Text: "cycling cycling", Reasoning: "ride logs", RevisionGroup: "a", Version: 1, CreatedAt: at, UpdatedAt: at})
	insertProposition(t, s, &Proposition{Text: "cycling sometimes", Reasoning: "ride logs", RevisionGroup: "b", Version: 1, CreatedAt: at, UpdatedAt: at})

	hits, err := s.Search(ctx, SearchQuery{Text: "cycling", Limit: 10})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].Proposition.Text != "cycling cycling" {
		t.Fatalf("stronger match ranked below weaker one: %+v", hits)
	}
	if hits[0].Relevance < hits[1].Relevance {
		t.Fatalf("relevance ordering inverted: %f < %f", hits[0].Relevance, hits[1].Relevance)
	}
}

func TestSearchConfidenceBoost(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	at := time.Now().UTC().Truncate(time.Second)
	insertProposition(t, s, &Proposition{Text: "enjoys hiking", Reasoning: "trail maps", Confidence: intPtr(9), RevisionGroup: "a", Version: 1, CreatedAt: at, UpdatedAt: at})
	insertProposition(t, s, &Proposition{Text: "enjoys hiking", Reasoning: "trail maps", Confidence: intPtr(2), RevisionGroup: "b", Version: 1, CreatedAt: at, UpdatedAt: at})

	hits, err := s.Search(ctx, SearchQuery{Text: "hiking", Limit: 10})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].Proposition.Confidence == nil || *hits[0].Proposition.Confidence != 9 {
		t.Fatalf("high-confidence row should rank first: %+v", hits)
	}
}

func TestSearchTieBreaksByRecency(t *testing.T) {
	// Text-only weights make the two scores exactly equal, leaving the
	// updated_at tie-break to decide.
	s, err := NewStore(StoreOptions{
		Path:    filepath.Join(t.TempDir(), "inkling.db"),
		Weights: Weights{Text: 1, HalfLife: time.Hour},
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	older := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	newer := time.Date(2025, 5, 3, 9, 0, 0, 0, time.UTC)
	insertProposition(t, s, &Proposition{Text: "reads science fiction", Reasoning: "ebook sessions", RevisionGroup: "a", Version: 1, CreatedAt: older, UpdatedAt: older})
	insertProposition(t, s, &Proposition{Text: "reads science fiction", Reasoning: "ebook sessions", RevisionGroup: "b", Version: 1, CreatedAt: newer, UpdatedAt: newer})

	hits, err := s.Search(ctx, SearchQuery{Text: "science fiction", Limit: 10})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if !hits[0].Proposition.UpdatedAt.Equal(newer) {
		t.Fatalf("tie should order most recent first: %+v", hits)
	}
}

func TestSearchTimeWindowInclusive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t0 := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	t1 := t0.Add(24 * time.Hour)
	t2 := t0.Add(48 * time.Hour)
	insertProposition(t, s, &Proposition{Text: "gardening on weekends", Reasoning: "old", RevisionGroup: "a", Version: 1, CreatedAt: t0, UpdatedAt: t0})
	insertProposition(t, s, &Proposition{Text: "gardening tips saved", Reasoning: "mid", RevisionGroup: "b", Version: 1, CreatedAt: t1, UpdatedAt: t1})
	insertProposition(t, s, &Proposition{Text: "gardening supplies ordered", Reasoning: "new", RevisionGroup: "c", Version: 1, CreatedAt: t2, UpdatedAt: t2})

	hits, err := s.Search(ctx, SearchQuery{Text: "gardening", Limit: 10, Start: &t1, End: &t2})
	if err != nil {
		t.Fatalf("window search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 rows inside [t1,t2], got %d", len(hits))
	}
	for _, h := range hits {
		if h.Proposition.UpdatedAt.Before(t1) || h.Proposition.UpdatedAt.After(t2) {
			t.Fatalf("hit outside window: %+v", h.Proposition)
		}
	}
}

func TestIndexFollowsUpdatesAndDeletes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &Proposition{Text: "plays chess online", Reasoning: "site visits", RevisionGroup: "a", Version: 1}
	insertProposition(t, s, p)

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	p.Text = "plays go online"
	if err := tx.UpdateProposition(ctx, p); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if hits, _ := s.Search(ctx, SearchQuery{Text: "chess", Limit: 5}); len(hits) != 0 {
		t.Fatalf("stale index entry survived the update: %+v", hits)
	}
	hits, err := s.Search(ctx, SearchQuery{Text: "go online", Limit: 5, Mode: MatchAll})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("updated text is not searchable: %+v", hits)
	}

	tx, err = s.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	if err := tx.DeleteProposition(ctx, p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if hits, _ := s.Search(ctx, SearchQuery{Text: "online", Limit: 5}); len(hits) != 0 {
		t.Fatalf("deleted row still searchable: %+v", hits)
	}
}

func TestParseMatchMode(t *testing.T) {
	if m, err := ParseMatchMode(""); err != nil || m != MatchAny {
		t.Fatalf("empty mode should default to OR, got %q err=%v", m, err)
	}
	if m, err := ParseMatchMode("AND"); err != nil || m != MatchAll {
		t.Fatalf("mode parse should be case-insensitive, got %q err=%v", m, err)
	}
	if _, err := ParseMatchMode("xor"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestBuildMatchQuoting(t *testing.T) {
	got := buildMatch(`likes "quoted" terms`, MatchAny)
	want := `"likes" OR "quoted" OR "terms"`
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	got = buildMatch("alpha beta", MatchAll)
	want = `"alpha" AND "beta"`
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}
