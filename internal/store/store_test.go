package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(StoreOptions{Path: filepath.Join(t.TempDir(), "inkling.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func intPtr(n int) *int { return &n }

func insertProposition(t *testing.T, s *Store, p *Proposition) int64 {
	t.Helper()
	ctx := context.Background()
	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	id, err := tx.InsertProposition(ctx, p)
	if err != nil {
		t.Fatalf("insert proposition: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return id
}

func TestObservationRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	captured := time.Date(2025, 5, 1, 8, 30, 0, 0, time.UTC)
	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	obs := &Observation{Observer: "screen", Content: "reading Go docs", ContentType: "input_text", CreatedAt: captured}
	id, err := tx.InsertObservation(ctx, obs)
	if err != nil {
		t.Fatalf("insert observation: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	got, err := s.GetObservation(ctx, id)
	if err != nil {
		t.Fatalf("get observation: %v", err)
	}
	if got.Content != "reading Go docs" || got.Observer != "screen" {
		t.Fatalf("unexpected observation: %+v", got)
	}
	if !got.CreatedAt.Equal(captured) {
		t.Fatalf("expected capture time %v, got %v", captured, got.CreatedAt)
	}
}

func TestPropositionLinksAndLineage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v1 := &Proposition{Text: "likes strong coffee", Reasoning: "ordered espresso twice", Confidence: intPtr(7), RevisionGroup: "g1", Version: 1}
	insertProposition(t, s, v1)

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()

	obs := &Observation{Observer: "screen", Content: "espresso order", ContentType: "input_text"}
	obsID, err := tx.InsertObservation(ctx, obs)
	if err != nil {
		t.Fatalf("insert observation: %v", err)
	}
	v2 := &Proposition{Text: "prefers espresso over filter coffee", Reasoning: "pattern across mornings", Confidence: intPtr(8), RevisionGroup: "g1", Version: 2}
	if _, err := tx.InsertProposition(ctx, v2); err != nil {
		t.Fatalf("insert v2: %v", err)
	}
	if err := tx.LinkObservation(ctx, obsID, v2.ID); err != nil {
		t.Fatalf("link observation: %v", err)
	}
	// Linking twice must stay idempotent.
	if err := tx.LinkObservation(ctx, obsID, v2.ID); err != nil {
		t.Fatalf("relink observation: %v", err)
	}
	if err := tx.LinkParent(ctx, v2.ID, v1.ID); err != nil {
		t.Fatalf("link parent: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	parents, err := s.ParentIDs(ctx, v2.ID)
	if err != nil {
		t.Fatalf("parent ids: %v", err)
	}
	if len(parents) != 1 || parents[0] != v1.ID {
		t.Fatalf("expected parent %d, got %v", v1.ID, parents)
	}
	children, err := s.ChildIDs(ctx, v1.ID)
	if err != nil {
		t.Fatalf("child ids: %v", err)
	}
	if len(children) != 1 || children[0] != v2.ID {
		t.Fatalf("expected child %d, got %v", v2.ID, children)
	}

	linked, err := s.ObservationsFor(ctx, v2.ID)
	if err != nil {
		t.Fatalf("observations for: %v", err)
	}
	if len(linked) != 1 || linked[0].ID != obsID {
		t.Fatalf("expected one linked observation, got %v", linked)
	}

	latest, err := s.LatestVersion(ctx, "g1")
	if err != nil {
		t.Fatalf("latest version: %v", err)
	}
	if latest != 2 {
		t.Fatalf("expected latest version 2, got %d", latest)
	}
	group, err := s.ListGroup(ctx, "g1")
	if err != nil {
		t.Fatalf("list group: %v", err)
	}
	if len(group) != 2 || group[0].Version != 1 || group[1].Version != 2 {
		t.Fatalf("unexpected group listing: %+v", group)
	}
}

func TestLatestVersionMissingGroup(t *testing.T) {
	s := newTestStore(t)
	v, err := s.LatestVersion(context.Background(), "nope")
	if err != nil {
		t.Fatalf("latest version: %v", err)
	}
	if v != 0 {
		t.Fatalf("expected 0 for missing group, got %d", v)
	}
}

func TestRollbackLeavesNothingBehind(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := tx.InsertObservation(ctx, &Observation{Observer: "screen", Content: "abandoned", ContentType: "input_text"}); err != nil {
		t.Fatalf("insert observation: %v", err)
	}
	p := &Proposition{Text: "phantom proposition", Reasoning: "should vanish", RevisionGroup: "gx", Version: 1}
	if _, err := tx.InsertProposition(ctx, p); err != nil {
		t.Fatalf("insert proposition: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	if n, _ := s.CountObservations(ctx); n != 0 {
		t.Fatalf("expected 0 observations after rollback, got %d", n)
	}
	if n, _ := s.CountPropositions(ctx); n != 0 {
		t.Fatalf("expected 0 propositions after rollback, got %d", n)
	}
	hits, err := s.Search(ctx, SearchQuery{Text: "phantom", Limit: 5})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("rolled back row leaked into the index: %+v", hits)
	}
}

func TestConfidenceDecayBackfillOnlyFillsGaps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &Proposition{Text: "runs in the morning", Reasoning: "calendar blocks", Confidence: intPtr(9), RevisionGroup: "g2", Version: 1}
	insertProposition(t, s, p)

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	if err := tx.UpdateConfidenceDecay(ctx, p.ID, intPtr(2), intPtr(4)); err != nil {
		t.Fatalf("backfill: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	got, err := s.GetProposition(ctx, p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Confidence == nil || *got.Confidence != 9 {
		t.Fatalf("existing confidence was overwritten: %+v", got.Confidence)
	}
	if got.Decay == nil || *got.Decay != 4 {
		t.Fatalf("missing decay was not backfilled: %+v", got.Decay)
	}
}

func TestPendingSpoolLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	at := time.Date(2025, 5, 2, 12, 0, 0, 0, time.UTC)
	err := s.EnqueuePending(ctx, []PendingUpdate{
		{Observer: "journal", Content: "first", ContentType: "input_text", At: at},
		{Observer: "journal", Content: "second", ContentType: "input_text", At: at.Add(time.Second)},
	})
	if err != nil {
		t.Fatalf("enqueue pending: %v", err)
	}

	pending, err := s.ListPending(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 2 || pending[0].Content != "first" || pending[1].Content != "second" {
		t.Fatalf("unexpected spool order: %+v", pending)
	}
	if !pending[0].At.Equal(at) {
		t.Fatalf("spool lost the update timestamp: %v", pending[0].At)
	}

	// Consuming inside a transaction removes the row atomically with the
	// update's writes.
	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	if _, err := tx.InsertObservation(ctx, &Observation{Observer: "journal", Content: "first", ContentType: "input_text"}); err != nil {
		t.Fatalf("insert observation: %v", err)
	}
	if err := tx.DeletePending(ctx, pending[0].ID); err != nil {
		t.Fatalf("consume pending: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if err := s.DeletePending(ctx, pending[1].ID); err != nil {
		t.Fatalf("delete pending: %v", err)
	}
	if n, _ := s.CountPending(ctx); n != 0 {
		t.Fatalf("expected empty spool, got %d", n)
	}
}
