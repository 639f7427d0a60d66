package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Tx is a write transaction. Every mutation of proposition text or
// reasoning maintains the full-text index inside the same transaction, so
// a commit is immediately searchable and a rollback leaves no stray index
// entries.
type Tx struct {
	tx *sql.Tx
}

// Begin opens a write transaction.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// Rollback aborts the transaction. Safe to defer after Commit.
func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}

// InsertObservation records a capture. CreatedAt keeps the update's own
// timestamp when present; both timestamps default to the write time.
func (t *Tx) InsertObservation(ctx context.Context, o *Observation) (int64, error) {
	stamp := now()
	created := o.CreatedAt.UTC().Truncate(time.Second)
	if o.CreatedAt.IsZero() {
		created = stamp
	}
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO observations (observer_name, content, content_type, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		o.Observer, o.Content, o.ContentType, created, stamp)
	if err != nil {
		return 0, fmt.Errorf("failed to insert observation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read observation id: %w", err)
	}
	o.ID = id
	o.CreatedAt = created
	o.UpdatedAt = stamp
	return id, nil
}

// InsertProposition inserts a proposition row plus its index entry.
// Preset timestamps are kept, otherwise the write time is used.
func (t *Tx) InsertProposition(ctx context.Context, p *Proposition) (int64, error) {
	stamp := now()
	created := p.CreatedAt.UTC().Truncate(time.Second)
	if p.CreatedAt.IsZero() {
		created = stamp
	}
	updated := p.UpdatedAt.UTC().Truncate(time.Second)
	if p.UpdatedAt.IsZero() {
		updated = stamp
	}
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO propositions (text, reasoning, confidence, decay, revision_group, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Text, p.Reasoning, p.Confidence, p.Decay, p.RevisionGroup, p.Version, created, updated)
	if err != nil {
		return 0, fmt.Errorf("failed to insert proposition: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read proposition id: %w", err)
	}
	if _, err := t.tx.ExecContext(ctx,
		`INSERT INTO propositions_fts (rowid, text, reasoning) VALUES (?, ?, ?)`,
		id, p.Text, p.Reasoning); err != nil {
		return 0, fmt.Errorf("failed to index proposition: %w", err)
	}
	p.ID = id
	p.CreatedAt = created
	p.UpdatedAt = updated
	return id, nil
}

// UpdateProposition rewrites text, reasoning, confidence and decay of an
// existing row and refreshes its index entry.
func (t *Tx) UpdateProposition(ctx context.Context, p *Proposition) error {
	stamp := now()
	res, err := t.tx.ExecContext(ctx,
		`UPDATE propositions SET text = ?, reasoning = ?, confidence = ?, decay = ?, updated_at = ?
		 WHERE id = ?`,
		p.Text, p.Reasoning, p.Confidence, p.Decay, stamp, p.ID)
	if err != nil {
		return fmt.Errorf("failed to update proposition %d: %w", p.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("proposition %d not found", p.ID)
	}
	if _, err := t.tx.ExecContext(ctx,
		`DELETE FROM propositions_fts WHERE rowid = ?`, p.ID); err != nil {
		return fmt.Errorf("failed to drop stale index entry %d: %w", p.ID, err)
	}
	if _, err := t.tx.ExecContext(ctx,
		`INSERT INTO propositions_fts (rowid, text, reasoning) VALUES (?, ?, ?)`,
		p.ID, p.Text, p.Reasoning); err != nil {
		return fmt.Errorf("failed to reindex proposition %d: %w", p.ID, err)
	}
	p.UpdatedAt = stamp
	return nil
}

// UpdateConfidenceDecay backfills confidence and decay where the target row
// still has none. Existing values are never overwritten.
func (t *Tx) UpdateConfidenceDecay(ctx context.Context, id int64, confidence, decay *int) error {
	if _, err := t.tx.ExecContext(ctx,
		`UPDATE propositions SET
			confidence = COALESCE(confidence, ?),
			decay = COALESCE(decay, ?)
		 WHERE id = ?`,
		confidence, decay, id); err != nil {
		return fmt.Errorf("failed to backfill proposition %d: %w", id, err)
	}
	return nil
}

// TouchProposition bumps updated_at so recency ranking sees fresh
// supporting evidence.
func (t *Tx) TouchProposition(ctx context.Context, id int64) error {
	if _, err := t.tx.ExecContext(ctx,
		`UPDATE propositions SET updated_at = ? WHERE id = ?`, now(), id); err != nil {
		return fmt.Errorf("failed to touch proposition %d: %w", id, err)
	}
	return nil
}

// LinkObservation attaches an observation to a proposition. Idempotent.
func (t *Tx) LinkObservation(ctx context.Context, obsID, propID int64) error {
	if _, err := t.tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO observation_propositions (observation_id, proposition_id) VALUES (?, ?)`,
		obsID, propID); err != nil {
		return fmt.Errorf("failed to link observation %d to proposition %d: %w", obsID, propID, err)
	}
	return nil
}

// LinkParent records a revision edge from child to the parent it supersedes.
// Idempotent.
func (t *Tx) LinkParent(ctx context.Context, childID, parentID int64) error {
	if _, err := t.tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO proposition_parents (child_id, parent_id) VALUES (?, ?)`,
		childID, parentID); err != nil {
		return fmt.Errorf("failed to link parent %d of proposition %d: %w", parentID, childID, err)
	}
	return nil
}

// DeleteProposition removes a proposition, its links and its index entry.
func (t *Tx) DeleteProposition(ctx context.Context, id int64) error {
	if _, err := t.tx.ExecContext(ctx,
		`DELETE FROM propositions_fts WHERE rowid = ?`, id); err != nil {
		return fmt.Errorf("failed to unindex proposition %d: %w", id, err)
	}
	if _, err := t.tx.ExecContext(ctx,
		`DELETE FROM propositions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete proposition %d: %w", id, err)
	}
	return nil
}

// DeletePending consumes a spooled update as part of the same transaction
// that applies its writes, so a replay can never double-apply it.
func (t *Tx) DeletePending(ctx context.Context, id int64) error {
	if _, err := t.tx.ExecContext(ctx,
		`DELETE FROM pending_updates WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to consume pending update %d: %w", id, err)
	}
	return nil
}
