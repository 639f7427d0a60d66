// Package store persists observations and versioned propositions in SQLite
// and keeps the full-text index over them in step with every write.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Weights tunes the blended search ranking. Text, Confidence and Recency
// must be non-negative; HalfLife is the recency decay half-life.
type Weights struct {
	Text       float64
	Confidence float64
	Recency    float64
	HalfLife   time.Duration
}

// DefaultWeights returns the stock ranking blend.
func DefaultWeights() Weights {
	return Weights{
		Text:       0.6,
		Confidence: 0.2,
		Recency:    0.2,
		HalfLife:   72 * time.Hour,
	}
}

// StoreOptions configures a Store.
type StoreOptions struct {
	// Path is the SQLite database file path.
	Path string
	// Weights tunes search ranking. Zero value selects DefaultWeights.
	Weights Weights
	// CandidateFactor multiplies the search limit when pulling full-text
	// candidates for re-ranking. Zero selects 4.
	CandidateFactor int
}

// Store is the SQLite persistence layer.
type Store struct {
	db              *sql.DB
	weights         Weights
	candidateFactor int
}

// NewStore opens (or creates) the database and applies the schema.
func NewStore(opts StoreOptions) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+opts.Path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open store db: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	// Best-effort migrations for existing dbs (no-op when current).
	_, _ = db.Exec(`ALTER TABLE propositions ADD COLUMN decay INTEGER`)
	_, _ = db.Exec(`ALTER TABLE observations ADD COLUMN observer_name TEXT NOT NULL DEFAULT ''`)
	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_propositions_updated ON propositions(updated_at)`)

	return Wrap(db, opts), nil
}

// Wrap builds a Store around an already-open handle. The caller owns the
// schema; NewStore is the normal path.
func Wrap(db *sql.DB, opts StoreOptions) *Store {
	w := opts.Weights
	if w.Text == 0 && w.Confidence == 0 && w.Recency == 0 {
		w = DefaultWeights()
	}
	if w.HalfLife <= 0 {
		w.HalfLife = DefaultWeights().HalfLife
	}
	cf := opts.CandidateFactor
	if cf <= 0 {
		cf = 4
	}
	return &Store{db: db, weights: w, candidateFactor: cf}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// now returns the write timestamp. Second precision in UTC keeps the
// stored text form of the column totally ordered.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

func scanNullableInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

// GetObservation fetches one observation row.
func (s *Store) GetObservation(ctx context.Context, id int64) (*Observation, error) {
	var o Observation
	err := s.db.QueryRowContext(ctx,
		`SELECT id, observer_name, content, content_type, created_at, updated_at
		 FROM observations WHERE id = ?`, id).
		Scan(&o.ID, &o.Observer, &o.Content, &o.ContentType, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch observation %d: %w", id, err)
	}
	return &o, nil
}

// GetProposition fetches one proposition row.
func (s *Store) GetProposition(ctx context.Context, id int64) (*Proposition, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, text, reasoning, confidence, decay, revision_group, version, created_at, updated_at
		 FROM propositions WHERE id = ?`, id)
	p, err := scanProposition(row)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch proposition %d: %w", id, err)
	}
	return p, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProposition(r rowScanner) (*Proposition, error) {
	var p Proposition
	var conf, decay sql.NullInt64
	if err := r.Scan(&p.ID, &p.Text, &p.Reasoning, &conf, &decay,
		&p.RevisionGroup, &p.Version, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Confidence = scanNullableInt(conf)
	p.Decay = scanNullableInt(decay)
	return &p, nil
}

// ObservationsFor lists the observations linked to a proposition, oldest
// first.
func (s *Store) ObservationsFor(ctx context.Context, propID int64) ([]Observation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT o.id, o.observer_name, o.content, o.content_type, o.created_at, o.updated_at
		 FROM observations o
		 JOIN observation_propositions op ON op.observation_id = o.id
		 WHERE op.proposition_id = ?
		 ORDER BY o.id`, propID)
	if err != nil {
		return nil, fmt.Errorf("failed to list observations for proposition %d: %w", propID, err)
	}
	defer rows.Close()

	var out []Observation
	for rows.Next() {
		var o Observation
		if err := rows.Scan(&o.ID, &o.Observer, &o.Content, &o.ContentType, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// PropositionsFor lists the propositions linked to an observation.
func (s *Store) PropositionsFor(ctx context.Context, obsID int64) ([]Proposition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.id, p.text, p.reasoning, p.confidence, p.decay, p.revision_group, p.version, p.created_at, p.updated_at
		 FROM propositions p
		 JOIN observation_propositions op ON op.proposition_id = p.id
		 WHERE op.observation_id = ?
		 ORDER BY p.id`, obsID)
	if err != nil {
		return nil, fmt.Errorf("failed to list propositions for observation %d: %w", obsID, err)
	}
	defer rows.Close()
	return collectPropositions(rows)
}

func collectPropositions(rows *sql.Rows) ([]Proposition, error) {
	var out []Proposition
	for rows.Next() {
		p, err := scanProposition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// ParentIDs lists the direct parents of a proposition.
func (s *Store) ParentIDs(ctx context.Context, id int64) ([]int64, error) {
	return s.listIDs(ctx,
		`SELECT parent_id FROM proposition_parents WHERE child_id = ? ORDER BY parent_id`, id)
}

// ChildIDs lists the direct children of a proposition.
func (s *Store) ChildIDs(ctx context.Context, id int64) ([]int64, error) {
	return s.listIDs(ctx,
		`SELECT child_id FROM proposition_parents WHERE parent_id = ? ORDER BY child_id`, id)
}

func (s *Store) listIDs(ctx context.Context, query string, arg any) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// LatestVersion returns the highest committed version in a revision group,
// 0 when the group does not exist.
func (s *Store) LatestVersion(ctx context.Context, group string) (int, error) {
	var v sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(version) FROM propositions WHERE revision_group = ?`, group).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("failed to read latest version of group %s: %w", group, err)
	}
	if !v.Valid {
		return 0, nil
	}
	return int(v.Int64), nil
}

// ListGroup returns every version in a revision group, oldest version first.
func (s *Store) ListGroup(ctx context.Context, group string) ([]Proposition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, reasoning, confidence, decay, revision_group, version, created_at, updated_at
		 FROM propositions WHERE revision_group = ? ORDER BY version`, group)
	if err != nil {
		return nil, fmt.Errorf("failed to list group %s: %w", group, err)
	}
	defer rows.Close()
	return collectPropositions(rows)
}

// EnqueuePending spools drained updates in one transaction.
func (s *Store) EnqueuePending(ctx context.Context, items []PendingUpdate) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin spool tx: %w", err)
	}
	defer tx.Rollback()

	queued := now()
	for _, it := range items {
		at := it.At.UTC().Truncate(time.Second)
		if at.IsZero() {
			at = queued
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO pending_updates (observer_name, content, content_type, created_at, queued_at)
			 VALUES (?, ?, ?, ?, ?)`,
			it.Observer, it.Content, it.ContentType, at, queued); err != nil {
			return fmt.Errorf("failed to spool update: %w", err)
		}
	}
	return tx.Commit()
}

// ListPending returns spooled updates in the order they were queued.
func (s *Store) ListPending(ctx context.Context) ([]PendingUpdate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, observer_name, content, content_type, created_at, queued_at
		 FROM pending_updates ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending updates: %w", err)
	}
	defer rows.Close()

	var out []PendingUpdate
	for rows.Next() {
		var p PendingUpdate
		if err := rows.Scan(&p.ID, &p.Observer, &p.Content, &p.ContentType, &p.At, &p.QueuedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeletePending removes one spooled update outside any caller transaction.
func (s *Store) DeletePending(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_updates WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete pending update %d: %w", id, err)
	}
	return nil
}

// CountObservations returns the observation row count.
func (s *Store) CountObservations(ctx context.Context) (int64, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM observations`)
}

// CountPropositions returns the proposition row count.
func (s *Store) CountPropositions(ctx context.Context) (int64, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM propositions`)
}

// CountPending returns the spool depth.
func (s *Store) CountPending(ctx context.Context) (int64, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM pending_updates`)
}

func (s *Store) count(ctx context.Context, query string) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
