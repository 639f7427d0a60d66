package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// MatchMode selects how query terms combine in the full-text match.
type MatchMode string

const (
	// MatchAny returns propositions matching any query term.
	MatchAny MatchMode = "or"
	// MatchAll returns propositions matching every query term.
	MatchAll MatchMode = "and"
)

// ParseMatchMode validates a raw mode string. Empty selects MatchAny.
func ParseMatchMode(s string) (MatchMode, error) {
	switch MatchMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", MatchAny:
		return MatchAny, nil
	case MatchAll:
		return MatchAll, nil
	}
	return "", fmt.Errorf("unknown match mode %q", s)
}

// SearchQuery describes one search over the proposition index.
type SearchQuery struct {
	Text  string
	Limit int
	Mode  MatchMode
	// Start and End bound updated_at, inclusive on both ends.
	Start *time.Time
	End   *time.Time
}

// buildMatch turns free text into an FTS5 MATCH expression. Each
// whitespace-separated term is quoted so punctuation cannot break the
// query syntax.
func buildMatch(text string, mode MatchMode) string {
	sep := " OR "
	if mode == MatchAll {
		sep = " AND "
	}
	terms := strings.Fields(text)
	quoted := make([]string, 0, len(terms))
	for _, w := range terms {
		w = strings.ReplaceAll(w, `"`, "")
		if w == "" {
			continue
		}
		quoted = append(quoted, `"`+w+`"`)
	}
	return strings.Join(quoted, sep)
}

// Search runs a full-text query and ranks hits by a weighted blend of
// match relevance, confidence and recency. At equal confidence and age a
// better full-text match always outranks a worse one; score ties order by
// most recently updated, then by newest row.
func (s *Store) Search(ctx context.Context, q SearchQuery) ([]SearchHit, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	mode := q.Mode
	if mode == "" {
		mode = MatchAny
	}
	if mode != MatchAny && mode != MatchAll {
		return nil, fmt.Errorf("unknown match mode %q", mode)
	}

	match := buildMatch(q.Text, mode)
	if match == "" {
		return nil, nil
	}

	query := `
		SELECT p.id, p.text, p.reasoning, p.confidence, p.decay,
		       p.revision_group, p.version, p.created_at, p.updated_at,
		       fts.rank
		FROM propositions_fts fts
		JOIN propositions p ON p.id = fts.rowid
		WHERE propositions_fts MATCH ?`
	args := []any{match}

	if q.Start != nil {
		query += " AND p.updated_at >= ?"
		args = append(args, q.Start.UTC().Truncate(time.Second))
	}
	if q.End != nil {
		query += " AND p.updated_at <= ?"
		args = append(args, q.End.UTC().Truncate(time.Second))
	}
	query += " ORDER BY fts.rank LIMIT ?"
	args = append(args, limit*s.candidateFactor)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search propositions: %w", err)
	}
	defer rows.Close()

	type candidate struct {
		prop Proposition
		raw  float64
	}
	var cands []candidate
	best := 0.0
	for rows.Next() {
		var p Proposition
		var conf, decay sql.NullInt64
		var rank float64
		if err := rows.Scan(&p.ID, &p.Text, &p.Reasoning, &conf, &decay,
			&p.RevisionGroup, &p.Version, &p.CreatedAt, &p.UpdatedAt, &rank); err != nil {
			return nil, err
		}
		p.Confidence = scanNullableInt(conf)
		p.Decay = scanNullableInt(decay)
		raw := -rank // bm25 reports better matches as more negative
		if raw > best {
			best = raw
		}
		cands = append(cands, candidate{prop: p, raw: raw})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(cands) == 0 {
		return nil, nil
	}

	ref := time.Now().UTC()
	hits := make([]SearchHit, 0, len(cands))
	for _, c := range cands {
		rel := 1.0
		if best > 0 {
			rel = c.raw / best
		}
		hits = append(hits, SearchHit{
			Proposition: c.prop,
			Relevance:   rel,
			Score:       s.blend(rel, c.prop, ref),
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if !hits[i].Proposition.UpdatedAt.Equal(hits[j].Proposition.UpdatedAt) {
			return hits[i].Proposition.UpdatedAt.After(hits[j].Proposition.UpdatedAt)
		}
		return hits[i].Proposition.ID > hits[j].Proposition.ID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// blend combines normalized relevance with confidence and recency. The
// weighted sum keeps the score monotone in relevance when the other two
// inputs are equal.
func (s *Store) blend(rel float64, p Proposition, ref time.Time) float64 {
	w := s.weights
	total := w.Text + w.Confidence + w.Recency
	if total <= 0 {
		return rel
	}

	conf := 0.5
	if p.Confidence != nil {
		conf = float64(*p.Confidence) / 10
		if conf > 1 {
			conf = 1
		}
		if conf < 0 {
			conf = 0
		}
	}

	age := ref.Sub(p.UpdatedAt)
	if age < 0 {
		age = 0
	}
	rec := math.Pow(0.5, age.Hours()/s.weights.HalfLife.Hours())

	return (w.Text*rel + w.Confidence*conf + w.Recency*rec) / total
}
