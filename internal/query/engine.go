// Package query is the read side of the pipeline: validated full-text
// queries over committed propositions, with lineage and capture context
// attached to every hit.
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/inklingd/inkling/internal/store"
)

// Validation failures surfaced synchronously to callers.
var (
	ErrBadLimit  = errors.New("limit must be positive")
	ErrBadMode   = errors.New(`mode must be "or" or "and"`)
	ErrBadWindow = errors.New("window start is after its end")
)

// Request is one query. Mode is "or" (default) or "and"; Start and End
// bound updated_at inclusively when set.
type Request struct {
	Text  string     `json:"text"`
	Limit int        `json:"limit"`
	Mode  string     `json:"mode,omitempty"`
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// Result is one ranked proposition with its lineage context.
type Result struct {
	Proposition  store.Proposition   `json:"proposition"`
	Score        float64             `json:"score"`
	Relevance    float64             `json:"relevance"`
	ParentIDs    []int64             `json:"parent_ids,omitempty"`
	Observations []store.Observation `json:"observations,omitempty"`
}

// Detail is everything known about one proposition.
type Detail struct {
	Proposition  store.Proposition   `json:"proposition"`
	ParentIDs    []int64             `json:"parent_ids,omitempty"`
	ChildIDs     []int64             `json:"child_ids,omitempty"`
	Lineage      []store.Proposition `json:"lineage"`
	Observations []store.Observation `json:"observations,omitempty"`
}

// Engine validates query parameters and assembles results from the store.
type Engine struct {
	store *store.Store
}

// NewEngine creates a query engine.
func NewEngine(s *store.Store) *Engine {
	return &Engine{store: s}
}

// Query runs one ranked search. Scores are in [0,1], descending; an empty
// result set is not an error.
func (e *Engine) Query(ctx context.Context, req Request) ([]Result, error) {
	if req.Limit <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrBadLimit, req.Limit)
	}
	mode, err := store.ParseMatchMode(req.Mode)
	if err != nil {
		return nil, fmt.Errorf("%w: got %q", ErrBadMode, req.Mode)
	}
	if req.Start != nil && req.End != nil && req.Start.After(*req.End) {
		return nil, fmt.Errorf("%w: %s > %s", ErrBadWindow,
			req.Start.Format(time.RFC3339), req.End.Format(time.RFC3339))
	}

	hits, err := e.store.Search(ctx, store.SearchQuery{
		Text:  req.Text,
		Limit: req.Limit,
		Mode:  mode,
		Start: req.Start,
		End:   req.End,
	})
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		r := Result{Proposition: h.Proposition, Score: h.Score, Relevance: h.Relevance}
		if r.ParentIDs, err = e.store.ParentIDs(ctx, h.Proposition.ID); err != nil {
			return nil, fmt.Errorf("load parents of %d: %w", h.Proposition.ID, err)
		}
		if r.Observations, err = e.store.ObservationsFor(ctx, h.Proposition.ID); err != nil {
			return nil, fmt.Errorf("load observations of %d: %w", h.Proposition.ID, err)
		}
		results = append(results, r)
	}
	return results, nil
}

// Describe returns one proposition with its full revision history and
// captures.
func (e *Engine) Describe(ctx context.Context, id int64) (*Detail, error) {
	p, err := e.store.GetProposition(ctx, id)
	if err != nil {
		return nil, err
	}
	d := &Detail{Proposition: *p}
	if d.ParentIDs, err = e.store.ParentIDs(ctx, id); err != nil {
		return nil, err
	}
	if d.ChildIDs, err = e.store.ChildIDs(ctx, id); err != nil {
		return nil, err
	}
	if d.Lineage, err = e.store.ListGroup(ctx, p.RevisionGroup); err != nil {
		return nil, err
	}
	if d.Observations, err = e.store.ObservationsFor(ctx, id); err != nil {
		return nil, err
	}
	return d, nil
}
