// Package oracle is the semantic capability boundary of the pipeline:
// proposing drafts from raw updates, classifying drafts against stored
// neighbors, revising drafts into merged statements, and auditing updates
// before anything persists.
package oracle

import (
	"context"
	"fmt"
)

// Content types accepted by oracle calls.
const (
	ContentText  = "input_text"
	ContentImage = "input_image"
)

// Draft is a candidate proposition produced or revised by the oracle.
// Confidence and decay are 1..10 when present.
type Draft struct {
	Text       string `json:"text"`
	Reasoning  string `json:"reasoning"`
	Confidence *int   `json:"confidence,omitempty"`
	Decay      *int   `json:"decay,omitempty"`
}

// RelationLabel classifies a draft against one stored neighbor.
type RelationLabel string

const (
	// RelationIdentical means the draft restates the neighbor.
	RelationIdentical RelationLabel = "IDENTICAL"
	// RelationSimilar means the draft overlaps the neighbor enough to merge.
	RelationSimilar RelationLabel = "SIMILAR"
	// RelationUnrelated means the draft is independent of the neighbor.
	RelationUnrelated RelationLabel = "UNRELATED"
)

// Relation links a draft to a stored neighbor with a label.
type Relation struct {
	Target int64         `json:"target"`
	Label  RelationLabel `json:"label"`
}

// Neighbor is a stored proposition offered to the oracle for comparison.
type Neighbor struct {
	ID        int64  `json:"id"`
	Text      string `json:"text"`
	Reasoning string `json:"reasoning"`
}

// Audit is the pre-persistence gate verdict for one update.
type Audit struct {
	IsNewInformation bool `json:"is_new_information"`
	TransmitData     bool `json:"transmit_data"`
}

// Oracle is the semantic capability the reconciler depends on. Calls are
// stateless and idempotent; callers may retry failures.
type Oracle interface {
	// Propose turns a raw update into at most a handful of drafts.
	Propose(ctx context.Context, content, contentType string) ([]Draft, error)
	// Classify labels a draft against each neighbor.
	Classify(ctx context.Context, draft Draft, neighbors []Neighbor) ([]Relation, error)
	// Revise merges a draft with its similar neighbors into one statement.
	Revise(ctx context.Context, draft Draft, neighbors []Neighbor) (Draft, error)
	// Audit decides whether an update may be recorded at all.
	Audit(ctx context.Context, content, contentType string) (Audit, error)
}

// CallError reports a failed oracle call together with the operation name.
type CallError struct {
	Op  string
	Err error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("oracle %s: %v", e.Op, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }
