// Package reconcile turns captured updates into versioned proposition
// lineages. Each update is audited, expanded into drafts, compared against
// what the store already holds, and committed in a single transaction:
// new statements start a lineage at version 1, restatements attach to the
// existing row, and overlapping statements become a revised row one
// version above its sources.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/inklingd/inkling/internal/observe"
	"github.com/inklingd/inkling/internal/oracle"
	"github.com/inklingd/inkling/internal/store"
)

// Terminal statuses for one reconciled update.
const (
	StatusCommitted = "committed"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"
)

// Outcome reports how one update was reconciled. PropositionIDs lists the
// rows the update created or attached to; it is empty when nothing was
// written. Err carries the update-level error for skipped and failed
// outcomes, and the contained propose error when a bare observation was
// committed without drafts.
type Outcome struct {
	Status         string         `json:"status"`
	Observer       string         `json:"observer_name"`
	Update         observe.Update `json:"update"`
	ObservationID  int64          `json:"observation_id,omitempty"`
	PropositionIDs []int64        `json:"proposition_ids,omitempty"`
	Audit          *oracle.Audit  `json:"audit,omitempty"`
	Err            error          `json:"-"`
}

// Options configures New.
type Options struct {
	Store  *store.Store
	Oracle oracle.Oracle
	// NeighborLimit caps how many stored propositions are compared against
	// each draft. Zero selects 10.
	NeighborLimit int
	// Audit gates every update through the oracle audit call before any
	// store write.
	Audit bool
}

// Reconciler processes one update at a time into a consistent set of store
// writes. It is safe for concurrent use; commits touching the same
// revision group are serialized so version numbers never race.
type Reconciler struct {
	store         *store.Store
	oracle        oracle.Oracle
	neighborLimit int
	audit         bool
	locks         *groupLocks
}

// New creates a reconciler.
func New(opts Options) *Reconciler {
	if opts.NeighborLimit <= 0 {
		opts.NeighborLimit = 10
	}
	return &Reconciler{
		store:         opts.Store,
		oracle:        opts.Oracle,
		neighborLimit: opts.NeighborLimit,
		audit:         opts.Audit,
		locks:         newGroupLocks(),
	}
}

// Reconcile processes one live update from the named producer.
func (r *Reconciler) Reconcile(ctx context.Context, observer string, u observe.Update) Outcome {
	return r.reconcile(ctx, observer, u, 0)
}

// ReconcileQueued replays an update spooled at the previous shutdown. On
// commit the spool row is deleted inside the same transaction, so a crash
// mid-replay leaves the row queued rather than lost. Skipped and failed
// replays clear the row too; the core never retries an update on its own.
func (r *Reconciler) ReconcileQueued(ctx context.Context, p store.PendingUpdate) Outcome {
	u := observe.Update{Content: p.Content, Kind: observe.ContentType(p.ContentType), At: p.At}
	return r.reconcile(ctx, p.Observer, u, p.ID)
}

func (r *Reconciler) reconcile(ctx context.Context, observer string, u observe.Update, spoolID int64) Outcome {
	out := Outcome{Status: StatusFailed, Observer: observer, Update: u}

	kind, err := observe.ParseContentType(string(u.Kind))
	if err != nil {
		out.Err = fmt.Errorf("update from %s: %w", observer, err)
		r.clearSpool(ctx, spoolID)
		return out
	}
	if u.Content == "" {
		out.Err = fmt.Errorf("update from %s: empty content", observer)
		r.clearSpool(ctx, spoolID)
		return out
	}

	if r.audit {
		verdict, err := r.auditUpdate(ctx, u)
		if err != nil {
			// No verdict means no transmit.
			slog.Warn("Audit failed, withholding update", "observer", observer, "error", err)
			out.Status = StatusSkipped
			out.Err = err
			r.clearSpool(ctx, spoolID)
			return out
		}
		out.Audit = &verdict
		if !verdict.TransmitData {
			out.Status = StatusSkipped
			r.clearSpool(ctx, spoolID)
			return out
		}
	}

	drafts, err := r.propose(ctx, u)
	if err != nil {
		// The raw capture is still worth keeping as a bare observation.
		slog.Warn("Propose failed, committing observation without drafts",
			"observer", observer, "error", err)
		out.Err = err
		drafts = nil
	}

	plans, err := r.plan(ctx, drafts)
	if err != nil {
		out.Err = err
		r.clearSpool(ctx, spoolID)
		return out
	}

	obsID, propIDs, err := r.commit(ctx, observer, string(kind), u, plans, spoolID)
	if err != nil {
		out.Err = err
		r.clearSpool(ctx, spoolID)
		return out
	}
	out.Status = StatusCommitted
	out.ObservationID = obsID
	out.PropositionIDs = propIDs
	return out
}

// draftPlan is the decided fate of one draft: attach to identical rows,
// revise similar rows, or start a new lineage when both lists are empty.
type draftPlan struct {
	draft   oracle.Draft
	attach  []store.Proposition // identical targets
	parents []store.Proposition // similar sources for a revision
	groups  []string            // distinct source groups, sorted
}

// plan resolves each draft against the store without holding any lock or
// transaction, so slow oracle calls never stall other writers. Oracle
// failures drop the one draft; store read failures fail the whole update.
func (r *Reconciler) plan(ctx context.Context, drafts []oracle.Draft) ([]draftPlan, error) {
	var plans []draftPlan
	for _, d := range drafts {
		hits, err := r.store.Search(ctx, store.SearchQuery{Text: d.Text, Limit: r.neighborLimit})
		if err != nil {
			return nil, fmt.Errorf("search neighbors: %w", err)
		}
		if len(hits) == 0 {
			plans = append(plans, draftPlan{draft: d})
			continue
		}

		neighbors := make([]store.Proposition, len(hits))
		for i, h := range hits {
			neighbors[i] = h.Proposition
		}
		relations, err := r.classify(ctx, d, neighbors)
		if err != nil {
			slog.Warn("Classify failed, dropping draft", "text", d.Text, "error", err)
			continue
		}

		labels := make(map[int64]oracle.RelationLabel, len(relations))
		for _, rel := range relations {
			labels[rel.Target] = rel.Label
		}
		var identical, similar []store.Proposition
		for _, n := range neighbors {
			switch labels[n.ID] {
			case oracle.RelationIdentical:
				identical = append(identical, n)
			case oracle.RelationSimilar:
				similar = append(similar, n)
			}
		}

		switch {
		case len(identical) > 0:
			// A restatement adds nothing new, even if other neighbors
			// were merely similar.
			plans = append(plans, draftPlan{draft: d, attach: identical})
		case len(similar) > 0:
			merged, err := r.revise(ctx, d, similar)
			if err != nil {
				slog.Warn("Revise failed, dropping draft", "text", d.Text, "error", err)
				continue
			}
			plans = append(plans, draftPlan{
				draft:   merged,
				parents: similar,
				groups:  distinctGroups(similar),
			})
		default:
			plans = append(plans, draftPlan{draft: d})
		}
	}
	return plans, nil
}

// commit applies every plan in one transaction. Source groups are locked
// first and their latest versions re-read under the lock, so concurrent
// revisions of one lineage commit as consecutive versions.
func (r *Reconciler) commit(ctx context.Context, observer, contentType string, u observe.Update, plans []draftPlan, spoolID int64) (int64, []int64, error) {
	lockSet := make([]string, 0, len(plans))
	for _, p := range plans {
		lockSet = append(lockSet, p.groups...)
	}
	release := r.locks.acquire(lockSet...)
	defer release()

	tx, err := r.store.Begin(ctx)
	if err != nil {
		return 0, nil, err
	}
	defer tx.Rollback()

	obs := &store.Observation{
		Observer:    observer,
		Content:     u.Content,
		ContentType: contentType,
		CreatedAt:   u.At,
	}
	obsID, err := tx.InsertObservation(ctx, obs)
	if err != nil {
		return 0, nil, err
	}

	// Versions minted earlier in this same transaction are not yet
	// visible to store reads, so track them here.
	minted := make(map[string]int)
	var propIDs []int64

	for _, p := range plans {
		switch {
		case len(p.attach) > 0:
			for _, target := range p.attach {
				if err := tx.LinkObservation(ctx, obsID, target.ID); err != nil {
					return 0, nil, err
				}
				if p.draft.Confidence != nil || p.draft.Decay != nil {
					if err := tx.UpdateConfidenceDecay(ctx, target.ID, p.draft.Confidence, p.draft.Decay); err != nil {
						return 0, nil, err
					}
				}
				if err := tx.TouchProposition(ctx, target.ID); err != nil {
					return 0, nil, err
				}
				propIDs = append(propIDs, target.ID)
			}

		case len(p.parents) > 0:
			version := 0
			for _, g := range p.groups {
				latest, err := r.store.LatestVersion(ctx, g)
				if err != nil {
					return 0, nil, err
				}
				if latest > version {
					version = latest
				}
				if minted[g] > version {
					version = minted[g]
				}
			}
			version++

			group := p.groups[0]
			if len(p.groups) > 1 {
				group = uuid.NewString()
			}
			minted[group] = version

			prop := &store.Proposition{
				Text:          p.draft.Text,
				Reasoning:     p.draft.Reasoning,
				Confidence:    p.draft.Confidence,
				Decay:         p.draft.Decay,
				RevisionGroup: group,
				Version:       version,
			}
			propID, err := tx.InsertProposition(ctx, prop)
			if err != nil {
				return 0, nil, err
			}
			if err := tx.LinkObservation(ctx, obsID, propID); err != nil {
				return 0, nil, err
			}
			for _, parent := range p.parents {
				if err := tx.LinkParent(ctx, propID, parent.ID); err != nil {
					return 0, nil, err
				}
			}
			propIDs = append(propIDs, propID)

		default:
			prop := &store.Proposition{
				Text:          p.draft.Text,
				Reasoning:     p.draft.Reasoning,
				Confidence:    p.draft.Confidence,
				Decay:         p.draft.Decay,
				RevisionGroup: uuid.NewString(),
				Version:       1,
			}
			propID, err := tx.InsertProposition(ctx, prop)
			if err != nil {
				return 0, nil, err
			}
			if err := tx.LinkObservation(ctx, obsID, propID); err != nil {
				return 0, nil, err
			}
			propIDs = append(propIDs, propID)
		}
	}

	if spoolID != 0 {
		if err := tx.DeletePending(ctx, spoolID); err != nil {
			return 0, nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, nil, fmt.Errorf("commit update: %w", err)
	}
	return obsID, propIDs, nil
}

// clearSpool removes a queued update after a terminal outcome that never
// reached the commit transaction.
func (r *Reconciler) clearSpool(ctx context.Context, id int64) {
	if id == 0 {
		return
	}
	if err := r.store.DeletePending(ctx, id); err != nil {
		slog.Warn("Failed to clear queued update", "id", id, "error", err)
	}
}

// Oracle wrappers retry once; the client itself is single-shot.

func (r *Reconciler) auditUpdate(ctx context.Context, u observe.Update) (oracle.Audit, error) {
	verdict, err := r.oracle.Audit(ctx, u.Content, string(u.Kind))
	if err != nil && ctx.Err() == nil {
		verdict, err = r.oracle.Audit(ctx, u.Content, string(u.Kind))
	}
	return verdict, err
}

func (r *Reconciler) propose(ctx context.Context, u observe.Update) ([]oracle.Draft, error) {
	drafts, err := r.oracle.Propose(ctx, u.Content, string(u.Kind))
	if err != nil && ctx.Err() == nil {
		drafts, err = r.oracle.Propose(ctx, u.Content, string(u.Kind))
	}
	return drafts, err
}

func (r *Reconciler) classify(ctx context.Context, d oracle.Draft, neighbors []store.Proposition) ([]oracle.Relation, error) {
	ns := neighborsOf(neighbors)
	relations, err := r.oracle.Classify(ctx, d, ns)
	if err != nil && ctx.Err() == nil {
		relations, err = r.oracle.Classify(ctx, d, ns)
	}
	return relations, err
}

func (r *Reconciler) revise(ctx context.Context, d oracle.Draft, similar []store.Proposition) (oracle.Draft, error) {
	ns := neighborsOf(similar)
	merged, err := r.oracle.Revise(ctx, d, ns)
	if err != nil && ctx.Err() == nil {
		merged, err = r.oracle.Revise(ctx, d, ns)
	}
	return merged, err
}

func neighborsOf(props []store.Proposition) []oracle.Neighbor {
	out := make([]oracle.Neighbor, len(props))
	for i, p := range props {
		out[i] = oracle.Neighbor{ID: p.ID, Text: p.Text, Reasoning: p.Reasoning}
	}
	return out
}

func distinctGroups(props []store.Proposition) []string {
	seen := make(map[string]bool, len(props))
	var groups []string
	for _, p := range props {
		if !seen[p.RevisionGroup] {
			seen[p.RevisionGroup] = true
			groups = append(groups, p.RevisionGroup)
		}
	}
	sort.Strings(groups)
	return groups
}
