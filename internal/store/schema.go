package store

import (
	"time"
)

// Observation is a single raw capture recorded by a producer.
type Observation struct {
	ID          int64     `json:"id"`
	Observer    string    `json:"observer_name"` // producer that captured it
	Content     string    `json:"content"`
	ContentType string    `json:"content_type"` // input_text or input_image
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Proposition is one versioned statement about the user. Confidence and
// decay are 1..10 and may be absent. Rows in the same revision_group form
// one lineage; parent links record which rows a revision superseded.
type Proposition struct {
	ID            int64     `json:"id"`
	Text          string    `json:"text"`
	Reasoning     string    `json:"reasoning"`
	Confidence    *int      `json:"confidence,omitempty"`
	Decay         *int      `json:"decay,omitempty"`
	RevisionGroup string    `json:"revision_group"`
	Version       int       `json:"version"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// PendingUpdate is a spooled update drained from a producer at shutdown,
// replayed on the next start.
type PendingUpdate struct {
	ID          int64     `json:"id"`
	Observer    string    `json:"observer_name"`
	Content     string    `json:"content"`
	ContentType string    `json:"content_type"`
	At          time.Time `json:"at"`        // the update's own timestamp
	QueuedAt    time.Time `json:"queued_at"` // when it was spooled
}

// SearchHit pairs a proposition with its blended ranking score.
// Relevance is the normalized full-text match strength in (0,1].
type SearchHit struct {
	Proposition Proposition `json:"proposition"`
	Relevance   float64     `json:"relevance"`
	Score       float64     `json:"score"`
}

const Schema = `
CREATE TABLE IF NOT EXISTS observations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	observer_name TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL,
	content_type TEXT NOT NULL DEFAULT 'input_text',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_observations_created ON observations(created_at);
CREATE INDEX IF NOT EXISTS idx_observations_observer ON observations(observer_name);

CREATE TABLE IF NOT EXISTS propositions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	text TEXT NOT NULL,
	reasoning TEXT NOT NULL,
	confidence INTEGER,
	decay INTEGER,
	revision_group TEXT NOT NULL,
	version INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_propositions_group_version ON propositions(revision_group, version);
CREATE INDEX IF NOT EXISTS idx_propositions_group ON propositions(revision_group);
CREATE INDEX IF NOT EXISTS idx_propositions_updated ON propositions(updated_at);

CREATE TABLE IF NOT EXISTS observation_propositions (
	observation_id INTEGER NOT NULL REFERENCES observations(id) ON DELETE CASCADE,
	proposition_id INTEGER NOT NULL REFERENCES propositions(id) ON DELETE CASCADE,
	PRIMARY KEY (observation_id, proposition_id)
);

CREATE INDEX IF NOT EXISTS idx_obs_prop_prop ON observation_propositions(proposition_id);

CREATE TABLE IF NOT EXISTS proposition_parents (
	child_id INTEGER NOT NULL REFERENCES propositions(id) ON DELETE CASCADE,
	parent_id INTEGER NOT NULL REFERENCES propositions(id) ON DELETE CASCADE,
	PRIMARY KEY (child_id, parent_id)
);

CREATE INDEX IF NOT EXISTS idx_prop_parents_parent ON proposition_parents(parent_id);

CREATE VIRTUAL TABLE IF NOT EXISTS propositions_fts USING fts5(
	text,
	reasoning
);

CREATE TABLE IF NOT EXISTS pending_updates (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	observer_name TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL,
	content_type TEXT NOT NULL DEFAULT 'input_text',
	created_at DATETIME NOT NULL,
	queued_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pending_observer ON pending_updates(observer_name);
`
