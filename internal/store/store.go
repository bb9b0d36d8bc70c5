// Package store defines the typed repositories the engine persists through.
//
// The pipeline core depends only on these interfaces; the mongo backend
// implements them against the real catalog and the memory backend backs the
// engine tests with the same semantics.
package store

import (
	"context"

	"github.com/taikoweb/songindex/internal/scan"
)

// Collection names used by the mongo backend.
const (
	CollectionSongs      = "songs"
	CollectionCategories = "categories"
	CollectionState      = "song_scanner_state"
	CollectionIssues     = "import_issues"
	CollectionSeq        = "seq"
)

// ReasonInvalidGroupKey is the issue-row reason recorded when a catalog row
// carries a non-string group key.
const ReasonInvalidGroupKey = "invalid-group-key"

// UpsertOutcome classifies an atomic insert-or-fetch. The retry loop in the
// engine pattern-matches on OutcomeConflict instead of driver exceptions.
type UpsertOutcome int

const (
	// OutcomeInserted means the upsert created the row.
	OutcomeInserted UpsertOutcome = iota
	// OutcomeExisting means the row was already present and was returned.
	OutcomeExisting
	// OutcomeConflict means a concurrent insert won the unique-index race;
	// the operation is safe to retry.
	OutcomeConflict
)

// CatalogMeta is the identity slice of a catalog row returned by the upsert.
type CatalogMeta struct {
	ID    int64
	HasID bool
}

// CatalogStore persists the one-row-per-group song catalog.
type CatalogStore interface {
	EnsureIndexes(ctx context.Context) error

	// CleanupInvalidKeys deletes scanner-managed rows whose group_key is not
	// a string and returns an identifying label per deleted row.
	CleanupInvalidKeys(ctx context.Context) ([]string, error)

	// UpsertOnGroupKey atomically finds or creates the row for key. The base
	// document is written only on create, without id, order or charts.
	UpsertOnGroupKey(ctx context.Context, key string, base *scan.CatalogDoc) (CatalogMeta, UpsertOutcome, error)

	// AssignID sets id and order on the row for key if it has none.
	AssignID(ctx context.Context, key string, id int64) error

	// Refresh rewrites the row's non-identity fields from doc; id, order and
	// the charts array are never touched. The return value reports whether
	// the stored row actually changed.
	Refresh(ctx context.Context, key string, doc *scan.CatalogDoc) (bool, error)

	// SyncCharts reconciles the row's charts array against the desired list:
	// matching elements update in place, missing ones append, stale ones are
	// pulled. Returns the number of charts written.
	SyncCharts(ctx context.Context, key string, charts []scan.ChartDoc) (int, error)

	// MaxID returns the highest assigned song id, or 0 when none exist.
	MaxID(ctx context.Context) (int64, error)

	// ManagedSongs returns id -> enabled for every scanner-managed row.
	ManagedSongs(ctx context.Context) (map[int64]bool, error)

	// MarkDisabled tombstones the row with the given id. The return value
	// reports whether the row transitioned from enabled.
	MarkDisabled(ctx context.Context, id int64) (bool, error)
}

// StateStore persists per-file scan state for incremental passes.
type StateStore interface {
	EnsureIndexes(ctx context.Context) error
	All(ctx context.Context) (map[string]*StateRow, error)
	Put(ctx context.Context, row *StateRow) error

	// DeleteMissing prunes rows whose tja_path is not in seen and returns
	// the number removed.
	DeleteMissing(ctx context.Context, seen map[string]struct{}) (int, error)
}

// IssueStore records engine-level issues, unique per (reason, path, course).
type IssueStore interface {
	EnsureIndexes(ctx context.Context) error
	Record(ctx context.Context, reason, path, courseRaw string) error
}

// SeqStore persists the song-id allocation counter.
type SeqStore interface {
	Current(ctx context.Context) (int64, error)
	Set(ctx context.Context, value int64) error
}

// CategoryStore persists the top-level folder categories.
type CategoryStore interface {
	Upsert(ctx context.Context, id int, title string) error
}

// Stores bundles the repositories the engine needs.
type Stores struct {
	Catalog    CatalogStore
	State      StateStore
	Issues     IssueStore
	Seq        SeqStore
	Categories CategoryStore
}

// EnsureIndexes bootstraps every unique index, tolerating pre-existence.
func (s Stores) EnsureIndexes(ctx context.Context) error {
	if err := s.Catalog.EnsureIndexes(ctx); err != nil {
		return err
	}
	if err := s.State.EnsureIndexes(ctx); err != nil {
		return err
	}
	return s.Issues.EnsureIndexes(ctx)
}
