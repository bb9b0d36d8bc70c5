package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taikoweb/songindex/internal/scan"
)

func baseDoc(key string) *scan.CatalogDoc {
	return &scan.CatalogDoc{
		GroupKey:         key,
		Title:            "Song",
		Type:             "tja",
		Enabled:          true,
		ManagedByScanner: true,
		Charts: []scan.ChartDoc{
			{Course: "Oni", Mode: "standard", Stars: 8, TJAPath: "Pack/song.tja"},
		},
	}
}

func TestMemoryUpsertInsertThenExisting(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	catalog := mem.Stores().Catalog

	meta, outcome, err := catalog.UpsertOnGroupKey(ctx, "k1", baseDoc("k1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeInserted, outcome)
	assert.False(t, meta.HasID)

	require.NoError(t, catalog.AssignID(ctx, "k1", 5))

	meta, outcome, err = catalog.UpsertOnGroupKey(ctx, "k1", baseDoc("k1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeExisting, outcome)
	assert.True(t, meta.HasID)
	assert.Equal(t, int64(5), meta.ID)

	// Inserted base never carries the charts array.
	doc := mem.Song("k1")
	assert.Empty(t, doc.Charts)
	assert.Equal(t, int64(5), doc.ID)
	assert.Equal(t, int64(5), doc.Order)
}

func TestMemoryAssignIDNeverReassigns(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	catalog := mem.Stores().Catalog

	_, _, err := catalog.UpsertOnGroupKey(ctx, "k1", baseDoc("k1"))
	require.NoError(t, err)
	require.NoError(t, catalog.AssignID(ctx, "k1", 5))
	require.NoError(t, catalog.AssignID(ctx, "k1", 9))

	assert.Equal(t, int64(5), mem.Song("k1").ID)
}

func TestMemoryUpsertConflictInjection(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	mem.InjectConflicts = 2
	catalog := mem.Stores().Catalog

	_, outcome, err := catalog.UpsertOnGroupKey(ctx, "k1", baseDoc("k1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeConflict, outcome)

	_, outcome, err = catalog.UpsertOnGroupKey(ctx, "k1", baseDoc("k1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeConflict, outcome)

	_, outcome, err = catalog.UpsertOnGroupKey(ctx, "k1", baseDoc("k1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeInserted, outcome)
}

func TestMemoryRefreshPreservesIdentityAndCharts(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	catalog := mem.Stores().Catalog

	_, _, err := catalog.UpsertOnGroupKey(ctx, "k1", baseDoc("k1"))
	require.NoError(t, err)
	require.NoError(t, catalog.AssignID(ctx, "k1", 3))
	_, err = catalog.SyncCharts(ctx, "k1", baseDoc("k1").Charts)
	require.NoError(t, err)

	updated := baseDoc("k1")
	updated.Title = "Renamed"
	updated.ID = 999
	updated.Charts = nil
	changed, err := catalog.Refresh(ctx, "k1", updated)
	require.NoError(t, err)
	assert.True(t, changed)

	// Refreshing with the identical document again is a no-op.
	changed, err = catalog.Refresh(ctx, "k1", updated)
	require.NoError(t, err)
	assert.False(t, changed)

	doc := mem.Song("k1")
	assert.Equal(t, "Renamed", doc.Title)
	assert.Equal(t, int64(3), doc.ID, "refresh must not touch id")
	require.Len(t, doc.Charts, 1, "refresh must not touch charts")
}

func TestMemorySyncChartsUpdateAddPull(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	catalog := mem.Stores().Catalog

	_, _, err := catalog.UpsertOnGroupKey(ctx, "k1", baseDoc("k1"))
	require.NoError(t, err)

	initial := []scan.ChartDoc{
		{Course: "Easy", Mode: "standard", Stars: 2},
		{Course: "Oni", Mode: "standard", Stars: 8},
		{Course: "Unknown", RawCourse: "Custom Alpha", Mode: "standard"},
		{Course: "Unknown", RawCourse: "Custom Beta", Mode: "standard"},
	}
	n, err := catalog.SyncCharts(ctx, "k1", initial)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	require.Len(t, mem.Song("k1").Charts, 4)

	// Second sync: Oni restarred, Easy dropped, one unknown raw dropped.
	next := []scan.ChartDoc{
		{Course: "Oni", Mode: "standard", Stars: 9},
		{Course: "Unknown", RawCourse: "Custom Alpha", Mode: "standard"},
	}
	_, err = catalog.SyncCharts(ctx, "k1", next)
	require.NoError(t, err)

	charts := mem.Song("k1").Charts
	require.Len(t, charts, 2)
	byCourse := map[string]scan.ChartDoc{}
	for _, c := range charts {
		byCourse[c.Course+"/"+c.RawCourse] = c
	}
	assert.Equal(t, 9, byCourse["Oni/"].Stars)
	_, hasAlpha := byCourse["Unknown/Custom Alpha"]
	assert.True(t, hasAlpha)
}

func TestMemorySyncChartsIdempotent(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	catalog := mem.Stores().Catalog

	_, _, err := catalog.UpsertOnGroupKey(ctx, "k1", baseDoc("k1"))
	require.NoError(t, err)

	charts := baseDoc("k1").Charts
	_, err = catalog.SyncCharts(ctx, "k1", charts)
	require.NoError(t, err)
	first := mem.Song("k1").Charts

	_, err = catalog.SyncCharts(ctx, "k1", charts)
	require.NoError(t, err)
	second := mem.Song("k1").Charts

	// Identical modulo the updatedAt stamp.
	for i := range first {
		first[i].UpdatedAt = 0
	}
	for i := range second {
		second[i].UpdatedAt = 0
	}
	assert.Equal(t, first, second)
}

func TestMemoryMarkDisabledTransitionsOnce(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	catalog := mem.Stores().Catalog

	_, _, err := catalog.UpsertOnGroupKey(ctx, "k1", baseDoc("k1"))
	require.NoError(t, err)
	require.NoError(t, catalog.AssignID(ctx, "k1", 1))

	transitioned, err := catalog.MarkDisabled(ctx, 1)
	require.NoError(t, err)
	assert.True(t, transitioned)

	transitioned, err = catalog.MarkDisabled(ctx, 1)
	require.NoError(t, err)
	assert.False(t, transitioned, "tombstoning is idempotent")
}

func TestMemoryStateStore(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	state := mem.Stores().State

	rowA, err := NewStateRow(sampleRecord(), "k", 1)
	require.NoError(t, err)
	require.NoError(t, state.Put(ctx, rowA))

	other := sampleRecord()
	other.RelativePath = "Pack/other.tja"
	rowB, err := NewStateRow(other, "k2", 2)
	require.NoError(t, err)
	require.NoError(t, state.Put(ctx, rowB))

	all, err := state.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	removed, err := state.DeleteMissing(ctx, map[string]struct{}{"Pack/song.tja": {}})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	all, err = state.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Contains(t, all, "Pack/song.tja")
}

func TestMemoryIssuesDedupeOnTriple(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	issues := mem.Stores().Issues

	require.NoError(t, issues.Record(ctx, ReasonInvalidGroupKey, "/songs/a.tja", ""))
	require.NoError(t, issues.Record(ctx, ReasonInvalidGroupKey, "/songs/a.tja", ""))
	require.NoError(t, issues.Record(ctx, ReasonInvalidGroupKey, "/songs/b.tja", ""))
	assert.Equal(t, 2, mem.IssueCount())
}

func TestMemorySeq(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	seq := mem.Stores().Seq

	v, err := seq.Current(ctx)
	require.NoError(t, err)
	assert.Zero(t, v)

	require.NoError(t, seq.Set(ctx, 42))
	v, err = seq.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)
}
