// Package engine runs scan passes: it walks the songs tree, decides which
// files need reprocessing, groups import records, and reconciles the catalog
// through the store repositories.
package engine

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	scanerrors "github.com/taikoweb/songindex/internal/errors"
	"github.com/taikoweb/songindex/internal/metrics"
	"github.com/taikoweb/songindex/internal/scan"
	"github.com/taikoweb/songindex/internal/store"
	"github.com/taikoweb/songindex/internal/tja"
)

const (
	maxUpsertAttempts = 3
	backoffBaseMs     = 50
	backoffJitterMs   = 25
)

// Options selects the scan mode.
type Options struct {
	// Full ignores per-file skip signatures and reprocesses everything.
	Full bool
}

// Summary is the machine-readable result of one scan pass.
type Summary struct {
	Found           int     `json:"found"`
	Inserted        int     `json:"inserted"`
	Updated         int     `json:"updated"`
	Disabled        int     `json:"disabled"`
	Skipped         int     `json:"skipped"`
	Errors          int     `json:"errors"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// Config carries the engine's filesystem and URL settings.
type Config struct {
	SongsDir    string
	BaseURL     string
	IgnoreGlobs []string
}

// Engine coordinates scan passes over one songs root.
type Engine struct {
	cfg     Config
	stores  store.Stores
	walker  *scan.Walker
	log     zerolog.Logger
	metrics metrics.Sink

	// scanMu serializes whole passes; concurrent triggers queue here.
	scanMu sync.Mutex

	// groupLocks serializes catalog writes per group key within the process.
	groupLocksMu sync.Mutex
	groupLocks   map[string]*sync.Mutex

	// id allocation state, seeded lazily from seq and the catalog.
	idMu     sync.Mutex
	idSeeded bool
	nextID   int64
	maxID    int64
}

// New creates an engine over the configured songs root.
func New(cfg Config, stores store.Stores, log zerolog.Logger, sink metrics.Sink) *Engine {
	if sink == nil {
		sink = metrics.Discard
	}
	return &Engine{
		cfg:        cfg,
		stores:     stores,
		walker:     scan.NewWalker(cfg.SongsDir, cfg.IgnoreGlobs, log),
		log:        log,
		metrics:    sink,
		groupLocks: make(map[string]*sync.Mutex),
	}
}

// Bootstrap creates the unique indexes the pipeline relies on.
func (e *Engine) Bootstrap(ctx context.Context) error {
	return e.stores.EnsureIndexes(ctx)
}

// Scan runs one pass. Passes are serialized process-wide; callers requesting
// a scan while one runs wait for their turn.
func (e *Engine) Scan(ctx context.Context, opts Options) (Summary, error) {
	e.scanMu.Lock()
	defer e.scanMu.Unlock()

	start := time.Now()
	summary, err := e.scanPass(ctx, opts)
	summary.DurationSeconds = math.Round(time.Since(start).Seconds()*1000) / 1000
	return summary, err
}

// member is one group entry: a record plus whether it was reprocessed.
type member struct {
	rec   *scan.ImportRecord
	dirty bool
}

func (e *Engine) scanPass(ctx context.Context, opts Options) (Summary, error) {
	var summary Summary

	invalid, err := e.stores.Catalog.CleanupInvalidKeys(ctx)
	if err != nil {
		e.log.Error().Err(err).Msg("invalid group key cleanup failed")
		summary.Errors++
	}
	for _, label := range invalid {
		e.metrics.Add(metrics.InvalidGroupKeyTotal, 1)
		summary.Errors++
		if err := e.stores.Issues.Record(ctx, store.ReasonInvalidGroupKey, label, ""); err != nil {
			e.log.Debug().Err(err).Str("path", label).Msg("failed to record invalid group key issue")
		}
		e.log.Warn().Str("path", label).Msg("deleted catalog row with non-string group key")
	}

	stateRows, err := e.stores.State.All(ctx)
	if err != nil {
		e.log.Error().Err(err).Msg("failed to read scanner state")
		stateRows = map[string]*store.StateRow{}
	}
	managed, err := e.stores.Catalog.ManagedSongs(ctx)
	if err != nil {
		e.log.Error().Err(err).Msg("failed to read managed songs")
		managed = map[int64]bool{}
	}

	paths, err := e.walker.Walk()
	if err != nil {
		if os.IsNotExist(err) {
			e.log.Warn().Str("dir", e.cfg.SongsDir).Msg("songs directory does not exist")
			return summary, nil
		}
		return summary, scanerrors.NewScanError(scanerrors.ErrorTypeWalk, "walk", err)
	}

	categories := map[int]string{0: scan.DefaultCategoryTitle}
	groups := make(map[string]*scan.Group)
	groupMembers := make(map[string][]member)
	seenPaths := make(map[string]struct{}, len(paths))

	for _, rel := range paths {
		summary.Found++
		seenPaths[rel] = struct{}{}

		stat, err := e.walker.Stat(rel)
		if err != nil {
			e.log.Error().Err(err).Str("path", rel).Msg("chart disappeared mid-scan")
			summary.Errors++
			continue
		}

		stateRow := stateRows[rel]
		if rec, key, ok := e.cleanRecord(opts, stateRow, stat); ok {
			summary.Skipped++
			addMember(groups, groupMembers, key, member{rec: rec})
			continue
		}

		rec, err := e.processFile(rel, stat)
		if err != nil {
			e.log.Error().Err(err).Str("path", rel).Msg("failed to process chart")
			summary.Errors++
			continue
		}
		if rec.CategoryID != 0 {
			categories[rec.CategoryID] = rec.CategoryTitle
		}
		key := scan.GroupKey(rec)
		addMember(groups, groupMembers, key, member{rec: rec, dirty: true})
	}

	keys := make([]string, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	seenIDs := make(map[int64]struct{})
	for _, key := range keys {
		group := groups[key]
		doc := scan.Aggregate(group)

		id, inserted, changed, err := e.upsertGroup(ctx, group, doc)
		if err != nil {
			e.log.Error().Err(err).Str("group_key", key).Msg("upsert failed")
			summary.Errors++
			continue
		}
		seenIDs[id] = struct{}{}
		if inserted {
			summary.Inserted++
		} else if group.Dirty && changed {
			summary.Updated++
		}

		for _, m := range groupMembers[key] {
			if !m.dirty {
				continue
			}
			row, err := store.NewStateRow(m.rec, key, id)
			if err != nil {
				e.log.Debug().Err(err).Str("path", m.rec.RelativePath).Msg("failed to snapshot record")
				continue
			}
			if err := e.stores.State.Put(ctx, row); err != nil {
				e.log.Debug().Err(err).Str("path", m.rec.RelativePath).Msg("failed to write scanner state")
			}
		}
	}

	if _, err := e.stores.State.DeleteMissing(ctx, seenPaths); err != nil {
		e.log.Debug().Err(err).Msg("failed to prune stale scanner state")
	}

	for _, id := range sortedCategoryIDs(categories) {
		if err := e.stores.Categories.Upsert(ctx, id, categories[id]); err != nil {
			e.log.Debug().Err(err).Int("category", id).Msg("failed to upsert category")
		}
	}

	missing := make([]int64, 0)
	for id := range managed {
		if _, ok := seenIDs[id]; !ok {
			missing = append(missing, id)
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
	for _, id := range missing {
		transitioned, err := e.stores.Catalog.MarkDisabled(ctx, id)
		if err != nil {
			e.log.Error().Err(err).Int64("id", id).Msg("failed to disable orphaned song")
			summary.Errors++
			continue
		}
		if transitioned {
			summary.Disabled++
		}
	}

	e.persistSeq(ctx)
	return summary, nil
}

func addMember(groups map[string]*scan.Group, members map[string][]member, key string, m member) {
	g, ok := groups[key]
	if !ok {
		g = &scan.Group{Key: key}
		groups[key] = g
	}
	g.Records = append(g.Records, m.rec)
	if m.dirty {
		g.Dirty = true
	}
	members[key] = append(members[key], m)
}

// cleanRecord applies the skip rule: a file is clean only when a state row
// exists, the pass is not full, both filesystem signatures match, and the
// stored snapshot still decodes. Clean files rejoin aggregation through the
// snapshot.
func (e *Engine) cleanRecord(opts Options, row *store.StateRow, stat scan.FileStat) (*scan.ImportRecord, string, bool) {
	if opts.Full || row == nil {
		return nil, "", false
	}
	if row.TJAMtimeNS != stat.MtimeNS || row.TJASize != stat.Size {
		return nil, "", false
	}
	if row.AudioPath == "" {
		// Previously missing audio: recheck on every incremental pass.
		return nil, "", false
	}
	audioStat, err := e.walker.Stat(row.AudioPath)
	if err != nil {
		return nil, "", false
	}
	if row.AudioMtimeNS != audioStat.MtimeNS || row.AudioSize != audioStat.Size {
		return nil, "", false
	}
	rec, ok := row.DecodeSnapshot()
	if !ok {
		return nil, "", false
	}
	key := row.GroupKey
	if key == "" {
		key = scan.GroupKey(rec)
	}
	return rec, key, true
}

// processFile parses a dirty chart and builds its import record. Parser
// panics on pathological input are converted to errors so one file cannot
// abort the pass.
func (e *Engine) processFile(rel string, stat scan.FileStat) (rec *scan.ImportRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			rec = nil
			err = scanerrors.NewScanError(scanerrors.ErrorTypeParse, "parse",
				fmt.Errorf("panic: %v", r)).WithPath(rel)
		}
	}()

	parsed, err := tja.ParseFile(e.walker.Abs(rel), rel)
	if err != nil {
		return nil, scanerrors.NewScanError(scanerrors.ErrorTypeParse, "read", err).WithPath(rel)
	}
	if parsed.Encoding != tja.EncodingUTF8 && parsed.Encoding != tja.EncodingUTF8BOM && parsed.Encoding != tja.EncodingUTF16 {
		e.log.Warn().Str("path", rel).Str("encoding", parsed.Encoding).Msg("decoded chart with non-UTF encoding")
	}

	audioRel, diagnostics := e.walker.DiscoverAudio(rel, parsed)
	var audio scan.AudioInfo
	if audioRel != "" {
		audio, err = e.walker.ReadAudio(audioRel)
		if err != nil {
			return nil, scanerrors.NewScanError(scanerrors.ErrorTypeWalk, "read audio", err).WithPath(audioRel)
		}
	}

	e.metrics.Add(metrics.TJANotesTotal, int64(parsed.TotalNotes()))
	e.metrics.Add(metrics.TJAUnknownDirectivesTotal, int64(parsed.UnknownDirectives))
	if parsed.HasDojo {
		e.metrics.Add(metrics.TJADojoParsedTotal, 1)
	}

	category := e.walker.CategoryFor(rel)
	return scan.BuildRecord(e.cfg.BaseURL, rel, parsed, audio, diagnostics, stat, category), nil
}

// upsertGroup reconciles one group's catalog row under the per-key lock:
// atomic find-or-create with bounded retries on unique-index races, id
// assignment for fresh rows, then a refresh and chart sync when the group
// changed this pass.
func (e *Engine) upsertGroup(ctx context.Context, group *scan.Group, doc *scan.CatalogDoc) (int64, bool, bool, error) {
	unlock := e.lockGroup(group.Key)
	defer unlock()

	var (
		meta    store.CatalogMeta
		outcome store.UpsertOutcome
	)
	for attempt := 0; ; attempt++ {
		var err error
		meta, outcome, err = e.stores.Catalog.UpsertOnGroupKey(ctx, group.Key, doc)
		if err != nil {
			return 0, false, false, scanerrors.NewScanError(scanerrors.ErrorTypeStore, "upsert", err).WithGroupKey(group.Key)
		}
		if outcome != store.OutcomeConflict {
			break
		}
		e.metrics.Add(metrics.DuplicateKeyRetriesTotal, 1)
		if attempt+1 >= maxUpsertAttempts {
			return 0, false, false, scanerrors.NewScanError(scanerrors.ErrorTypeStore, "upsert",
				fmt.Errorf("duplicate key conflict persisted after %d attempts", maxUpsertAttempts)).
				WithGroupKey(group.Key)
		}
		backoff := time.Duration(backoffBaseMs*(attempt+1)+rand.Intn(backoffJitterMs)) * time.Millisecond
		time.Sleep(backoff)
	}

	inserted := outcome == store.OutcomeInserted
	id := meta.ID
	if !meta.HasID {
		var err error
		id, err = e.allocateID(ctx)
		if err != nil {
			return 0, false, false, err
		}
		if err := e.stores.Catalog.AssignID(ctx, group.Key, id); err != nil {
			return 0, false, false, scanerrors.NewScanError(scanerrors.ErrorTypeStore, "assign id", err).WithGroupKey(group.Key)
		}
	}

	changed := false
	if group.Dirty || inserted {
		var err error
		changed, err = e.stores.Catalog.Refresh(ctx, group.Key, doc)
		if err != nil {
			return 0, false, false, scanerrors.NewScanError(scanerrors.ErrorTypeStore, "refresh", err).WithGroupKey(group.Key)
		}
		synced, err := e.stores.Catalog.SyncCharts(ctx, group.Key, doc.Charts)
		if err != nil {
			return 0, false, false, scanerrors.NewScanError(scanerrors.ErrorTypeStore, "sync charts", err).WithGroupKey(group.Key)
		}
		e.metrics.Add(metrics.ChartsSyncedTotal, int64(synced))
		e.metrics.Add(metrics.SongsUpsertedTotal, 1)
	}
	return id, inserted, changed, nil
}

func (e *Engine) lockGroup(key string) func() {
	e.groupLocksMu.Lock()
	mu, ok := e.groupLocks[key]
	if !ok {
		mu = &sync.Mutex{}
		e.groupLocks[key] = mu
	}
	e.groupLocksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// allocateID hands out strictly monotonic ids, seeding the counter from the
// persisted sequence and the highest catalog id on first use.
func (e *Engine) allocateID(ctx context.Context) (int64, error) {
	e.idMu.Lock()
	defer e.idMu.Unlock()

	if !e.idSeeded {
		seq, err := e.stores.Seq.Current(ctx)
		if err != nil {
			return 0, scanerrors.NewScanError(scanerrors.ErrorTypeStore, "read seq", err)
		}
		maxID, err := e.stores.Catalog.MaxID(ctx)
		if err != nil {
			return 0, scanerrors.NewScanError(scanerrors.ErrorTypeStore, "read max id", err)
		}
		if maxID > seq {
			seq = maxID
		}
		e.maxID = seq
		e.nextID = seq + 1
		e.idSeeded = true
	}

	id := e.nextID
	e.nextID++
	if id > e.maxID {
		e.maxID = id
	}
	return id, nil
}

func (e *Engine) persistSeq(ctx context.Context) {
	e.idMu.Lock()
	maxID := e.maxID
	e.idMu.Unlock()
	if maxID <= 0 {
		return
	}
	if err := e.stores.Seq.Set(ctx, maxID); err != nil {
		e.log.Debug().Err(err).Msg("failed to persist song id sequence")
	}
}

func sortedCategoryIDs(categories map[int]string) []int {
	ids := make([]int, 0, len(categories))
	for id := range categories {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
