package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/taikoweb/songindex/internal/scan"
)

// unknownCourse mirrors the canonical Unknown course name used in chart
// documents; unknown charts match and pull by raw course as well.
const unknownCourse = "Unknown"

// Memory is an in-process Stores implementation with the same observable
// semantics as the mongo backend. It backs the engine tests and small
// single-process deployments.
type Memory struct {
	mu sync.Mutex

	songs      map[string]*scan.CatalogDoc
	state      map[string]*StateRow
	issues     map[[3]string]struct{}
	seq        int64
	categories map[int]string

	// InjectConflicts makes the next N upserts report OutcomeConflict before
	// succeeding, simulating unique-index races for retry tests.
	InjectConflicts int
}

// NewMemory creates an empty in-memory store bundle.
func NewMemory() *Memory {
	return &Memory{
		songs:      make(map[string]*scan.CatalogDoc),
		state:      make(map[string]*StateRow),
		issues:     make(map[[3]string]struct{}),
		categories: make(map[int]string),
	}
}

// Stores exposes the memory backend through the repository interfaces.
func (m *Memory) Stores() Stores {
	return Stores{
		Catalog:    (*memoryCatalog)(m),
		State:      (*memoryState)(m),
		Issues:     (*memoryIssues)(m),
		Seq:        (*memorySeq)(m),
		Categories: (*memoryCategories)(m),
	}
}

func cloneDoc(doc *scan.CatalogDoc) *scan.CatalogDoc {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil
	}
	var out scan.CatalogDoc
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return &out
}

// Songs returns the catalog rows sorted by group key, for assertions.
func (m *Memory) Songs() []*scan.CatalogDoc {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.songs))
	for key := range m.songs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]*scan.CatalogDoc, 0, len(keys))
	for _, key := range keys {
		out = append(out, cloneDoc(m.songs[key]))
	}
	return out
}

// Song returns the catalog row for a group key, or nil.
func (m *Memory) Song(key string) *scan.CatalogDoc {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.songs[key]
	if !ok {
		return nil
	}
	return cloneDoc(doc)
}

// Categories returns the category titles by id.
func (m *Memory) Categories() map[int]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int]string, len(m.categories))
	for id, title := range m.categories {
		out[id] = title
	}
	return out
}

// IssueCount returns the number of recorded issue rows.
func (m *Memory) IssueCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.issues)
}

type memoryCatalog Memory

func (c *memoryCatalog) EnsureIndexes(context.Context) error { return nil }

func (c *memoryCatalog) CleanupInvalidKeys(context.Context) ([]string, error) {
	// Keys are typed strings in this backend; nothing can go invalid.
	return nil, nil
}

func (c *memoryCatalog) UpsertOnGroupKey(_ context.Context, key string, base *scan.CatalogDoc) (CatalogMeta, UpsertOutcome, error) {
	m := (*Memory)(c)
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.InjectConflicts > 0 {
		m.InjectConflicts--
		return CatalogMeta{}, OutcomeConflict, nil
	}

	if existing, ok := m.songs[key]; ok {
		return CatalogMeta{ID: existing.ID, HasID: existing.ID != 0}, OutcomeExisting, nil
	}
	doc := cloneDoc(base)
	doc.ID = 0
	doc.Order = 0
	doc.Charts = nil
	doc.GroupKey = key
	m.songs[key] = doc
	return CatalogMeta{}, OutcomeInserted, nil
}

func (c *memoryCatalog) AssignID(_ context.Context, key string, id int64) error {
	m := (*Memory)(c)
	m.mu.Lock()
	defer m.mu.Unlock()
	if doc, ok := m.songs[key]; ok && doc.ID == 0 {
		doc.ID = id
		doc.Order = id
	}
	return nil
}

func (c *memoryCatalog) Refresh(_ context.Context, key string, doc *scan.CatalogDoc) (bool, error) {
	m := (*Memory)(c)
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.songs[key]
	if !ok {
		return false, nil
	}
	updated := cloneDoc(doc)
	updated.ID = existing.ID
	updated.Order = existing.Order
	updated.Charts = existing.Charts
	updated.GroupKey = key

	before, _ := json.Marshal(existing)
	after, _ := json.Marshal(updated)
	m.songs[key] = updated
	return string(before) != string(after), nil
}

func (c *memoryCatalog) SyncCharts(_ context.Context, key string, charts []scan.ChartDoc) (int, error) {
	m := (*Memory)(c)
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.songs[key]
	if !ok {
		return 0, nil
	}

	now := time.Now().UnixMilli()
	for _, desired := range charts {
		desired.UpdatedAt = now
		idx := -1
		for i := range doc.Charts {
			if !chartMatches(&doc.Charts[i], &desired) {
				continue
			}
			idx = i
			break
		}
		if idx >= 0 {
			doc.Charts[idx] = desired
		} else {
			doc.Charts = append(doc.Charts, desired)
		}
	}

	canonical := make(map[string]struct{}, len(charts))
	unknownRaw := make(map[string]struct{})
	for _, desired := range charts {
		canonical[desired.Course] = struct{}{}
		if desired.Course == unknownCourse {
			unknownRaw[desired.RawCourse] = struct{}{}
		}
	}
	kept := doc.Charts[:0]
	for _, have := range doc.Charts {
		if _, ok := canonical[have.Course]; !ok {
			continue
		}
		if have.Course == unknownCourse {
			if _, ok := unknownRaw[have.RawCourse]; !ok {
				continue
			}
		}
		kept = append(kept, have)
	}
	doc.Charts = kept
	return len(charts), nil
}

func chartMatches(have, desired *scan.ChartDoc) bool {
	if have.Course != desired.Course {
		return false
	}
	if desired.Course == unknownCourse {
		return have.RawCourse == desired.RawCourse
	}
	return true
}

func (c *memoryCatalog) MaxID(context.Context) (int64, error) {
	m := (*Memory)(c)
	m.mu.Lock()
	defer m.mu.Unlock()
	var max int64
	for _, doc := range m.songs {
		if doc.ID > max {
			max = doc.ID
		}
	}
	return max, nil
}

func (c *memoryCatalog) ManagedSongs(context.Context) (map[int64]bool, error) {
	m := (*Memory)(c)
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int64]bool)
	for _, doc := range m.songs {
		if doc.ManagedByScanner && doc.ID != 0 {
			out[doc.ID] = doc.Enabled
		}
	}
	return out, nil
}

func (c *memoryCatalog) MarkDisabled(_ context.Context, id int64) (bool, error) {
	m := (*Memory)(c)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, doc := range m.songs {
		if doc.ID != id {
			continue
		}
		was := doc.Enabled
		doc.Enabled = false
		return was, nil
	}
	return false, nil
}

type memoryState Memory

func (s *memoryState) EnsureIndexes(context.Context) error { return nil }

func (s *memoryState) All(context.Context) (map[string]*StateRow, error) {
	m := (*Memory)(s)
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*StateRow, len(m.state))
	for path, row := range m.state {
		copied := *row
		out[path] = &copied
	}
	return out, nil
}

func (s *memoryState) Put(_ context.Context, row *StateRow) error {
	m := (*Memory)(s)
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *row
	m.state[row.TJAPath] = &copied
	return nil
}

func (s *memoryState) DeleteMissing(_ context.Context, seen map[string]struct{}) (int, error) {
	m := (*Memory)(s)
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for path := range m.state {
		if _, ok := seen[path]; !ok {
			delete(m.state, path)
			removed++
		}
	}
	return removed, nil
}

type memoryIssues Memory

func (i *memoryIssues) EnsureIndexes(context.Context) error { return nil }

func (i *memoryIssues) Record(_ context.Context, reason, path, courseRaw string) error {
	m := (*Memory)(i)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.issues[[3]string{reason, path, courseRaw}] = struct{}{}
	return nil
}

type memorySeq Memory

func (s *memorySeq) Current(context.Context) (int64, error) {
	m := (*Memory)(s)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seq, nil
}

func (s *memorySeq) Set(_ context.Context, value int64) error {
	m := (*Memory)(s)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq = value
	return nil
}

type memoryCategories Memory

func (c *memoryCategories) Upsert(_ context.Context, id int, title string) error {
	m := (*Memory)(c)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.categories[id] = title
	return nil
}
