package scan

import (
	"sort"
	"strings"

	"github.com/taikoweb/songindex/internal/tja"
)

// IssueDuplicateCourse is the record-level duplicate marker raised when two
// grouped files carry the same difficulty.
const IssueDuplicateCourse = "duplicate_course"

const UnknownValue = "Unknown"

// Group is the set of import records describing one song.
type Group struct {
	Key     string
	Records []*ImportRecord
	// Dirty marks that at least one member was reprocessed this pass; clean
	// groups skip the catalog refresh.
	Dirty bool
}

// groupChart pairs a chart with its owning record during aggregation.
type groupChart struct {
	chart  tja.Chart
	record *ImportRecord
	// display is the dojo display course, resolved before deduplication.
	display   string
	duplicate bool
}

type dedupKey struct {
	course  string
	variant string
}

func chartDedupKey(gc *groupChart) dedupKey {
	c := &gc.chart
	switch {
	case c.Mode == tja.ModeDojo:
		variant := gc.display
		if variant == "" {
			variant = c.RawCourse
		}
		return dedupKey{course: string(c.Mode) + "+" + string(c.Course), variant: variant}
	case c.Course == tja.CourseUnknown:
		variant := c.RawCourse
		if variant == "" {
			variant = strings.ToLower(UnknownValue)
		}
		return dedupKey{course: string(tja.CourseUnknown), variant: variant}
	default:
		return dedupKey{course: string(c.Course)}
	}
}

// Aggregate merges a group's records into the catalog document. Member
// order does not matter: records are sorted by relative path before any
// merge decision, so repeated passes produce identical documents.
func Aggregate(g *Group) *CatalogDoc {
	records := make([]*ImportRecord, len(g.Records))
	copy(records, g.Records)
	sort.Slice(records, func(i, j int) bool {
		return records[i].RelativePath < records[j].RelativePath
	})

	charts := dedupeCharts(records)
	base := selectBase(records)

	doc := &CatalogDoc{
		GroupKey:         g.Key,
		Type:             "tja",
		Volume:           1.0,
		ManagedByScanner: true,
		Courses:          legacyCourses(charts),
		Charts:           chartDocs(charts),
		CategoryID:       base.CategoryID,
		Offset:           base.Offset,
		Preview:          base.Preview,
		AudioHash:        base.Audio.Hash,
		MusicType:        base.MusicType,
		Genre:            genreFor(base),
		Paths: Paths{
			TJAURL:   base.TJAURL,
			AudioURL: base.AudioURL,
			DirURL:   base.DirURL,
		},
	}

	applyTitles(doc, base)
	doc.Hash = mergedDigest(records, func(r *ImportRecord) string { return r.TJAHash })
	doc.Fingerprint = mergedDigest(records, func(r *ImportRecord) string { return r.Fingerprint })
	doc.Enabled = base.HasAudio()

	for _, c := range doc.Charts {
		if c.Valid {
			doc.ValidChartCount++
		}
	}
	doc.ImportIssues = unionStrings(records, func(r *ImportRecord) []string { return r.ImportIssues })
	doc.Diagnostics = unionStrings(records, func(r *ImportRecord) []string { return r.Diagnostics })
	if hasDuplicate(charts) {
		doc.ImportIssues = insertSorted(doc.ImportIssues, IssueDuplicateCourse)
	}
	return doc
}

// dedupeCharts flattens the group's charts and collapses entries sharing a
// dedup key. A collision marks both entries duplicate-course; when exactly
// one of the two is valid, the valid one survives.
func dedupeCharts(records []*ImportRecord) []*groupChart {
	var all []*groupChart
	for _, rec := range records {
		for i := range rec.Charts {
			gc := &groupChart{chart: rec.Charts[i], record: rec}
			if gc.chart.Mode == tja.ModeDojo {
				gc.display = displayCourse(rec, &gc.chart)
			}
			all = append(all, gc)
		}
	}

	kept := make(map[dedupKey]*groupChart)
	order := make([]dedupKey, 0, len(all))
	for _, gc := range all {
		key := chartDedupKey(gc)
		existing, ok := kept[key]
		if !ok {
			kept[key] = gc
			order = append(order, key)
			continue
		}
		existing.duplicate = true
		gc.duplicate = true
		if !existing.chart.Valid() && gc.chart.Valid() {
			kept[key] = gc
		}
	}

	out := make([]*groupChart, 0, len(order))
	for _, key := range order {
		gc := kept[key]
		if gc.duplicate {
			gc.chart.Issues = insertSorted(gc.chart.Issues, tja.IssueDuplicateCourse)
		}
		out = append(out, gc)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		aStd := a.chart.Mode == tja.ModeStandard
		bStd := b.chart.Mode == tja.ModeStandard
		if aStd != bStd {
			return aStd
		}
		if ra, rb := a.chart.Course.Rank(), b.chart.Course.Rank(); ra != rb {
			return ra < rb
		}
		if a.chart.Course != b.chart.Course {
			return a.chart.Course < b.chart.Course
		}
		return a.record.RelativePath < b.record.RelativePath
	})
	return out
}

// displayCourse infers a human label for a dojo chart by scanning the
// file's path components in reverse, then the metadata strings, for a
// cleaned candidate mentioning dan or kyuu.
func displayCourse(rec *ImportRecord, chart *tja.Chart) string {
	components := strings.Split(rec.RelativePath, "/")
	var candidates []string
	for i := len(components) - 1; i >= 0; i-- {
		name := components[i]
		name = strings.TrimSuffix(name, ".tja")
		candidates = append(candidates, name)
	}
	candidates = append(candidates, rec.Title, rec.Subtitle, rec.TitleJA, rec.SubtitleJA)

	for _, candidate := range candidates {
		cleaned := strings.TrimSpace(tja.CleanMetadata(candidate))
		if cleaned == "" {
			continue
		}
		folded := tja.Casefold(cleaned)
		if strings.Contains(folded, "dan") || strings.Contains(folded, "kyuu") {
			return cleaned
		}
	}
	return chart.RawCourse
}

// selectBase picks the record whose metadata seeds the catalog row, scoring
// by valid chart count, chart count, then audio presence.
func selectBase(records []*ImportRecord) *ImportRecord {
	best := records[0]
	bestScore := baseScore(best)
	for _, rec := range records[1:] {
		score := baseScore(rec)
		for i := range score {
			if score[i] != bestScore[i] {
				if score[i] > bestScore[i] {
					best = rec
					bestScore = score
				}
				break
			}
		}
	}
	return best
}

func baseScore(rec *ImportRecord) [3]int {
	hasAudio := 0
	if rec.HasAudio() {
		hasAudio = 1
	}
	return [3]int{rec.ValidChartCount(), len(rec.Charts), hasAudio}
}

func chartDocs(charts []*groupChart) []ChartDoc {
	out := make([]ChartDoc, 0, len(charts))
	for _, gc := range charts {
		c := &gc.chart
		doc := ChartDoc{
			Course:        string(c.Course),
			RawCourse:     c.RawCourse,
			Mode:          string(c.Mode),
			DisplayCourse: gc.display,
			Stars:         c.Stars,
			Branch:        c.Branch,
			Valid:         c.Valid(),
			TJAPath:       gc.record.RelativePath,
			TJAURL:        gc.record.TJAURL,
			HitNotes:      c.HitNotes,
			TotalNotes:    c.TotalNotes,
			Measures:      c.Measures,
			Issues:        c.Issues,
			Segments:      c.Segments,
		}
		out = append(out, doc)
	}
	return out
}

// legacyCourses projects the canonical standard charts onto the fixed
// five-difficulty map; absent difficulties stay null.
func legacyCourses(charts []*groupChart) map[string]*LegacyCourse {
	out := make(map[string]*LegacyCourse, len(tja.StandardCourses))
	for _, course := range tja.StandardCourses {
		out[course.LegacyKey()] = nil
	}
	for _, gc := range charts {
		if gc.chart.Mode != tja.ModeStandard {
			continue
		}
		key := gc.chart.Course.LegacyKey()
		if key == "" {
			continue
		}
		out[key] = &LegacyCourse{Stars: gc.chart.Stars, Branch: gc.chart.Branch}
	}
	return out
}

func applyTitles(doc *CatalogDoc, base *ImportRecord) {
	title := strings.TrimSpace(base.Title)
	if title == "" {
		stem := base.RelativePath
		if idx := strings.LastIndexByte(stem, '/'); idx >= 0 {
			stem = stem[idx+1:]
		}
		stem = strings.TrimSuffix(stem, ".tja")
		title = strings.TrimSpace(tja.CleanMetadata(stem))
	}
	if title == "" {
		title = UnknownValue
	}
	subtitle := strings.TrimSpace(base.Subtitle)
	if subtitle == "" {
		subtitle = UnknownValue
	}
	titleJA := strings.TrimSpace(base.TitleJA)
	subtitleJA := strings.TrimSpace(base.SubtitleJA)

	doc.Title = title
	doc.TitleJA = titleJA
	doc.Subtitle = subtitle
	doc.SubtitleJA = subtitleJA

	jaTitle := titleJA
	if jaTitle == "" {
		jaTitle = title
	}
	jaSubtitle := subtitleJA
	if jaSubtitle == "" {
		jaSubtitle = subtitle
	}
	doc.TitleLang = map[string]string{"ja": jaTitle}
	doc.SubtitleLang = map[string]string{"ja": jaSubtitle}
	doc.Locale = map[string]LocaleEntry{
		"en": {Title: title, Subtitle: subtitle},
	}
	if titleJA != "" || subtitleJA != "" {
		doc.Locale["ja"] = LocaleEntry{Title: jaTitle, Subtitle: jaSubtitle}
	}
}

// genreFor falls back from explicit GENRE to the parent folder name, the
// category title, then the unsorted bucket.
func genreFor(base *ImportRecord) string {
	if base.Genre != "" {
		return base.Genre
	}
	if base.RelativeDir != "" {
		parts := strings.Split(base.RelativeDir, "/")
		leaf := strings.TrimSpace(tja.CleanMetadata(parts[len(parts)-1]))
		if leaf != "" {
			return leaf
		}
	}
	if base.CategoryTitle != "" {
		return base.CategoryTitle
	}
	return DefaultCategoryTitle
}

// mergedDigest folds per-record digests into a group digest stable under
// member reordering.
func mergedDigest(records []*ImportRecord, pick func(*ImportRecord) string) string {
	parts := make([]string, 0, len(records))
	for _, rec := range records {
		parts = append(parts, pick(rec))
	}
	sort.Strings(parts)
	return tja.MD5Text(strings.Join(parts, "|"))
}

func unionStrings(records []*ImportRecord, pick func(*ImportRecord) []string) []string {
	set := make(map[string]struct{})
	for _, rec := range records {
		for _, v := range pick(rec) {
			set[v] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func hasDuplicate(charts []*groupChart) bool {
	for _, gc := range charts {
		if gc.duplicate {
			return true
		}
	}
	return false
}

func insertSorted(list []string, value string) []string {
	for _, have := range list {
		if have == value {
			return list
		}
	}
	out := append(append([]string(nil), list...), value)
	sort.Strings(out)
	return out
}
