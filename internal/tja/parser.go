// Package tja parses TJA chart files into per-course summaries.
//
// The grammar is line-oriented but dirty in practice: mixed encodings,
// inline comments, directives in the middle of note streams, and dojo
// courses that switch audio mid-chart. The parser records problems as
// per-chart issues instead of failing; a returned error means the file
// could not be read at all.
package tja

import (
	"os"
	"strconv"
	"strings"
)

const previewMaxRunes = 120

// Parse decodes and parses raw TJA bytes. relPath is the chart's posix path
// relative to the songs root; its components feed tower taste-marker
// inference.
func Parse(raw []byte, relPath string) (*File, error) {
	text, encodingName := Decode(raw)
	normalized := NormalizeText(text)

	b := newBuilder(relPath)
	b.file.Encoding = encodingName
	b.file.Fingerprint = MD5Text(normalized)
	b.file.Hash = MD5Bytes(raw)

	for _, rawLine := range strings.Split(normalized, "\n") {
		b.line(rawLine)
	}
	return b.finish(), nil
}

// ParseFile reads and parses the TJA file at path.
func ParseFile(path, relPath string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw, relPath)
}

// chartBuilder accumulates one course section. The active course is an index
// into the builder's growing chart vector; the vector is frozen into the
// immutable File by finish.
type chartBuilder struct {
	chart          Chart
	issues         map[string]struct{}
	branchSections map[string]struct{}
	levelSeen      bool

	// dojo bookkeeping
	measureIndex int
	openSegment  *Segment
	gogoStart    int
	gogoOpen     bool
}

type builder struct {
	file           File
	charts         []*chartBuilder
	active         int
	parsingNotes   bool
	pathComponents []string
	currentWave    string
}

func newBuilder(relPath string) *builder {
	var components []string
	if relPath != "" {
		components = strings.Split(relPath, "/")
	}
	return &builder{active: -1, pathComponents: components}
}

func (b *builder) line(rawLine string) {
	line := strings.TrimSpace(rawLine)
	if line == "" {
		return
	}
	if strings.HasPrefix(line, "//") || strings.HasPrefix(line, ";") {
		return
	}
	line = strings.TrimSpace(b.stripInlineComment(line))
	if line == "" || line == "..." || isSeparatorLine(line) {
		return
	}

	switch {
	case strings.HasPrefix(line, "#"):
		b.directive(line)
	case strings.Contains(line, ":"):
		b.metadata(line)
	case b.parsingNotes && isMeasureLine(line):
		b.measureLine(line)
	}
}

// stripInlineComment removes trailing // and ; comments. Inside note streams
// both markers consume to end of line wherever they appear; outside, a
// marker only starts a comment when preceded by whitespace, which keeps
// titles containing semicolons intact.
func (b *builder) stripInlineComment(line string) string {
	if b.parsingNotes {
		if idx := strings.IndexAny(line, ";"); idx >= 0 {
			line = line[:idx]
		}
		if idx := strings.Index(line, "//"); idx >= 0 {
			line = line[:idx]
		}
		return line
	}
	for i := 1; i < len(line); i++ {
		if line[i] != ';' && !(line[i] == '/' && i+1 < len(line) && line[i+1] == '/') {
			continue
		}
		switch line[i-1] {
		case ' ', '\t', '\f', '\v':
			return line[:i]
		}
	}
	return line
}

func isSeparatorLine(line string) bool {
	for _, r := range line {
		if r != ',' && r != ';' {
			return false
		}
	}
	return true
}

// isMeasureLine reports whether a comment-stripped line inside a note stream
// is note data: digits, commas, spaces and bar markers only.
func isMeasureLine(line string) bool {
	for _, r := range line {
		switch {
		case r >= '0' && r <= '9':
		case r == ',' || r == '|' || r == ' ' || r == '\t':
		default:
			return false
		}
	}
	return true
}

// directiveTag classifies a directive line. An enumerated tag set keeps
// branch handling and future known directives from leaking into the unknown
// counters.
type directiveTag int

const (
	tagStart directiveTag = iota
	tagEnd
	tagBranchStart
	tagBranchSection
	tagBranchOther
	tagBPMChange
	tagGogoStart
	tagGogoEnd
	tagNextSong
	tagKnown
	tagUnknown
)

func classifyDirective(token string) directiveTag {
	switch token {
	case "#START":
		return tagStart
	case "#END":
		return tagEnd
	case "#BRANCHSTART":
		return tagBranchStart
	case "#N", "#E", "#M":
		return tagBranchSection
	case "#BRANCHEND", "#SECTION", "#LEVELHOLD":
		return tagBranchOther
	case "#BPMCHANGE":
		return tagBPMChange
	case "#GOGOSTART":
		return tagGogoStart
	case "#GOGOEND":
		return tagGogoEnd
	case "#NEXTSONG":
		return tagNextSong
	case "#MEASURE", "#SCROLL":
		return tagKnown
	}
	if strings.HasPrefix(token, "#BRANCH") {
		return tagBranchOther
	}
	return tagUnknown
}

func (b *builder) directive(line string) {
	fields := strings.Fields(line)
	token := strings.ToUpper(fields[0])
	arg := strings.TrimSpace(strings.TrimPrefix(line, fields[0]))

	switch classifyDirective(token) {
	case tagStart:
		c := b.ensureActive()
		c.chart.StartBlocks++
		b.parsingNotes = true
		if c.chart.Mode == ModeDojo {
			b.openSegment(c)
		}
	case tagEnd:
		if c := b.activeChart(); c != nil {
			c.chart.EndBlocks++
			if c.chart.Mode == ModeDojo {
				b.closeSegment(c)
			}
		}
		b.parsingNotes = false
	case tagBranchStart:
		if c := b.activeChart(); c != nil {
			c.chart.Branch = true
			c.branchSections["START"] = struct{}{}
		}
	case tagBranchSection:
		if c := b.activeChart(); c != nil {
			c.branchSections[strings.TrimPrefix(token, "#")] = struct{}{}
		}
	case tagBranchOther:
		// Branch bookkeeping directives are recognized but carry no state
		// the summary needs.
	case tagBPMChange:
		if c := b.dojoChart(); c != nil {
			if bpm, err := strconv.ParseFloat(arg, 64); err == nil {
				b.openSegment(c)
				c.openSegment.BPMMap = append(c.openSegment.BPMMap, BPMChange{Measure: c.measureIndex, BPM: bpm})
			}
		}
	case tagGogoStart:
		if c := b.dojoChart(); c != nil {
			b.openSegment(c)
			c.gogoStart = c.measureIndex
			c.gogoOpen = true
		}
	case tagGogoEnd:
		if c := b.dojoChart(); c != nil && c.gogoOpen && c.openSegment != nil {
			c.openSegment.GogoRanges = append(c.openSegment.GogoRanges, GogoRange{Start: c.gogoStart, End: c.measureIndex})
			c.gogoOpen = false
		}
	case tagNextSong:
		if c := b.dojoChart(); c != nil {
			b.closeSegment(c)
		}
	case tagKnown:
	case tagUnknown:
		if b.parsingNotes {
			if c := b.activeChart(); c != nil {
				c.chart.UnknownDirectives++
			}
			b.file.UnknownDirectives++
		}
	}
}

func (b *builder) metadata(line string) {
	key, rawValue, _ := strings.Cut(line, ":")
	keyUpper := strings.ToUpper(strings.TrimSpace(key))
	rawValue = strings.TrimSpace(rawValue)
	cleanValue := CleanMetadata(rawValue)

	switch keyUpper {
	case "TITLE":
		b.file.Title = cleanValue
	case "TITLEJA":
		b.file.TitleJA = cleanValue
	case "SUBTITLE":
		b.file.Subtitle = cleanValue
	case "SUBTITLEJA":
		b.file.SubtitleJA = cleanValue
	case "OFFSET":
		if v, err := strconv.ParseFloat(rawValue, 64); err == nil {
			b.file.Offset = v
		}
	case "DEMOSTART", "PREVIEW":
		if v, err := strconv.ParseFloat(rawValue, 64); err == nil {
			b.file.Preview = v
		}
	case "GENRE":
		b.file.Genre = cleanValue
	case "SONGID":
		b.file.SongID = cleanValue
	case "WAVE":
		b.wave(cleanValue)
	case "COURSE":
		b.course(cleanValue)
	case "LEVEL":
		b.level(rawValue)
	}
}

func (b *builder) wave(value string) {
	if b.file.Wave == "" {
		b.file.Wave = value
	}
	b.currentWave = value
	// A wave change inside a dojo course ends the running segment; the next
	// measure line opens a fresh one against the new audio.
	if c := b.dojoChart(); c != nil {
		b.closeSegment(c)
	}
}

func (b *builder) course(value string) {
	b.parsingNotes = false
	res := ResolveCourse(value, b.pathComponents)

	if res.Mode == ModeDojo {
		b.file.HasDojo = true
	}

	idx := -1
	if res.Course == CourseUnknown {
		for i, c := range b.charts {
			if c.chart.Course == CourseUnknown && c.chart.RawCourse == value {
				idx = i
				break
			}
		}
	} else {
		for i, c := range b.charts {
			if c.chart.Course == res.Course {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		idx = b.addChart(res.Course, value, res.Mode)
		if res.Course == CourseUnknown {
			b.charts[idx].issues[IssueUnknownCourse] = struct{}{}
			if res.Issue != "" {
				b.charts[idx].issues[res.Issue] = struct{}{}
			}
		}
	}
	b.active = idx
}

func (b *builder) level(rawValue string) {
	c := b.ensureActive()
	c.levelSeen = true
	v, err := strconv.ParseFloat(strings.TrimSpace(rawValue), 64)
	if err != nil {
		c.issues[IssueInvalidLevel] = struct{}{}
		return
	}
	rounded := int(roundHalfAway(v))
	if float64(int(v)) != v {
		c.issues[IssueLevelNonInteger] = struct{}{}
	}
	if rounded < 1 {
		rounded = 1
		c.issues[IssueLevelOutOfRange] = struct{}{}
	} else if rounded > 10 {
		rounded = 10
		c.issues[IssueLevelOutOfRange] = struct{}{}
	}
	c.chart.Stars = rounded
}

func roundHalfAway(v float64) float64 {
	if v < 0 {
		return float64(int(v - 0.5))
	}
	return float64(int(v + 0.5))
}

func (b *builder) measureLine(line string) {
	c := b.ensureActive()
	if c.chart.FirstPreview == "" {
		c.chart.FirstPreview = truncateRunes(line, previewMaxRunes)
	}
	if c.chart.Mode == ModeDojo {
		b.openSegment(c)
	}

	parts := strings.Split(line, ",")
	for i, part := range parts {
		digits := 0
		for _, r := range part {
			if r < '0' || r > '9' {
				continue
			}
			digits++
			c.chart.TotalNotes++
			if r >= '1' && r <= '6' {
				c.chart.HitNotes++
			}
		}
		if digits > 0 && i < len(parts)-1 {
			c.chart.Measures++
			if c.chart.Mode == ModeDojo {
				c.measureIndex++
			}
		}
	}
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

func (b *builder) addChart(course Course, raw string, mode Mode) int {
	b.charts = append(b.charts, &chartBuilder{
		chart: Chart{
			Course:    course,
			RawCourse: raw,
			Mode:      mode,
		},
		issues:         make(map[string]struct{}),
		branchSections: make(map[string]struct{}),
	})
	return len(b.charts) - 1
}

func (b *builder) activeChart() *chartBuilder {
	if b.active < 0 || b.active >= len(b.charts) {
		return nil
	}
	return b.charts[b.active]
}

// ensureActive returns the active chart, creating the format-default Oni
// course when note data or a level appears before any COURSE line.
func (b *builder) ensureActive() *chartBuilder {
	if c := b.activeChart(); c != nil {
		return c
	}
	b.active = b.addChart(CourseOni, "", ModeStandard)
	return b.charts[b.active]
}

func (b *builder) dojoChart() *chartBuilder {
	c := b.activeChart()
	if c == nil || c.chart.Mode != ModeDojo {
		return nil
	}
	return c
}

func (b *builder) openSegment(c *chartBuilder) {
	if c.openSegment != nil {
		return
	}
	c.openSegment = &Segment{
		Audio:        b.currentWave,
		StartMeasure: c.measureIndex,
	}
	c.gogoOpen = false
}

func (b *builder) closeSegment(c *chartBuilder) {
	seg := c.openSegment
	if seg == nil {
		return
	}
	c.openSegment = nil
	seg.EndMeasure = c.measureIndex
	if c.gogoOpen {
		seg.GogoRanges = append(seg.GogoRanges, GogoRange{Start: c.gogoStart, End: c.measureIndex})
		c.gogoOpen = false
	}
	if seg.EndMeasure <= seg.StartMeasure && len(seg.BPMMap) == 0 && len(seg.GogoRanges) == 0 {
		return
	}
	c.chart.Segments = append(c.chart.Segments, *seg)
}

// finish freezes the chart vector into the immutable File, deriving the
// structural issues that depend on the whole section having been read.
func (b *builder) finish() *File {
	for _, c := range b.charts {
		b.closeSegment(c)

		if !c.levelSeen {
			c.issues[IssueMissingLevel] = struct{}{}
		}
		if c.chart.StartBlocks == 0 {
			c.issues[IssueMissingChartContent] = struct{}{}
		} else if c.chart.TotalNotes == 0 {
			c.issues[IssueEmptyChart] = struct{}{}
		}
		if len(c.branchSections) > 0 {
			c.chart.BranchSections = sortedIssueSet(c.branchSections)
		}
		if c.chart.Branch && !(c.chart.HasBranchSection("N") && c.chart.HasBranchSection("E") && c.chart.HasBranchSection("M")) {
			c.issues[IssueInvalidBranch] = struct{}{}
		}
		if c.chart.Mode == ModeDojo && len(c.chart.Segments) == 0 {
			c.issues[IssueDojoNoSegments] = struct{}{}
		}
		c.chart.Issues = sortedIssueSet(c.issues)
		b.file.Charts = append(b.file.Charts, c.chart)
	}
	if b.file.Charts == nil {
		b.file.Charts = []Chart{}
	}
	return &b.file
}
