package tja

import "sort"

// Per-chart issue identifiers. Issues are recorded on the chart and unioned
// into the record's import_issues; they never abort parsing.
const (
	IssueMissingLevel         = "missing-level"
	IssueLevelNonInteger      = "level-non-integer"
	IssueLevelOutOfRange      = "level-out-of-range"
	IssueInvalidLevel         = "invalid-level"
	IssueMissingChartContent  = "missing-chart-content"
	IssueEmptyChart           = "empty-chart"
	IssueUnknownCourse        = "unknown-course"
	IssueUnknownCourseNumeric = "unknown_course_numeric"
	IssueInvalidBranch        = "invalid-branch-sections"
	IssueDuplicateCourse      = "duplicate-course"
	IssueDojoNoSegments       = "dojo_no_segments"
)

// BPMChange records a tempo change at a measure index inside a dojo segment.
type BPMChange struct {
	Measure int     `json:"measure" bson:"measure"`
	BPM     float64 `json:"bpm" bson:"bpm"`
}

// GogoRange brackets a go-go time section by measure index.
type GogoRange struct {
	Start int `json:"start" bson:"start"`
	End   int `json:"end" bson:"end"`
}

// Segment is one song of a dojo course: an audio file plus the measure span
// played against it.
type Segment struct {
	Audio        string      `json:"audio" bson:"audio"`
	StartMeasure int         `json:"start_measure" bson:"start_measure"`
	EndMeasure   int         `json:"end_measure" bson:"end_measure"`
	BPMMap       []BPMChange `json:"bpm_map,omitempty" bson:"bpm_map,omitempty"`
	GogoRanges   []GogoRange `json:"gogo_ranges,omitempty" bson:"gogo_ranges,omitempty"`
}

// Chart summarizes one course section of a TJA file.
type Chart struct {
	Course            Course    `json:"course" bson:"course"`
	RawCourse         string    `json:"raw_course" bson:"raw_course"`
	Mode              Mode      `json:"mode" bson:"mode"`
	Stars             int       `json:"stars" bson:"stars"`
	Branch            bool      `json:"branch" bson:"branch"`
	BranchSections    []string  `json:"branch_sections,omitempty" bson:"branch_sections,omitempty"`
	StartBlocks       int       `json:"start_blocks" bson:"start_blocks"`
	EndBlocks         int       `json:"end_blocks" bson:"end_blocks"`
	HitNotes          int       `json:"hit_notes" bson:"hit_notes"`
	TotalNotes        int       `json:"total_notes" bson:"total_notes"`
	Measures          int       `json:"measures" bson:"measures"`
	FirstPreview      string    `json:"first_preview,omitempty" bson:"first_preview,omitempty"`
	UnknownDirectives int       `json:"unknown_directives" bson:"unknown_directives"`
	Issues            []string  `json:"issues" bson:"issues"`
	Segments          []Segment `json:"segments,omitempty" bson:"segments,omitempty"`
}

// HasIssue reports whether the chart carries the given issue.
func (c *Chart) HasIssue(issue string) bool {
	for _, have := range c.Issues {
		if have == issue {
			return true
		}
	}
	return false
}

// HasBranchSection reports whether the named branch section (N, E or M) was
// seen for this chart.
func (c *Chart) HasBranchSection(name string) bool {
	for _, have := range c.BranchSections {
		if have == name {
			return true
		}
	}
	return false
}

// Valid implements the chart validity predicate: a standard chart needs a
// canonical difficulty, chart content with at least one hit note, and — when
// branched — all three branch sections; a dojo chart needs notes and at
// least one segment.
func (c *Chart) Valid() bool {
	if c.Mode == ModeDojo {
		return c.TotalNotes > 0 && len(c.Segments) > 0
	}
	if !c.Course.IsStandard() {
		return false
	}
	if c.HasIssue(IssueMissingChartContent) || c.HasIssue(IssueUnknownCourse) {
		return false
	}
	if c.TotalNotes <= 0 || c.HitNotes <= 0 {
		return false
	}
	if c.Branch {
		return c.HasBranchSection("N") && c.HasBranchSection("E") && c.HasBranchSection("M")
	}
	return true
}

// File is the immutable result of parsing one TJA file.
type File struct {
	Title      string  `json:"title" bson:"title"`
	TitleJA    string  `json:"title_ja" bson:"title_ja"`
	Subtitle   string  `json:"subtitle" bson:"subtitle"`
	SubtitleJA string  `json:"subtitle_ja" bson:"subtitle_ja"`
	Offset     float64 `json:"offset" bson:"offset"`
	Preview    float64 `json:"preview" bson:"preview"`
	Wave       string  `json:"wave" bson:"wave"`
	Genre      string  `json:"genre" bson:"genre"`
	SongID     string  `json:"song_id" bson:"song_id"`

	Charts  []Chart `json:"charts" bson:"charts"`
	HasDojo bool    `json:"has_dojo" bson:"has_dojo"`

	UnknownDirectives int    `json:"unknown_directives" bson:"unknown_directives"`
	Fingerprint       string `json:"fingerprint" bson:"fingerprint"`
	Hash              string `json:"hash" bson:"hash"`
	Encoding          string `json:"encoding" bson:"encoding"`
}

// TotalNotes sums note counts across all charts.
func (f *File) TotalNotes() int {
	total := 0
	for i := range f.Charts {
		total += f.Charts[i].TotalNotes
	}
	return total
}

func sortedIssueSet(set map[string]struct{}) []string {
	if len(set) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(set))
	for issue := range set {
		out = append(out, issue)
	}
	sort.Strings(out)
	return out
}
