// Package scan turns the filesystem tree into import records and merges
// them into catalog documents: walking, audio discovery, record building,
// group identity and aggregation.
package scan

import (
	"sort"
	"strings"

	"github.com/taikoweb/songindex/internal/tja"
	"github.com/taikoweb/songindex/pkg/pathutil"
)

// Record-level issue identifiers, unioned with chart issues into
// import_issues.
const (
	IssueMissingTitle  = "missing-title"
	IssueMissingWave   = "missing-wave"
	IssueMissingAudio  = "missing-audio"
	IssueNoCourses     = "no-courses"
	IssueNoValidCourse = "no-valid-course"
)

// Parser diagnostics attached to records by audio discovery.
const (
	DiagWaveOutsideRoot = "wave-outside-root"
	DiagWaveMissing     = "wave-missing"
	DiagNoAudio         = "no-audio"
)

const DefaultCategoryTitle = "Unsorted"

// AudioInfo describes the companion audio resolved for a chart.
type AudioInfo struct {
	// RelPath is the posix path relative to the songs root; "" when no
	// audio was found.
	RelPath string `json:"rel_path" bson:"rel_path"`
	Hash    string `json:"hash" bson:"hash"`
	MtimeNS int64  `json:"mtime_ns" bson:"mtime_ns"`
	Size    int64  `json:"size" bson:"size"`
}

// ImportRecord is the per-file unit flowing through grouping and
// aggregation. It is immutable once built; the engine snapshots it into the
// state store for incremental passes.
type ImportRecord struct {
	RelativePath string `json:"relative_path" bson:"relative_path"`
	RelativeDir  string `json:"relative_dir" bson:"relative_dir"`

	TJAURL   string `json:"tja_url" bson:"tja_url"`
	DirURL   string `json:"dir_url" bson:"dir_url"`
	AudioURL string `json:"audio_url,omitempty" bson:"audio_url,omitempty"`

	Audio     AudioInfo `json:"audio" bson:"audio"`
	MusicType string    `json:"music_type,omitempty" bson:"music_type,omitempty"`

	TJAHash     string `json:"tja_hash" bson:"tja_hash"`
	Fingerprint string `json:"fingerprint" bson:"fingerprint"`
	TJAMtimeNS  int64  `json:"tja_mtime_ns" bson:"tja_mtime_ns"`
	TJASize     int64  `json:"tja_size" bson:"tja_size"`

	Title      string `json:"title" bson:"title"`
	TitleJA    string `json:"title_ja,omitempty" bson:"title_ja,omitempty"`
	Subtitle   string `json:"subtitle,omitempty" bson:"subtitle,omitempty"`
	SubtitleJA string `json:"subtitle_ja,omitempty" bson:"subtitle_ja,omitempty"`
	TitleKey   string `json:"title_key" bson:"title_key"`
	Genre      string `json:"genre,omitempty" bson:"genre,omitempty"`
	SongID     string `json:"song_id,omitempty" bson:"song_id,omitempty"`
	Wave       string `json:"wave,omitempty" bson:"wave,omitempty"`

	Offset  float64 `json:"offset" bson:"offset"`
	Preview float64 `json:"preview" bson:"preview"`

	CategoryID    int    `json:"category_id" bson:"category_id"`
	CategoryTitle string `json:"category_title" bson:"category_title"`

	Charts []tja.Chart `json:"charts" bson:"charts"`

	ImportIssues []string `json:"import_issues" bson:"import_issues"`
	Diagnostics  []string `json:"diagnostics" bson:"diagnostics"`
}

// HasAudio reports whether companion audio was resolved for the record.
func (r *ImportRecord) HasAudio() bool {
	return r.Audio.RelPath != ""
}

// ValidChartCount counts charts passing the validity predicate.
func (r *ImportRecord) ValidChartCount() int {
	count := 0
	for i := range r.Charts {
		if r.Charts[i].Valid() {
			count++
		}
	}
	return count
}

// BuildRecord assembles an import record from a parsed file and the audio
// resolved by the walker. relPath is the posix path of the TJA relative to
// the songs root.
func BuildRecord(baseURL, relPath string, parsed *tja.File, audio AudioInfo, diagnostics []string, stat FileStat, category Category) *ImportRecord {
	relDir := pathutil.ParentPosix(relPath)
	dirURL := pathutil.JoinURL(baseURL, relDir)
	if !strings.HasSuffix(dirURL, "/") {
		dirURL += "/"
	}

	rec := &ImportRecord{
		RelativePath:  relPath,
		RelativeDir:   relDir,
		TJAURL:        pathutil.JoinURL(baseURL, relPath),
		DirURL:        dirURL,
		Audio:         audio,
		TJAHash:       parsed.Hash,
		Fingerprint:   parsed.Fingerprint,
		TJAMtimeNS:    stat.MtimeNS,
		TJASize:       stat.Size,
		Title:         parsed.Title,
		TitleJA:       parsed.TitleJA,
		Subtitle:      parsed.Subtitle,
		SubtitleJA:    parsed.SubtitleJA,
		TitleKey:      tja.TitleKey(parsed.Title),
		Genre:         parsed.Genre,
		SongID:        parsed.SongID,
		Wave:          parsed.Wave,
		Offset:        parsed.Offset,
		Preview:       parsed.Preview,
		CategoryID:    category.ID,
		CategoryTitle: category.Title,
		Charts:        parsed.Charts,
		Diagnostics:   append([]string(nil), diagnostics...),
	}
	if audio.RelPath != "" {
		rec.AudioURL = pathutil.JoinURL(baseURL, audio.RelPath)
		if idx := strings.LastIndexByte(audio.RelPath, '.'); idx >= 0 {
			rec.MusicType = strings.ToLower(audio.RelPath[idx+1:])
		}
	}
	if rec.Diagnostics == nil {
		rec.Diagnostics = []string{}
	}
	rec.ImportIssues = buildImportIssues(rec, parsed)
	return rec
}

// FileStat carries the filesystem signature of a scanned file.
type FileStat struct {
	MtimeNS int64
	Size    int64
}

// buildImportIssues unions chart-level issues with record-level gaps.
func buildImportIssues(rec *ImportRecord, parsed *tja.File) []string {
	set := make(map[string]struct{})
	for i := range rec.Charts {
		for _, issue := range rec.Charts[i].Issues {
			set[issue] = struct{}{}
		}
	}
	if strings.TrimSpace(parsed.Title) == "" {
		set[IssueMissingTitle] = struct{}{}
	}
	if parsed.Wave == "" {
		set[IssueMissingWave] = struct{}{}
	}
	if !rec.HasAudio() {
		set[IssueMissingAudio] = struct{}{}
	}
	if len(rec.Charts) == 0 {
		set[IssueNoCourses] = struct{}{}
	} else if rec.ValidChartCount() == 0 {
		set[IssueNoValidCourse] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for issue := range set {
		out = append(out, issue)
	}
	sort.Strings(out)
	return out
}
