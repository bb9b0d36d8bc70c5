package scan

import "github.com/taikoweb/songindex/internal/tja"

// LegacyCourse is one entry of the legacy per-difficulty map kept for the
// pre-group catalog consumers.
type LegacyCourse struct {
	Stars  int  `json:"stars" bson:"stars"`
	Branch bool `json:"branch" bson:"branch"`
}

// ChartDoc is one element of a catalog row's charts array.
type ChartDoc struct {
	Course        string        `json:"course" bson:"course"`
	RawCourse     string        `json:"raw_course,omitempty" bson:"raw_course,omitempty"`
	Mode          string        `json:"mode" bson:"mode"`
	DisplayCourse string        `json:"display_course,omitempty" bson:"display_course,omitempty"`
	Stars         int           `json:"stars" bson:"stars"`
	Branch        bool          `json:"branch" bson:"branch"`
	Valid         bool          `json:"valid" bson:"valid"`
	TJAPath       string        `json:"tja_path" bson:"tja_path"`
	TJAURL        string        `json:"tja_url" bson:"tja_url"`
	HitNotes      int           `json:"hit_notes" bson:"hit_notes"`
	TotalNotes    int           `json:"total_notes" bson:"total_notes"`
	Measures      int           `json:"measures" bson:"measures"`
	Issues        []string      `json:"issues" bson:"issues"`
	Segments      []tja.Segment `json:"segments,omitempty" bson:"segments,omitempty"`
	UpdatedAt     int64         `json:"updatedAt,omitempty" bson:"updatedAt,omitempty"`
}

// LocaleEntry carries localized title and subtitle.
type LocaleEntry struct {
	Title    string `json:"title" bson:"title"`
	Subtitle string `json:"subtitle" bson:"subtitle"`
}

// Paths groups the derived URLs of a catalog row.
type Paths struct {
	TJAURL   string `json:"tja_url" bson:"tja_url"`
	AudioURL string `json:"audio_url,omitempty" bson:"audio_url,omitempty"`
	DirURL   string `json:"dir_url" bson:"dir_url"`
}

// CatalogDoc is the one-per-group catalog row. The id and order fields are
// assigned once at insert and never refreshed.
type CatalogDoc struct {
	ID       int64  `json:"id,omitempty" bson:"id,omitempty"`
	Order    int64  `json:"order,omitempty" bson:"order,omitempty"`
	GroupKey string `json:"group_key" bson:"group_key"`

	Title      string `json:"title" bson:"title"`
	TitleJA    string `json:"titleJa,omitempty" bson:"titleJa,omitempty"`
	Subtitle   string `json:"subtitle" bson:"subtitle"`
	SubtitleJA string `json:"subtitleJa,omitempty" bson:"subtitleJa,omitempty"`

	TitleLang    map[string]string      `json:"title_lang" bson:"title_lang"`
	SubtitleLang map[string]string      `json:"subtitle_lang" bson:"subtitle_lang"`
	Locale       map[string]LocaleEntry `json:"locale" bson:"locale"`

	Courses map[string]*LegacyCourse `json:"courses" bson:"courses"`
	Charts  []ChartDoc               `json:"charts" bson:"charts"`

	Hash        string `json:"hash" bson:"hash"`
	Fingerprint string `json:"fingerprint" bson:"fingerprint"`
	AudioHash   string `json:"audio_hash,omitempty" bson:"audio_hash,omitempty"`

	Paths     Paths  `json:"paths" bson:"paths"`
	MusicType string `json:"music_type,omitempty" bson:"music_type,omitempty"`

	Type    string  `json:"type" bson:"type"`
	Genre   string  `json:"genre" bson:"genre"`
	Offset  float64 `json:"offset" bson:"offset"`
	Preview float64 `json:"preview" bson:"preview"`
	Volume  float64 `json:"volume" bson:"volume"`
	SkinID  int     `json:"skin_id" bson:"skin_id"`
	MakerID int     `json:"maker_id" bson:"maker_id"`

	CategoryID int `json:"category_id" bson:"category_id"`

	Enabled          bool `json:"enabled" bson:"enabled"`
	ManagedByScanner bool `json:"managed_by_scanner" bson:"managed_by_scanner"`

	ValidChartCount int      `json:"valid_chart_count" bson:"valid_chart_count"`
	ImportIssues    []string `json:"import_issues" bson:"import_issues"`
	Diagnostics     []string `json:"diagnostics" bson:"diagnostics"`
}
