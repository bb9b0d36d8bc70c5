package scan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taikoweb/songindex/internal/tja"
)

func parsedFixture(t *testing.T, text string) *tja.File {
	t.Helper()
	f, err := tja.Parse([]byte(text), "01 Pop/Pack/song.tja")
	require.NoError(t, err)
	return f
}

func TestBuildRecordURLs(t *testing.T) {
	parsed := parsedFixture(t, "TITLE:Song\nWAVE:song.ogg\nCOURSE:Oni\nLEVEL:5\n#START\n11,\n#END")
	audio := AudioInfo{RelPath: "01 Pop/Pack/song.ogg", Hash: "deadbeef", MtimeNS: 10, Size: 20}

	rec := BuildRecord("/songs/", "01 Pop/Pack/song.tja", parsed, audio, nil,
		FileStat{MtimeNS: 1, Size: 2}, Category{ID: 1, Title: "Pop"})

	assert.Equal(t, "/songs/01 Pop/Pack/song.tja", rec.TJAURL)
	assert.Equal(t, "/songs/01 Pop/Pack/", rec.DirURL)
	assert.Equal(t, "/songs/01 Pop/Pack/song.ogg", rec.AudioURL)
	assert.Equal(t, "ogg", rec.MusicType)
	assert.Equal(t, "01 Pop/Pack", rec.RelativeDir)
	assert.Equal(t, 1, rec.CategoryID)
	assert.Equal(t, "song", rec.TitleKey)
	assert.True(t, rec.HasAudio())
	assert.Equal(t, 1, rec.ValidChartCount())
	assert.Empty(t, rec.Diagnostics)
}

func TestBuildRecordRootLevelFile(t *testing.T) {
	parsed := parsedFixture(t, "TITLE:Solo\nCOURSE:Oni\nLEVEL:5\n#START\n11,\n#END")
	rec := BuildRecord("/songs/", "solo.tja", parsed, AudioInfo{}, []string{DiagNoAudio},
		FileStat{}, Category{Title: DefaultCategoryTitle})

	assert.Equal(t, "/songs/solo.tja", rec.TJAURL)
	assert.Equal(t, "/songs/", rec.DirURL)
	assert.Empty(t, rec.AudioURL)
	assert.Equal(t, []string{DiagNoAudio}, rec.Diagnostics)
}

func TestImportIssuesUnion(t *testing.T) {
	parsed := parsedFixture(t, "COURSE:Oni\n#START\n#END")
	rec := BuildRecord("/songs/", "Pack/song.tja", parsed, AudioInfo{}, []string{DiagNoAudio},
		FileStat{}, Category{})

	// Chart issues (missing level, empty chart) union with record gaps.
	assert.Contains(t, rec.ImportIssues, tja.IssueMissingLevel)
	assert.Contains(t, rec.ImportIssues, tja.IssueEmptyChart)
	assert.Contains(t, rec.ImportIssues, IssueMissingTitle)
	assert.Contains(t, rec.ImportIssues, IssueMissingWave)
	assert.Contains(t, rec.ImportIssues, IssueMissingAudio)
	assert.Contains(t, rec.ImportIssues, IssueNoValidCourse)
	assert.NotContains(t, rec.ImportIssues, IssueNoCourses)
	assert.IsIncreasing(t, rec.ImportIssues)
}

func TestImportIssuesNoCourses(t *testing.T) {
	parsed := parsedFixture(t, "TITLE:Only Metadata\nWAVE:a.ogg")
	rec := BuildRecord("/songs/", "Pack/song.tja", parsed, AudioInfo{}, nil, FileStat{}, Category{})
	assert.Contains(t, rec.ImportIssues, IssueNoCourses)
	assert.NotContains(t, rec.ImportIssues, IssueNoValidCourse)
}
