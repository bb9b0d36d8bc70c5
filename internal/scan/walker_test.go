package scan

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taikoweb/songindex/internal/tja"
)

func writeFile(t *testing.T, root string, rel string, content []byte) string {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, content, 0o644))
	return abs
}

func newTestWalker(t *testing.T, root string) *Walker {
	t.Helper()
	return NewWalker(root, []string{"**/.DS_Store", "**/Thumbs.db"}, zerolog.Nop())
}

func TestWalkSortedAndFiltered(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "02 Game/b.tja", []byte("TITLE:B"))
	writeFile(t, root, "01 Pop/a.tja", []byte("TITLE:A"))
	writeFile(t, root, "01 Pop/readme.txt", []byte("not a chart"))
	writeFile(t, root, "01 Pop/.DS_Store", []byte("junk"))

	w := newTestWalker(t, root)
	paths, err := w.Walk()
	require.NoError(t, err)
	assert.Equal(t, []string{"01 Pop/a.tja", "02 Game/b.tja"}, paths)
}

func TestWalkSkipsSymlinks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks unavailable")
	}
	root := t.TempDir()
	target := writeFile(t, root, "01 Pop/a.tja", []byte("TITLE:A"))
	require.NoError(t, os.Symlink(target, filepath.Join(root, "link.tja")))

	w := newTestWalker(t, root)
	paths, err := w.Walk()
	require.NoError(t, err)
	assert.Equal(t, []string{"01 Pop/a.tja"}, paths)
}

func TestWalkMissingRoot(t *testing.T) {
	w := newTestWalker(t, filepath.Join(t.TempDir(), "absent"))
	_, err := w.Walk()
	assert.Error(t, err)
}

func TestDiscoverAudioWaveTarget(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "Pack/song.tja", []byte(""))
	writeFile(t, root, "Pack/song.ogg", []byte("audio"))
	writeFile(t, root, "Pack/aaa.mp3", []byte("other"))

	w := newTestWalker(t, root)
	rel, diags := w.DiscoverAudio("Pack/song.tja", &tja.File{Wave: "song.ogg"})
	assert.Equal(t, "Pack/song.ogg", rel)
	assert.Empty(t, diags)
}

func TestDiscoverAudioWaveMissingFallsBack(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "Pack/song.tja", []byte(""))
	writeFile(t, root, "Pack/Backing.ogg", []byte("audio"))
	writeFile(t, root, "Pack/alt.mp3", []byte("other"))

	w := newTestWalker(t, root)
	rel, diags := w.DiscoverAudio("Pack/song.tja", &tja.File{Wave: "gone.ogg"})
	// First audio in case-insensitive alphabetical order.
	assert.Equal(t, "Pack/alt.mp3", rel)
	assert.Equal(t, []string{DiagWaveMissing}, diags)
}

func TestDiscoverAudioWaveOutsideRoot(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "Pack/song.tja", []byte(""))

	w := newTestWalker(t, root)
	rel, diags := w.DiscoverAudio("Pack/song.tja", &tja.File{Wave: "../../outside.ogg"})
	assert.Empty(t, rel)
	assert.Equal(t, []string{DiagWaveOutsideRoot, DiagNoAudio}, diags)
}

func TestDiscoverAudioNone(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "Pack/song.tja", []byte(""))

	w := newTestWalker(t, root)
	rel, diags := w.DiscoverAudio("Pack/song.tja", &tja.File{})
	assert.Empty(t, rel)
	assert.Equal(t, []string{DiagNoAudio}, diags)
}

func TestDiscoverAudioDojoPlaylist(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "Dan/trial.tja", []byte(""))
	writeFile(t, root, "Dan/HLS/trial.t3u8", []byte("#EXTM3U"))
	writeFile(t, root, "Dan/full.ogg", []byte("audio"))

	w := newTestWalker(t, root)
	rel, diags := w.DiscoverAudio("Dan/trial.tja", &tja.File{HasDojo: true})
	assert.Equal(t, "Dan/HLS/trial.t3u8", rel)
	assert.Empty(t, diags)
}

func TestDiscoverAudioDojoPlaylistAlongside(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "Dan/trial.tja", []byte(""))
	writeFile(t, root, "Dan/trial.t3u8", []byte("#EXTM3U"))

	w := newTestWalker(t, root)
	rel, _ := w.DiscoverAudio("Dan/trial.tja", &tja.File{HasDojo: true})
	assert.Equal(t, "Dan/trial.t3u8", rel)
}

func TestReadAudio(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "Pack/song.ogg", []byte("audio-bytes"))

	w := newTestWalker(t, root)
	info, err := w.ReadAudio("Pack/song.ogg")
	require.NoError(t, err)
	assert.Equal(t, "Pack/song.ogg", info.RelPath)
	assert.Equal(t, tja.MD5Bytes([]byte("audio-bytes")), info.Hash)
	assert.Equal(t, int64(len("audio-bytes")), info.Size)
	assert.NotZero(t, info.MtimeNS)
}

func TestCategoryFor(t *testing.T) {
	w := newTestWalker(t, t.TempDir())
	tests := []struct {
		rel   string
		id    int
		title string
	}{
		{rel: "01 Pop/song.tja", id: 1, title: "Pop"},
		{rel: "10 Namco Original/sub/song.tja", id: 10, title: "Namco Original"},
		{rel: "Custom/song.tja", id: 0, title: DefaultCategoryTitle},
		{rel: "song.tja", id: 0, title: DefaultCategoryTitle},
		{rel: "1 Pop/song.tja", id: 0, title: DefaultCategoryTitle},
	}
	for _, tt := range tests {
		t.Run(tt.rel, func(t *testing.T) {
			cat := w.CategoryFor(tt.rel)
			assert.Equal(t, tt.id, cat.ID)
			assert.Equal(t, tt.title, cat.Title)
		})
	}
}
