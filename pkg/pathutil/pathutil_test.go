package pathutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRelativeWithin(t *testing.T) {
	root := filepath.Join(string(filepath.Separator), "srv", "songs")
	tests := []struct {
		name     string
		path     string
		expected string
		inside   bool
	}{
		{
			name:     "direct child",
			path:     filepath.Join(root, "01 Pop", "song.tja"),
			expected: "01 Pop/song.tja",
			inside:   true,
		},
		{
			name:     "root itself",
			path:     root,
			expected: ".",
			inside:   true,
		},
		{
			name:   "sibling escape",
			path:   filepath.Join(string(filepath.Separator), "srv", "other", "song.tja"),
			inside: false,
		},
		{
			name:   "dotdot escape",
			path:   filepath.Join(root, "..", "other"),
			inside: false,
		},
		{
			name:   "empty path",
			path:   "",
			inside: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rel, ok := RelativeWithin(root, tt.path)
			assert.Equal(t, tt.inside, ok)
			if tt.inside {
				assert.Equal(t, tt.expected, rel)
			}
		})
	}
}

func TestParentPosix(t *testing.T) {
	assert.Equal(t, "01 Pop/Album", ParentPosix("01 Pop/Album/song.tja"))
	assert.Equal(t, "", ParentPosix("song.tja"))
}

func TestJoinURL(t *testing.T) {
	assert.Equal(t, "/songs/01 Pop/song.tja", JoinURL("/songs", "01 Pop/song.tja"))
	assert.Equal(t, "https://example.test/songs/a.tja", JoinURL("https://example.test/songs/", "a.tja"))
	assert.Equal(t, "/songs/", JoinURL("/songs", "."))
}
