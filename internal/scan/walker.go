package scan

import (
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"

	"github.com/taikoweb/songindex/internal/tja"
	"github.com/taikoweb/songindex/pkg/pathutil"
)

// AudioExtensions are the companion-audio extensions the walker recognizes,
// including the HLS playlist variant used by dojo charts.
var AudioExtensions = map[string]struct{}{
	".ogg":  {},
	".mp3":  {},
	".wav":  {},
	".m4a":  {},
	".aac":  {},
	".flac": {},
	".opus": {},
	".t3u8": {},
}

// IsAudioPath reports whether a path has a recognized audio extension.
func IsAudioPath(path string) bool {
	_, ok := AudioExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Category identifies the top-level folder bucket a chart belongs to.
type Category struct {
	ID    int
	Title string
}

var categoryFolderRe = regexp.MustCompile(`^(\d{2})\s+(.+)$`)

// Walker enumerates TJA files under the songs root and resolves their
// companion audio.
type Walker struct {
	root        string
	ignoreGlobs []string
	log         zerolog.Logger
}

// NewWalker creates a walker over the resolved songs root.
func NewWalker(root string, ignoreGlobs []string, log zerolog.Logger) *Walker {
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}
	return &Walker{
		root:        filepath.Clean(root),
		ignoreGlobs: ignoreGlobs,
		log:         log,
	}
}

// Root returns the resolved songs root.
func (w *Walker) Root() string {
	return w.root
}

// Abs converts a root-relative posix path back to an absolute path.
func (w *Walker) Abs(rel string) string {
	return filepath.Join(w.root, filepath.FromSlash(rel))
}

// Walk returns the sorted root-relative posix paths of every .tja file.
// Symlinks are never followed, ignored globs are skipped, and any path that
// resolves outside the root is rejected.
func (w *Walker) Walk() ([]string, error) {
	if _, err := os.Stat(w.root); err != nil {
		return nil, err
	}
	var out []string
	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.log.Debug().Err(err).Str("path", path).Msg("walk error, skipping entry")
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			if d.IsDir() {
				return filepath.SkipDir
			}
			w.log.Debug().Str("path", path).Msg("skipping symlink")
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !strings.EqualFold(filepath.Ext(path), ".tja") {
			return nil
		}
		rel, inside := pathutil.RelativeWithin(w.root, path)
		if !inside {
			w.log.Warn().Str("path", path).Msg("skipping chart outside songs root")
			return nil
		}
		if w.ignored(rel) {
			return nil
		}
		resolved, ok := pathutil.ResolveWithin(w.root, path)
		if !ok {
			w.log.Warn().Str("path", path).Msg("skipping chart escaping songs root")
			return nil
		}
		out = append(out, resolved)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

func (w *Walker) ignored(rel string) bool {
	for _, pattern := range w.ignoreGlobs {
		if matched, err := doublestar.Match(pattern, rel); err == nil && matched {
			return true
		}
	}
	return false
}

// Stat returns the filesystem signature of a root-relative path.
func (w *Walker) Stat(rel string) (FileStat, error) {
	info, err := os.Stat(w.Abs(rel))
	if err != nil {
		return FileStat{}, err
	}
	return FileStat{MtimeNS: info.ModTime().UnixNano(), Size: info.Size()}, nil
}

// DiscoverAudio resolves the companion audio for a chart: the WAVE target
// when it stays inside the root and exists, an HLS playlist for dojo
// charts, else the first audio file beside the chart in case-insensitive
// alphabetical order.
func (w *Walker) DiscoverAudio(relTJA string, parsed *tja.File) (string, []string) {
	diagnostics := []string{}
	dirAbs := filepath.Dir(w.Abs(relTJA))

	if parsed.Wave != "" {
		candidate := filepath.Join(dirAbs, filepath.FromSlash(parsed.Wave))
		if rel, inside := pathutil.ResolveWithin(w.root, candidate); !inside {
			diagnostics = append(diagnostics, DiagWaveOutsideRoot)
		} else if info, err := os.Stat(w.Abs(rel)); err == nil && !info.IsDir() {
			return rel, diagnostics
		} else {
			diagnostics = append(diagnostics, DiagWaveMissing)
		}
	}

	if parsed.HasDojo {
		if rel := w.findPlaylist(dirAbs); rel != "" {
			return rel, diagnostics
		}
	}

	if rel := w.firstAudioIn(dirAbs); rel != "" {
		return rel, diagnostics
	}
	diagnostics = append(diagnostics, DiagNoAudio)
	return "", diagnostics
}

// findPlaylist looks for a .t3u8 playlist in a sibling HLS directory first,
// then alongside the chart.
func (w *Walker) findPlaylist(dirAbs string) string {
	for _, dir := range []string{filepath.Join(dirAbs, "HLS"), dirAbs} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		names := make([]string, 0, len(entries))
		for _, entry := range entries {
			if entry.IsDir() || entry.Type()&fs.ModeSymlink != 0 {
				continue
			}
			if strings.EqualFold(filepath.Ext(entry.Name()), ".t3u8") {
				names = append(names, entry.Name())
			}
		}
		if len(names) == 0 {
			continue
		}
		sort.Slice(names, func(i, j int) bool {
			return strings.ToLower(names[i]) < strings.ToLower(names[j])
		})
		if rel, inside := pathutil.ResolveWithin(w.root, filepath.Join(dir, names[0])); inside {
			return rel
		}
	}
	return ""
}

func (w *Walker) firstAudioIn(dirAbs string) string {
	entries, err := os.ReadDir(dirAbs)
	if err != nil {
		return ""
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if IsAudioPath(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	sort.Slice(names, func(i, j int) bool {
		return strings.ToLower(names[i]) < strings.ToLower(names[j])
	})
	for _, name := range names {
		if rel, inside := pathutil.ResolveWithin(w.root, filepath.Join(dirAbs, name)); inside {
			return rel
		}
	}
	return ""
}

// ReadAudio hashes the companion audio's bytes and records its filesystem
// signature.
func (w *Walker) ReadAudio(rel string) (AudioInfo, error) {
	abs := w.Abs(rel)
	data, err := os.ReadFile(abs)
	if err != nil {
		return AudioInfo{}, err
	}
	stat, err := w.Stat(rel)
	if err != nil {
		return AudioInfo{}, err
	}
	return AudioInfo{
		RelPath: rel,
		Hash:    tja.MD5Bytes(data),
		MtimeNS: stat.MtimeNS,
		Size:    stat.Size,
	}, nil
}

// CategoryFor derives the category from a chart's top-level folder:
// "NN Title" folders define id NN, anything else falls into the unsorted
// bucket.
func (w *Walker) CategoryFor(relTJA string) Category {
	parts := strings.Split(relTJA, "/")
	if len(parts) < 2 {
		return Category{ID: 0, Title: DefaultCategoryTitle}
	}
	top := parts[0]
	if m := categoryFolderRe.FindStringSubmatch(top); m != nil {
		id, err := strconv.Atoi(m[1])
		if err == nil {
			title := tja.CleanMetadata(strings.TrimSpace(m[2]))
			if title == "" {
				title = DefaultCategoryTitle
			}
			return Category{ID: id, Title: title}
		}
	}
	return Category{ID: 0, Title: DefaultCategoryTitle}
}
