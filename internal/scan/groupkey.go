package scan

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/taikoweb/songindex/internal/tja"
)

// RootFolderToken is the folder token used for charts sitting directly in
// the songs root.
const RootFolderToken = "_root"

var multiSlashRe = regexp.MustCompile(`/{2,}`)

// normalizePath canonicalizes a path-ish string for group identity:
// percent-decoding, NFC, backslash-to-slash, slash-run collapse, whitespace
// trim/collapse and the metadata cleaner. Casefolding is optional because
// the fallback hash input stays case-sensitive.
func normalizePath(value string, casefold bool) string {
	if decoded, err := url.PathUnescape(value); err == nil {
		value = decoded
	}
	value = norm.NFC.String(value)
	value = strings.ReplaceAll(value, `\`, "/")
	value = multiSlashRe.ReplaceAllString(value, "/")
	value = strings.TrimSpace(value)
	value = tja.CleanMetadata(value)
	if casefold {
		value = tja.Casefold(value)
	}
	return value
}

func stripSlashes(value string) string {
	return strings.Trim(value, "/")
}

// FolderToken derives the deterministic top-level folder component of the
// group key. Variants of the same folder differing in encoding, case,
// slashes or invisible whitespace collapse to the same token; the
// relative-dir cross-check recovers the real folder when a configured
// dir_url disagrees with where the file actually lives.
func FolderToken(rec *ImportRecord) string {
	source := rec.DirURL
	if source != "" {
		if parsed, err := url.Parse(source); err == nil && parsed.Path != "" {
			source = parsed.Path
		}
	}
	if source == "" {
		source = rec.RelativeDir
	}
	if source == "" {
		source = parentOf(rec.RelativePath)
	}

	normalized := stripSlashes(normalizePath(source, true))
	token := firstSegment(normalized)

	relNorm := stripSlashes(normalizePath(rec.RelativeDir, true))
	relSeg := firstSegment(relNorm)
	if relSeg != "" && relSeg != token {
		if strings.Contains(normalized, relSeg) || strings.HasSuffix(normalized, relSeg) {
			token = relSeg
		}
	}

	token = strings.ReplaceAll(token, ":", "_")
	token = strings.TrimSpace(collapseSpaceRuns(token))
	if token == "" {
		token = RootFolderToken
	}
	return token
}

func firstSegment(path string) string {
	if idx := strings.IndexByte(path, '/'); idx >= 0 {
		return path[:idx]
	}
	return path
}

func parentOf(relPath string) string {
	if idx := strings.LastIndexByte(relPath, '/'); idx >= 0 {
		return relPath[:idx]
	}
	return ""
}

func collapseSpaceRuns(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inRun := false
	for _, r := range s {
		if r == ' ' {
			if !inRun {
				b.WriteRune(' ')
				inRun = true
			}
			continue
		}
		b.WriteRune(r)
		inRun = false
	}
	return b.String()
}

// GroupKey computes the deterministic song-identity key for a record.
// Records sharing audio content under the same top-level folder share a
// group; without audio, identity falls back to the normalized title plus a
// stable path digest. SONGID intentionally does not participate.
func GroupKey(rec *ImportRecord) string {
	token := FolderToken(rec)
	if rec.Audio.Hash != "" {
		return "audio:" + rec.Audio.Hash + ":" + token
	}

	dir := normalizePath(rec.RelativeDir, false)
	path := normalizePath(rec.RelativePath, false)
	seed := dir + "/" + path
	if dir == "" && path == "" {
		seed = "unidentified"
	}
	title := rec.TitleKey
	if title == "" {
		title = "untitled"
	}
	return "missing:" + token + ":" + title + ":" + tja.MD5Text(seed)
}
