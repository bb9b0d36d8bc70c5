package tja

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/unicode/norm"
)

// Encoding names reported by Decode.
const (
	EncodingUTF8BOM  = "utf-8-sig"
	EncodingUTF16    = "utf-16"
	EncodingUTF8     = "utf-8"
	EncodingShiftJIS = "shift_jis"
	EncodingCP932    = "cp932"
	EncodingLatin1   = "latin-1"
)

var utf8BOM = []byte{0xef, 0xbb, 0xbf}

// Decode converts raw TJA bytes to text, attempting encodings in a fixed
// order: UTF-8 with BOM, UTF-16 (BOM required), UTF-8, Shift-JIS, CP932,
// Latin-1. The first clean decoding wins; Latin-1 accepts any byte sequence
// so the lossy UTF-8 fallback is a formality. The returned name identifies
// which encoding succeeded.
func Decode(raw []byte) (string, string) {
	if bytes.HasPrefix(raw, utf8BOM) && utf8.Valid(raw[len(utf8BOM):]) {
		return string(raw[len(utf8BOM):]), EncodingUTF8BOM
	}
	if text, ok := decodeStrict(unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder(), raw); ok {
		return text, EncodingUTF16
	}
	if utf8.Valid(raw) {
		return string(raw), EncodingUTF8
	}
	// x/text's ShiftJIS table is the Microsoft (code page 932) variant, so a
	// single attempt covers both names in the cascade.
	if text, ok := decodeStrict(japanese.ShiftJIS.NewDecoder(), raw); ok {
		return text, EncodingShiftJIS
	}
	if text, ok := decodeStrict(charmap.ISO8859_1.NewDecoder(), raw); ok {
		return text, EncodingLatin1
	}
	return strings.ToValidUTF8(string(raw), string(utf8.RuneError)), EncodingUTF8
}

// decodeStrict runs a decoder and rejects the result when the decoder had to
// substitute replacement characters, which the x/text transforms do instead
// of returning an error.
func decodeStrict(dec *encoding.Decoder, raw []byte) (string, bool) {
	out, err := dec.Bytes(raw)
	if err != nil {
		return "", false
	}
	if bytes.ContainsRune(out, utf8.RuneError) {
		return "", false
	}
	return string(out), true
}

// NormalizeText prepares decoded text for parsing: strips a leading BOM,
// applies Unicode NFC, right-trims every line and joins with "\n". A final
// line break does not leave an empty trailing line.
func NormalizeText(text string) string {
	text = strings.TrimPrefix(text, "\ufeff")
	text = norm.NFC.String(text)
	lines := splitLines(text)
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\f\v\r")
	}
	return strings.Join(lines, "\n")
}

func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	lines := strings.Split(text, "\n")
	if len(lines) > 1 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// MD5Bytes returns the hex MD5 of raw bytes.
func MD5Bytes(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// MD5Text returns the hex MD5 of a string's UTF-8 bytes.
func MD5Text(text string) string {
	return MD5Bytes([]byte(text))
}
