package tja

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeCascade(t *testing.T) {
	tests := []struct {
		name     string
		raw      []byte
		expected string
		encoding string
	}{
		{
			name:     "plain utf-8",
			raw:      []byte("TITLE:テスト"),
			expected: "TITLE:テスト",
			encoding: EncodingUTF8,
		},
		{
			name:     "utf-8 with BOM",
			raw:      append([]byte{0xef, 0xbb, 0xbf}, []byte("TITLE:A")...),
			expected: "TITLE:A",
			encoding: EncodingUTF8BOM,
		},
		{
			name:     "utf-16 little endian with BOM",
			raw:      []byte{0xff, 0xfe, 'T', 0x00, 'I', 0x00, 'T', 0x00, 'L', 0x00, 'E', 0x00, ':', 0x00, 'A', 0x00},
			expected: "TITLE:A",
			encoding: EncodingUTF16,
		},
		{
			name:     "shift-jis",
			raw:      []byte{'T', 'I', 'T', 'L', 'E', ':', 0x83, 0x65, 0x83, 0x58, 0x83, 0x67},
			expected: "TITLE:テスト",
			encoding: EncodingShiftJIS,
		},
		{
			name:     "latin-1 fallback",
			raw:      []byte{'T', ':', 0xff, 0xff},
			expected: "T:ÿÿ",
			encoding: EncodingLatin1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, enc := Decode(tt.raw)
			assert.Equal(t, tt.expected, text)
			assert.Equal(t, tt.encoding, enc)
		})
	}
}

func TestNormalizeText(t *testing.T) {
	in := "\ufeffTITLE:A  \r\nSUBTITLE:B\t\rWAVE:c.ogg"
	assert.Equal(t, "TITLE:A\nSUBTITLE:B\nWAVE:c.ogg", NormalizeText(in))
}

func TestFingerprintIgnoresLineEndings(t *testing.T) {
	a, _ := Parse([]byte("TITLE:A\r\nCOURSE:Oni\r\nLEVEL:5\r\n"), "x.tja")
	b, _ := Parse([]byte("TITLE:A\nCOURSE:Oni\nLEVEL:5"), "x.tja")
	assert.Equal(t, a.Fingerprint, b.Fingerprint)
	assert.NotEqual(t, a.Hash, b.Hash, "raw byte hash still distinguishes the files")
}
