package errors

import (
	"errors"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScanErrorContext(t *testing.T) {
	err := NewScanError(ErrorTypeParse, "decode", fs.ErrNotExist).WithPath("01 Pop/song.tja")
	assert.Contains(t, err.Error(), "parse decode failed for 01 Pop/song.tja")
	assert.True(t, errors.Is(err, fs.ErrNotExist))
	assert.False(t, err.IsRecoverable())
}

func TestScanErrorGroupKey(t *testing.T) {
	base := errors.New("duplicate key")
	err := NewScanError(ErrorTypeStore, "upsert", base).
		WithGroupKey("audio:abc:pack").
		WithRecoverable(true)
	assert.Contains(t, err.Error(), "group audio:abc:pack")
	assert.True(t, err.IsRecoverable())

	var scanErr *ScanError
	assert.True(t, errors.As(err, &scanErr))
	assert.Equal(t, ErrorTypeStore, scanErr.Type)
}
