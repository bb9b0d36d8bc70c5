package store

import (
	"encoding/json"

	"github.com/cespare/xxhash/v2"

	"github.com/taikoweb/songindex/internal/scan"
)

// StateRow is the per-file scan state: the signatures that decide whether a
// file is clean, plus a snapshot of the last built import record so clean
// files can join aggregation without reparsing.
type StateRow struct {
	TJAPath    string `json:"tja_path" bson:"tja_path"`
	TJAMtimeNS int64  `json:"tja_mtime_ns" bson:"tja_mtime_ns"`
	TJASize    int64  `json:"tja_size" bson:"tja_size"`
	TJAHash    string `json:"tja_hash" bson:"tja_hash"`

	AudioPath    string `json:"audio_path,omitempty" bson:"audio_path,omitempty"`
	AudioMtimeNS int64  `json:"audio_mtime_ns,omitempty" bson:"audio_mtime_ns,omitempty"`
	AudioSize    int64  `json:"audio_size,omitempty" bson:"audio_size,omitempty"`
	AudioHash    string `json:"audio_hash,omitempty" bson:"audio_hash,omitempty"`

	Fingerprint string `json:"fingerprint" bson:"fingerprint"`
	SongID      int64  `json:"song_id,omitempty" bson:"song_id,omitempty"`
	GroupKey    string `json:"group_key" bson:"group_key"`

	Snapshot    []byte `json:"snapshot" bson:"snapshot"`
	SnapshotSum uint64 `json:"snapshot_sum" bson:"snapshot_sum"`
}

// NewStateRow builds the state row for a processed record.
func NewStateRow(rec *scan.ImportRecord, groupKey string, songID int64) (*StateRow, error) {
	snapshot, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	return &StateRow{
		TJAPath:      rec.RelativePath,
		TJAMtimeNS:   rec.TJAMtimeNS,
		TJASize:      rec.TJASize,
		TJAHash:      rec.TJAHash,
		AudioPath:    rec.Audio.RelPath,
		AudioMtimeNS: rec.Audio.MtimeNS,
		AudioSize:    rec.Audio.Size,
		AudioHash:    rec.Audio.Hash,
		Fingerprint:  rec.Fingerprint,
		SongID:       songID,
		GroupKey:     groupKey,
		Snapshot:     snapshot,
		SnapshotSum:  xxhash.Sum64(snapshot),
	}, nil
}

// DecodeSnapshot restores the stored import record. It returns false when
// the snapshot is missing, fails its checksum, or no longer deserializes to
// a usable record.
func (r *StateRow) DecodeSnapshot() (*scan.ImportRecord, bool) {
	if len(r.Snapshot) == 0 || xxhash.Sum64(r.Snapshot) != r.SnapshotSum {
		return nil, false
	}
	var rec scan.ImportRecord
	if err := json.Unmarshal(r.Snapshot, &rec); err != nil {
		return nil, false
	}
	if rec.RelativePath == "" || rec.RelativePath != r.TJAPath {
		return nil, false
	}
	return &rec, true
}
