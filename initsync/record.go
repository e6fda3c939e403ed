package initsync

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"fmt"

	"github.com/alpacahq/seriesdb/catalog"
)

const (
	// RecordSize is the exact size of a progress file.
	RecordSize    = 56
	RecordVersion = 1

	checksumOffset = 40
)

var recordMagic = [4]byte{'I', 'S', 'Y', 'N'}

// Record is the persisted state of a session.
type Record struct {
	// NextSeriesID is the checkpoint cursor: every id below it has been applied locally.
	NextSeriesID catalog.SeriesID
	// PeerHighestID is the highest series id the peer last reported.
	PeerHighestID catalog.SeriesID
	// ConsumedBytes counts the response payload bytes applied so far.
	ConsumedBytes uint64
	// Synced counts the definitions applied, including already-present ones.
	Synced uint64
}

// NewRecord returns the record of a session that has applied nothing yet.
func NewRecord() Record {
	return Record{NextSeriesID: catalog.FirstSeriesID}
}

// MarshalBinary encodes the record in its little-endian on-disk layout.
func (r Record) MarshalBinary() ([]byte, error) {
	buf := make([]byte, RecordSize)
	copy(buf[0:4], recordMagic[:])
	binary.LittleEndian.PutUint16(buf[4:6], RecordVersion)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(r.NextSeriesID))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(r.PeerHighestID))
	binary.LittleEndian.PutUint64(buf[24:32], r.ConsumedBytes)
	binary.LittleEndian.PutUint64(buf[32:40], r.Synced)
	sum := md5.Sum(buf[:checksumOffset])
	copy(buf[checksumOffset:], sum[:])
	return buf, nil
}

// UnmarshalBinary decodes a record and checks its framing and checksum.
// It does not check the record against a catalog, see Record.Validate.
func (r *Record) UnmarshalBinary(buf []byte) error {
	if len(buf) != RecordSize {
		return fmt.Errorf("%w: size %d, want %d", ErrCorruptProgress, len(buf), RecordSize)
	}
	if !bytes.Equal(buf[0:4], recordMagic[:]) {
		return fmt.Errorf("%w: bad magic %q", ErrCorruptProgress, buf[0:4])
	}
	if v := binary.LittleEndian.Uint16(buf[4:6]); v != RecordVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrCorruptProgress, v)
	}
	sum := md5.Sum(buf[:checksumOffset])
	if !bytes.Equal(sum[:], buf[checksumOffset:]) {
		return fmt.Errorf("%w: checksum mismatch", ErrCorruptProgress)
	}
	rec := Record{
		NextSeriesID:  catalog.SeriesID(binary.LittleEndian.Uint64(buf[8:16])),
		PeerHighestID: catalog.SeriesID(binary.LittleEndian.Uint64(buf[16:24])),
		ConsumedBytes: binary.LittleEndian.Uint64(buf[24:32]),
		Synced:        binary.LittleEndian.Uint64(buf[32:40]),
	}
	if rec.NextSeriesID < catalog.FirstSeriesID {
		return fmt.Errorf("%w: cursor %d below first series id", ErrCorruptProgress, rec.NextSeriesID)
	}
	*r = rec
	return nil
}

// Validate checks that every id below the cursor can exist in a catalog whose
// highest allocated id is highest.
func (r Record) Validate(highest catalog.SeriesID) error {
	if r.NextSeriesID < catalog.FirstSeriesID {
		return fmt.Errorf("%w: cursor %d below first series id", ErrCorruptProgress, r.NextSeriesID)
	}
	if r.NextSeriesID-1 > highest {
		return fmt.Errorf("%w: cursor %d beyond local catalog (highest id %d)",
			ErrCorruptProgress, r.NextSeriesID, highest)
	}
	return nil
}

// Applied is the number of series ids below the cursor.
func (r Record) Applied() uint64 {
	if r.NextSeriesID <= catalog.FirstSeriesID {
		return 0
	}
	return uint64(r.NextSeriesID - catalog.FirstSeriesID)
}
