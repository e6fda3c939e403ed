package initsync_test

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/seriesdb/catalog"
	"github.com/alpacahq/seriesdb/initsync"
)

func TestRecord_layout(t *testing.T) {
	t.Parallel()
	rec := initsync.Record{NextSeriesID: 0x0102, PeerHighestID: 7, ConsumedBytes: 99, Synced: 3}

	buf, err := rec.MarshalBinary()
	require.NoError(t, err)

	require.Len(t, buf, initsync.RecordSize)
	assert.Equal(t, []byte("ISYN"), buf[0:4])
	assert.Equal(t, []byte{1, 0}, buf[4:6])
	assert.Equal(t, []byte{0x02, 0x01, 0, 0, 0, 0, 0, 0}, buf[8:16])

	var decoded initsync.Record
	require.NoError(t, decoded.UnmarshalBinary(buf))
	assert.Equal(t, rec, decoded)
}

func TestRecord_UnmarshalBinary_corrupt(t *testing.T) {
	t.Parallel()
	valid, err := initsync.Record{NextSeriesID: 4}.MarshalBinary()
	require.NoError(t, err)
	zeroCursor, err := initsync.Record{}.MarshalBinary()
	require.NoError(t, err)

	tests := map[string]struct {
		buf []byte
	}{
		"error/ empty":               {buf: nil},
		"error/ truncated":           {buf: valid[:initsync.RecordSize-1]},
		"error/ extended":            {buf: append(append([]byte{}, valid...), 0)},
		"error/ bad magic":           {buf: flip(valid, 0)},
		"error/ bad version":         {buf: flip(valid, 4)},
		"error/ flipped cursor byte": {buf: flip(valid, 9)},
		"error/ bad checksum":        {buf: flip(valid, initsync.RecordSize-1)},
		"error/ zero cursor":         {buf: zeroCursor},
	}
	for name := range tests {
		tt := tests[name]
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			var rec initsync.Record
			err := rec.UnmarshalBinary(tt.buf)
			assert.ErrorIs(t, err, initsync.ErrCorruptProgress)
		})
	}
}

func flip(buf []byte, i int) []byte {
	out := append([]byte{}, buf...)
	out[i] ^= 0xff
	return out
}

func TestRecord_Validate(t *testing.T) {
	t.Parallel()
	tests := map[string]struct {
		cursor  catalog.SeriesID
		highest catalog.SeriesID
		wantErr bool
	}{
		"ok/ fresh cursor on an empty catalog":    {cursor: 1, highest: catalog.NoSeries},
		"ok/ cursor right above the highest id":   {cursor: 11, highest: 10},
		"ok/ cursor below the highest id":         {cursor: 3, highest: 10},
		"error/ cursor skips an unallocated id":   {cursor: 12, highest: 10, wantErr: true},
		"error/ cursor ahead of an empty catalog": {cursor: 2, highest: catalog.NoSeries, wantErr: true},
		"error/ reserved cursor":                  {cursor: 0, highest: 10, wantErr: true},
	}
	for name := range tests {
		tt := tests[name]
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			err := initsync.Record{NextSeriesID: tt.cursor}.Validate(tt.highest)
			if tt.wantErr {
				assert.ErrorIs(t, err, initsync.ErrCorruptProgress)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestProgressStore_lifecycle(t *testing.T) {
	t.Parallel()
	// --- given ---
	path := initsync.StorePath(t.TempDir(), "db0")

	// --- when ---
	store, err := initsync.CreateProgressStore(path, nil)
	require.NoError(t, err)

	// --- then ---
	assert.Equal(t, path, store.Path())
	assert.Equal(t, int64(initsync.RecordSize), store.Size())
	assert.Equal(t, initsync.NewRecord(), store.Record())

	// --- when ---
	rec := initsync.Record{NextSeriesID: 42, PeerHighestID: 100, ConsumedBytes: 2048, Synced: 41}
	require.NoError(t, store.Save(rec))
	require.NoError(t, store.Close())

	// --- then ---
	cp, err := initsync.FindCheckpoint(path)
	require.NoError(t, err)
	assert.Equal(t, rec, cp.Record())
	assert.Equal(t, path, cp.Path())

	reopened, err := initsync.OpenProgressStore(path, nil)
	require.NoError(t, err)
	assert.Equal(t, rec, reopened.Record())
	require.NoError(t, reopened.Remove())
	assert.NoFileExists(t, path)

	_, err = initsync.FindCheckpoint(path)
	assert.ErrorIs(t, err, initsync.ErrNoCheckpoint)
}

func TestProgressStore_createReplacesStaleFile(t *testing.T) {
	t.Parallel()
	path := initsync.StorePath(t.TempDir(), "db0")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o600))

	store, err := initsync.CreateProgressStore(path, nil)
	require.NoError(t, err)
	defer store.Close()

	rec, size, err := initsync.ReadRecord(path)
	require.NoError(t, err)
	assert.Equal(t, int64(initsync.RecordSize), size)
	assert.Equal(t, initsync.NewRecord(), rec)
}

func TestProgressStore_exclusive(t *testing.T) {
	t.Parallel()
	// --- given ---
	path := initsync.StorePath(t.TempDir(), "db0")
	owner, err := initsync.CreateProgressStore(path, nil)
	require.NoError(t, err)

	// --- when ---
	_, errCreate := initsync.CreateProgressStore(path, nil)
	_, errOpen := initsync.OpenProgressStore(path, nil)

	// --- then ---
	assert.ErrorIs(t, errCreate, initsync.ErrStoreLocked)
	assert.ErrorIs(t, errOpen, initsync.ErrStoreLocked)

	require.NoError(t, owner.Close())
	again, err := initsync.OpenProgressStore(path, nil)
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestProgressStore_Save_durabilityFailure(t *testing.T) {
	t.Parallel()
	tests := map[string]initsync.WriteFileFunc{
		"error/ write fails": func(string, io.Reader) error {
			return errors.New("input/output error")
		},
		"error/ short write": func(path string, r io.Reader) error {
			buf, err := io.ReadAll(r)
			if err != nil {
				return err
			}
			return writeAtomically(path, buf[:10])
		},
	}
	for name := range tests {
		writeFile := tests[name]
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			path := initsync.StorePath(t.TempDir(), "db0")
			_, err := initsync.CreateProgressStore(path, writeFile)
			assert.ErrorIs(t, err, initsync.ErrDurability)

			// the lock is released on failure
			store, err := initsync.CreateProgressStore(path, nil)
			require.NoError(t, err)
			require.NoError(t, store.Close())
		})
	}
}

func TestProgressStore_saveAfterClose(t *testing.T) {
	t.Parallel()
	store, err := initsync.CreateProgressStore(initsync.StorePath(t.TempDir(), "db0"), nil)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	err = store.Save(initsync.Record{NextSeriesID: 2})
	assert.ErrorIs(t, err, initsync.ErrDurability)
}

func TestFindCheckpoint_corrupt(t *testing.T) {
	t.Parallel()
	path := initsync.StorePath(t.TempDir(), "db0")
	store, err := initsync.CreateProgressStore(path, nil)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	buf, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, flip(buf, 0), 0o600))

	_, err = initsync.FindCheckpoint(path)
	assert.ErrorIs(t, err, initsync.ErrCorruptProgress)
}
