package progress

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/seriesdb/initsync"
)

func TestProgressCommand(t *testing.T) {
	// --- given ---
	dir := t.TempDir()
	path := filepath.Join(dir, initsync.FileName)
	store, err := initsync.CreateProgressStore(path, nil)
	require.NoError(t, err)
	require.NoError(t, store.Save(initsync.Record{NextSeriesID: 42, PeerHighestID: 100, ConsumedBytes: 2048, Synced: 41}))
	require.NoError(t, store.Close())

	// --- when ---
	var out bytes.Buffer
	Cmd.SetOut(&out)
	Cmd.SetArgs([]string{"--file", dir})
	err = Cmd.Execute()

	// --- then ---
	require.NoError(t, err)
	assert.Contains(t, out.String(), path)
	assert.Contains(t, out.String(), "42")
	assert.Contains(t, out.String(), "100")
	assert.Contains(t, out.String(), "2K")
}

func TestProgressCommand_missingFile(t *testing.T) {
	Cmd.SetOut(&bytes.Buffer{})
	Cmd.SetErr(&bytes.Buffer{})
	Cmd.SetArgs([]string{"--file", filepath.Join(t.TempDir(), initsync.FileName)})

	err := Cmd.Execute()

	assert.ErrorIs(t, err, initsync.ErrNoCheckpoint)
}
