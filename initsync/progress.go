package initsync

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/natefinch/atomic"
)

const (
	// FileName is the name of the progress file inside a database directory.
	FileName   = "initsync.dat"
	lockSuffix = ".lock"
)

// WriteFileFunc replaces the contents of the file at path with r.
type WriteFileFunc func(path string, r io.Reader) error

// StorePath returns the progress file location of database db under root.
func StorePath(root, db string) string {
	return filepath.Join(root, db, FileName)
}

// ProgressStore is the exclusive owner of a progress file.
type ProgressStore struct {
	path      string
	lock      *flock.Flock
	writeFile WriteFileFunc
	size      int64
	record    Record
	closed    bool
}

// CreateProgressStore takes ownership of the progress file at path and
// replaces any previous contents with a fresh record.
func CreateProgressStore(path string, writeFile WriteFileFunc) (*ProgressStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create directory for %s: %v", ErrDurability, path, err)
	}
	s, err := lockProgressStore(path, writeFile)
	if err != nil {
		return nil, err
	}
	if err = s.Save(NewRecord()); err != nil {
		_ = s.unlock()
		return nil, err
	}
	return s, nil
}

// OpenProgressStore takes ownership of an existing progress file and loads its record.
func OpenProgressStore(path string, writeFile WriteFileFunc) (*ProgressStore, error) {
	s, err := lockProgressStore(path, writeFile)
	if err != nil {
		return nil, err
	}
	rec, size, err := ReadRecord(path)
	if err != nil {
		_ = s.unlock()
		return nil, err
	}
	s.record = rec
	s.size = size
	return s, nil
}

func lockProgressStore(path string, writeFile WriteFileFunc) (*ProgressStore, error) {
	if writeFile == nil {
		writeFile = atomic.WriteFile
	}
	fl := flock.New(path + lockSuffix)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("flock %s: %w", fl.Path(), err)
	} else if !locked {
		return nil, fmt.Errorf("%w: %s", ErrStoreLocked, fl.Path())
	}
	return &ProgressStore{path: path, lock: fl, writeFile: writeFile}, nil
}

// ReadRecord reads and decodes the progress file at path without taking ownership of it.
func ReadRecord(path string) (Record, int64, error) {
	buf, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Record{}, 0, fmt.Errorf("%w: %s", ErrNoCheckpoint, path)
	}
	if err != nil {
		return Record{}, 0, fmt.Errorf("read progress file %s: %w", path, err)
	}
	var rec Record
	if err = rec.UnmarshalBinary(buf); err != nil {
		return Record{}, int64(len(buf)), fmt.Errorf("%s: %w", path, err)
	}
	return rec, int64(len(buf)), nil
}

func (s *ProgressStore) Path() string {
	return s.path
}

// Size is the size of the file as of the last successful open or save.
func (s *ProgressStore) Size() int64 {
	return s.size
}

// Record is the last record loaded or saved.
func (s *ProgressStore) Record() Record {
	return s.record
}

// Save atomically replaces the stored record and returns once the new
// contents are on disk. Any failure wraps ErrDurability.
func (s *ProgressStore) Save(rec Record) error {
	if s.closed {
		return fmt.Errorf("%w: save to closed store %s", ErrDurability, s.path)
	}
	buf, err := rec.MarshalBinary()
	if err != nil {
		return fmt.Errorf("%w: encode record: %v", ErrDurability, err)
	}
	if err = s.writeFile(s.path, bytes.NewReader(buf)); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrDurability, s.path, err)
	}
	fi, err := os.Stat(s.path)
	if err != nil {
		return fmt.Errorf("%w: stat %s: %v", ErrDurability, s.path, err)
	}
	if fi.Size() != RecordSize {
		return fmt.Errorf("%w: %s has size %d after save, want %d", ErrDurability, s.path, fi.Size(), RecordSize)
	}
	s.size = fi.Size()
	s.record = rec
	return nil
}

// Close releases ownership and keeps the file for a later resume.
func (s *ProgressStore) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.unlock()
}

// Remove deletes the progress file and releases ownership.
func (s *ProgressStore) Remove() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		_ = s.unlock()
		return fmt.Errorf("remove progress file %s: %w", s.path, err)
	}
	if err := os.Remove(s.lock.Path()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		_ = s.unlock()
		return fmt.Errorf("remove lock file %s: %w", s.lock.Path(), err)
	}
	return s.unlock()
}

func (s *ProgressStore) unlock() error {
	if err := s.lock.Unlock(); err != nil {
		return fmt.Errorf("unlock %s: %w", s.lock.Path(), err)
	}
	return nil
}

// Checkpoint is the evidence that an interrupted session can be resumed.
type Checkpoint struct {
	path   string
	record Record
}

// FindCheckpoint looks for a readable progress file at path. It returns
// ErrNoCheckpoint when there is none and ErrCorruptProgress when it cannot be decoded.
func FindCheckpoint(path string) (*Checkpoint, error) {
	rec, _, err := ReadRecord(path)
	if err != nil {
		return nil, err
	}
	return &Checkpoint{path: path, record: rec}, nil
}

func (c *Checkpoint) Path() string {
	return c.path
}

func (c *Checkpoint) Record() Record {
	return c.record
}
