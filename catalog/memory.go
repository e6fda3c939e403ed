package catalog

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/hashicorp/go-memdb"
)

const (
	tblSeries = "series"
	idxID     = "id"
	idxName   = "name"
)

var memorySchema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		tblSeries: {
			Name: tblSeries,
			Indexes: map[string]*memdb.IndexSchema{
				idxID: {
					Name:    idxID,
					Unique:  true,
					Indexer: &seriesIDIndex{},
				},
				idxName: {
					Name:    idxName,
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "Name"},
				},
			},
		},
	},
}

// seriesIDIndex indexes definitions by big-endian id so that LowerBound
// iterates in id order.
type seriesIDIndex struct{}

func (seriesIDIndex) FromObject(obj interface{}) (bool, []byte, error) {
	def, ok := obj.(*Definition)
	if !ok {
		return false, nil, fmt.Errorf("unexpected object type %T", obj)
	}
	return true, encodeID(def.ID), nil
}

func (seriesIDIndex) FromArgs(args ...interface{}) ([]byte, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("must provide only a single argument")
	}
	id, ok := args[0].(SeriesID)
	if !ok {
		return nil, fmt.Errorf("argument must be a SeriesID: %#v", args[0])
	}
	return encodeID(id), nil
}

func encodeID(id SeriesID) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(id))
	return buf
}

// MemoryStore is a Store held in memory. It does not survive a restart and is
// meant for tests and throwaway nodes.
type MemoryStore struct {
	// mu serializes writers and guards highest.
	mu      sync.Mutex
	db      *memdb.MemDB
	highest SeriesID
	closed  bool
}

func NewMemoryStore() (*MemoryStore, error) {
	db, err := memdb.NewMemDB(memorySchema)
	if err != nil {
		return nil, fmt.Errorf("new memdb: %w", err)
	}
	return &MemoryStore{db: db}, nil
}

func (s *MemoryStore) AllocateOrGet(name string, tp SeriesType) (SeriesID, error) {
	if name == "" {
		return NoSeries, InvalidDefinitionError("empty name")
	}
	if !tp.Valid() {
		return NoSeries, InvalidDefinitionError(name + ": unknown type")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return NoSeries, ErrClosed
	}

	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tblSeries, idxName, name)
	if err != nil {
		return NoSeries, fmt.Errorf("find series by name: %w", err)
	}
	if raw != nil {
		def := raw.(*Definition)
		if def.Type != tp {
			return NoSeries, &SeriesConflictError{Remote: Definition{Name: name, Type: tp}, Local: *def}
		}
		return def.ID, nil
	}

	def := &Definition{ID: s.highest + 1, Name: name, Type: tp}
	if err := txn.Insert(tblSeries, def); err != nil {
		return NoSeries, fmt.Errorf("insert series: %w", err)
	}
	txn.Commit()
	s.highest = def.ID

	return def.ID, nil
}

func (s *MemoryStore) ApplyRemoteSeries(def Definition) (ApplyResult, error) {
	results, err := s.ApplyRemoteBatch([]Definition{def})
	if err != nil {
		return 0, err
	}
	return results[0], nil
}

func (s *MemoryStore) ApplyRemoteBatch(defs []Definition) ([]ApplyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	txn := s.db.Txn(true)
	defer txn.Abort()

	highest := s.highest
	results := make([]ApplyResult, 0, len(defs))
	for _, def := range defs {
		byID, err := firstDefinition(txn, idxID, def.ID)
		if err != nil {
			return nil, err
		}
		byName, err := firstDefinition(txn, idxName, def.Name)
		if err != nil {
			return nil, err
		}
		res, err := checkRemote(def, byID, byName)
		if err != nil {
			return nil, err
		}
		if res == Inserted {
			d := def
			if err := txn.Insert(tblSeries, &d); err != nil {
				return nil, fmt.Errorf("insert series: %w", err)
			}
			if d.ID > highest {
				highest = d.ID
			}
		}
		results = append(results, res)
	}
	txn.Commit()
	s.highest = highest

	return results, nil
}

func firstDefinition(txn *memdb.Txn, index string, arg interface{}) (*Definition, error) {
	raw, err := txn.First(tblSeries, index, arg)
	if err != nil {
		return nil, fmt.Errorf("find series by %s: %w", index, err)
	}
	if raw == nil {
		return nil, nil
	}
	def := *raw.(*Definition)
	return &def, nil
}

func (s *MemoryStore) HighestAllocatedID() (SeriesID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return NoSeries, ErrClosed
	}
	return s.highest, nil
}

func (s *MemoryStore) SeriesFrom(start SeriesID, limit int) ([]Definition, error) {
	if limit <= 0 {
		return nil, nil
	}
	txn := s.db.Txn(false)
	defer txn.Abort()

	iter, err := txn.LowerBound(tblSeries, idxID, start)
	if err != nil {
		return nil, fmt.Errorf("fetch series from %d: %w", start, err)
	}

	var defs []Definition
	for raw := iter.Next(); raw != nil && len(defs) < limit; raw = iter.Next() {
		defs = append(defs, *raw.(*Definition))
	}
	return defs, nil
}

func (s *MemoryStore) Get(name string) (Definition, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	def, err := firstDefinition(txn, idxName, name)
	if err != nil {
		return Definition{}, err
	}
	if def == nil {
		return Definition{}, NotFoundError(name)
	}
	return *def, nil
}

func (s *MemoryStore) Len() (int, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	iter, err := txn.LowerBound(tblSeries, idxID, NoSeries)
	if err != nil {
		return 0, fmt.Errorf("list series: %w", err)
	}
	n := 0
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		n++
	}
	return n, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
