package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "modernc.org/sqlite" // register pure-Go SQLite driver
)

const (
	defaultNameCacheSize = 16384

	createSeriesTable = `CREATE TABLE IF NOT EXISTS series (
    id   INTEGER PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    type INTEGER NOT NULL
);`
)

// SQLiteStore is a Store persisted in a SQLite database file.
type SQLiteStore struct {
	// mu serializes writers and guards highest and closed.
	mu      sync.Mutex
	db      *sql.DB
	path    string
	byName  *lru.Cache[string, Definition]
	highest SeriesID
	closed  bool
}

// OpenSQLiteStore opens (creating if needed) the catalog database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", path, err)
	}
	// a single connection keeps check-and-insert transactions serialized
	db.SetMaxOpenConns(1)

	if _, err = db.Exec(createSeriesTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create series table: %w", err)
	}

	cache, err := lru.New[string, Definition](defaultNameCacheSize)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("new name cache: %w", err)
	}

	s := &SQLiteStore{db: db, path: path, byName: cache}
	var highest sql.NullInt64
	if err = db.QueryRow(`SELECT MAX(id) FROM series`).Scan(&highest); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("read highest series id: %w", err)
	}
	if highest.Valid {
		s.highest = SeriesID(highest.Int64)
	}
	return s, nil
}

func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) AllocateOrGet(name string, tp SeriesType) (SeriesID, error) {
	if name == "" {
		return NoSeries, InvalidDefinitionError("empty name")
	}
	if !tp.Valid() {
		return NoSeries, InvalidDefinitionError(name + ": unknown type")
	}
	if def, ok := s.byName.Get(name); ok {
		if def.Type != tp {
			return NoSeries, &SeriesConflictError{Remote: Definition{Name: name, Type: tp}, Local: def}
		}
		return def.ID, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return NoSeries, ErrClosed
	}

	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return NoSeries, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := querySeries(ctx, tx, `SELECT id, name, type FROM series WHERE name = ?`, name)
	if err != nil {
		return NoSeries, err
	}
	if existing != nil {
		s.byName.Add(name, *existing)
		if existing.Type != tp {
			return NoSeries, &SeriesConflictError{Remote: Definition{Name: name, Type: tp}, Local: *existing}
		}
		return existing.ID, nil
	}

	def := Definition{ID: s.highest + 1, Name: name, Type: tp}
	if err = insertSeries(ctx, tx, def); err != nil {
		return NoSeries, err
	}
	if err = tx.Commit(); err != nil {
		return NoSeries, fmt.Errorf("commit series %s: %w", def, err)
	}
	s.highest = def.ID
	s.byName.Add(name, def)

	return def.ID, nil
}

func (s *SQLiteStore) ApplyRemoteSeries(def Definition) (ApplyResult, error) {
	results, err := s.ApplyRemoteBatch([]Definition{def})
	if err != nil {
		return 0, err
	}
	return results[0], nil
}

func (s *SQLiteStore) ApplyRemoteBatch(defs []Definition) ([]ApplyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	highest := s.highest
	results := make([]ApplyResult, 0, len(defs))
	inserted := make([]Definition, 0, len(defs))
	for _, def := range defs {
		byID, err := querySeries(ctx, tx, `SELECT id, name, type FROM series WHERE id = ?`, int64(def.ID))
		if err != nil {
			return nil, err
		}
		byName, err := querySeries(ctx, tx, `SELECT id, name, type FROM series WHERE name = ?`, def.Name)
		if err != nil {
			return nil, err
		}
		res, err := checkRemote(def, byID, byName)
		if err != nil {
			return nil, err
		}
		if res == Inserted {
			if err = insertSeries(ctx, tx, def); err != nil {
				return nil, err
			}
			inserted = append(inserted, def)
			if def.ID > highest {
				highest = def.ID
			}
		}
		results = append(results, res)
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit batch of %d series: %w", len(defs), err)
	}
	s.highest = highest
	for _, def := range inserted {
		s.byName.Add(def.Name, def)
	}

	return results, nil
}

func querySeries(ctx context.Context, tx *sql.Tx, query string, arg interface{}) (*Definition, error) {
	var (
		id   int64
		def  Definition
		tp   int64
		name string
	)
	err := tx.QueryRowContext(ctx, query, arg).Scan(&id, &name, &tp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query series: %w", err)
	}
	def = Definition{ID: SeriesID(id), Name: name, Type: SeriesType(tp)}
	return &def, nil
}

func insertSeries(ctx context.Context, tx *sql.Tx, def Definition) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO series (id, name, type) VALUES (?, ?, ?)`,
		int64(def.ID), def.Name, int64(def.Type))
	if err != nil {
		return fmt.Errorf("insert series %s: %w", def, err)
	}
	return nil
}

func (s *SQLiteStore) HighestAllocatedID() (SeriesID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return NoSeries, ErrClosed
	}
	return s.highest, nil
}

func (s *SQLiteStore) SeriesFrom(start SeriesID, limit int) ([]Definition, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.Query(`SELECT id, name, type FROM series WHERE id >= ? ORDER BY id LIMIT ?`,
		int64(start), limit)
	if err != nil {
		return nil, fmt.Errorf("fetch series from %d: %w", start, err)
	}
	defer rows.Close()

	var defs []Definition
	for rows.Next() {
		var id, tp int64
		var name string
		if err := rows.Scan(&id, &name, &tp); err != nil {
			return nil, fmt.Errorf("scan series: %w", err)
		}
		defs = append(defs, Definition{ID: SeriesID(id), Name: name, Type: SeriesType(tp)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch series from %d: %w", start, err)
	}
	return defs, nil
}

func (s *SQLiteStore) Get(name string) (Definition, error) {
	if def, ok := s.byName.Get(name); ok {
		return def, nil
	}
	var id, tp int64
	err := s.db.QueryRow(`SELECT id, type FROM series WHERE name = ?`, name).Scan(&id, &tp)
	if errors.Is(err, sql.ErrNoRows) {
		return Definition{}, NotFoundError(name)
	}
	if err != nil {
		return Definition{}, fmt.Errorf("get series %s: %w", name, err)
	}
	def := Definition{ID: SeriesID(id), Name: name, Type: SeriesType(tp)}
	s.byName.Add(name, def)
	return def, nil
}

func (s *SQLiteStore) Len() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM series`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count series: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
