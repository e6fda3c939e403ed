package catalog

import (
	"fmt"
	"math"
)

// SeriesID is an identifier in the database-wide, monotonically assigned series id space.
type SeriesID uint64

const (
	// NoSeries is never assigned to a series.
	NoSeries SeriesID = 0
	// FirstSeriesID is the lowest id a series can have.
	FirstSeriesID SeriesID = 1
	// MaxSeriesID is the highest id the sqlite backend can store.
	MaxSeriesID SeriesID = math.MaxInt64
)

// SeriesType is the value type stored in a series.
type SeriesType uint8

const (
	Int64 SeriesType = iota + 1
	Float64
	String
)

func (t SeriesType) String() string {
	switch t {
	case Int64:
		return "int64"
	case Float64:
		return "float64"
	case String:
		return "string"
	default:
		return fmt.Sprintf("SeriesType(%d)", uint8(t))
	}
}

// Valid reports whether t is a known series type.
func (t SeriesType) Valid() bool {
	return t >= Int64 && t <= String
}

// Definition is what a replica needs to know about a series before it can hold its data.
type Definition struct {
	ID   SeriesID   `msgpack:"id"`
	Name string     `msgpack:"name"`
	Type SeriesType `msgpack:"type"`
}

func (d Definition) String() string {
	return fmt.Sprintf("%s(id=%d, type=%s)", d.Name, d.ID, d.Type)
}

// ApplyResult tells whether applying a remote definition changed the catalog.
type ApplyResult int

const (
	Inserted ApplyResult = iota + 1
	AlreadyPresent
)

func (r ApplyResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case AlreadyPresent:
		return "already present"
	default:
		return "unknown"
	}
}

// Store is the series catalog of one database.
//
// Locally originated series creation (AllocateOrGet) and application of
// definitions received from a peer are serialized, so an id is never handed
// out twice.
type Store interface {
	// AllocateOrGet returns the id of the named series, creating it with the
	// next free id when it does not exist yet.
	AllocateOrGet(name string, tp SeriesType) (SeriesID, error)
	// ApplyRemoteSeries inserts a definition received from a peer.
	// Applying a definition that is already known is a no-op.
	ApplyRemoteSeries(def Definition) (ApplyResult, error)
	// ApplyRemoteBatch applies all the definitions in one transaction.
	// On error nothing is applied.
	ApplyRemoteBatch(defs []Definition) ([]ApplyResult, error)
	// HighestAllocatedID returns the highest id ever allocated, or NoSeries.
	HighestAllocatedID() (SeriesID, error)
	// SeriesFrom returns at most limit definitions with id >= start, in id order.
	SeriesFrom(start SeriesID, limit int) ([]Definition, error)
	// Get looks a series up by name.
	Get(name string) (Definition, error)
	// Len returns the number of series in the catalog.
	Len() (int, error)
	Close() error
}

// checkRemote compares a definition received from a peer against what is stored
// under its id and under its name. existingByID and existingByName are nil when
// nothing is stored.
func checkRemote(def Definition, existingByID, existingByName *Definition) (ApplyResult, error) {
	if def.ID == NoSeries {
		return 0, InvalidDefinitionError(def.String() + ": id 0 is reserved")
	}
	if def.ID > MaxSeriesID {
		return 0, InvalidDefinitionError(fmt.Sprintf("%s: id above %d", def, MaxSeriesID))
	}
	if def.Name == "" {
		return 0, InvalidDefinitionError(def.String() + ": empty name")
	}
	if !def.Type.Valid() {
		return 0, InvalidDefinitionError(def.String() + ": unknown type")
	}
	if existingByID != nil && (*existingByID != def) {
		return 0, &SeriesConflictError{Remote: def, Local: *existingByID}
	}
	if existingByName != nil && (*existingByName != def) {
		return 0, &SeriesConflictError{Remote: def, Local: *existingByName}
	}
	if existingByID != nil {
		return AlreadyPresent, nil
	}
	return Inserted, nil
}
