package catalog

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by a Store after Close.
var ErrClosed = errors.New("catalog is closed")

type NotFoundError string

func (msg NotFoundError) Error() string {
	return fmt.Sprintf("%s: series not found", string(msg))
}

type InvalidDefinitionError string

func (msg InvalidDefinitionError) Error() string {
	return fmt.Sprintf("%s: invalid series definition", string(msg))
}

// SeriesConflictError is returned when a definition clashes with a different
// series already stored under the same id or name.
type SeriesConflictError struct {
	Remote Definition
	Local  Definition
}

func (e *SeriesConflictError) Error() string {
	return fmt.Sprintf("series %s conflicts with local series %s", e.Remote, e.Local)
}
