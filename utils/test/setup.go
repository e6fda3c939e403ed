// Package test holds helpers shared by the tests of several packages.
package test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alpacahq/seriesdb/catalog"
)

// SeriesName is the name NewCatalog gives to series i.
func SeriesName(i int) string {
	return fmt.Sprintf("host%d.cpu", i)
}

// NewCatalog returns an in-memory catalog holding the float series 1..n.
func NewCatalog(t *testing.T, n int) catalog.Store {
	t.Helper()
	s, err := catalog.NewMemoryStore()
	require.NoError(t, err)
	Seed(t, s, n)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// Seed allocates the series 1..n in s.
func Seed(t *testing.T, s catalog.Store, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		_, err := s.AllocateOrGet(SeriesName(i), catalog.Float64)
		require.NoError(t, err)
	}
}

// Dump returns every definition of s in id order.
func Dump(t *testing.T, s catalog.Store) []catalog.Definition {
	t.Helper()
	defs, err := s.SeriesFrom(catalog.FirstSeriesID, 1<<20)
	require.NoError(t, err)
	return defs
}
