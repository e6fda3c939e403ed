package mock

import (
	"github.com/alpacahq/seriesdb/catalog"
)

// SeriesSource serves a fixed list of definitions.
type SeriesSource struct {
	Series []catalog.Definition
	Error  error
}

func (s *SeriesSource) SeriesFrom(start catalog.SeriesID, limit int) ([]catalog.Definition, error) {
	if s.Error != nil {
		return nil, s.Error
	}
	var out []catalog.Definition
	for _, def := range s.Series {
		if def.ID >= start && len(out) < limit {
			out = append(out, def)
		}
	}
	return out, nil
}

func (s *SeriesSource) HighestAllocatedID() (catalog.SeriesID, error) {
	if s.Error != nil {
		return catalog.NoSeries, s.Error
	}
	highest := catalog.NoSeries
	for _, def := range s.Series {
		if def.ID > highest {
			highest = def.ID
		}
	}
	return highest, nil
}
