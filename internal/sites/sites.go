// Package sites loads the site location index: for each data source, the
// pixel coordinate of every PV site within that source's imagery grid. The
// index is loaded wholesale and is immutable for the process lifetime.
package sites

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/goccy/go-json"
)

var (
	// ErrUnknownSource is returned when a data source is absent from the index.
	ErrUnknownSource = errors.New("unknown data source")

	// ErrUnknownSite is returned when a site is absent for a data source.
	ErrUnknownSite = errors.New("unknown site")
)

// Coord is a pixel coordinate in an imagery grid.
type Coord struct {
	X int
	Y int
}

// Table maps data-source name -> site id -> pixel coordinate.
type Table struct {
	sources map[string]map[int64]Coord
}

// Load reads a site index file: {"source": {"site_id": [x, y], ...}, ...}.
func Load(path string) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read site index: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a site index document.
func Parse(raw []byte) (*Table, error) {
	var doc map[string]map[string][2]int
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode site index: %w", err)
	}

	t := &Table{sources: make(map[string]map[int64]Coord, len(doc))}
	for source, entries := range doc {
		m := make(map[int64]Coord, len(entries))
		for id, xy := range entries {
			var siteID int64
			if _, err := fmt.Sscanf(id, "%d", &siteID); err != nil {
				return nil, fmt.Errorf("decode site index: bad site id %q in %q", id, source)
			}
			m[siteID] = Coord{X: xy[0], Y: xy[1]}
		}
		t.sources[source] = m
	}
	return t, nil
}

// Lookup returns the pixel coordinate of a site within a data source's grid.
func (t *Table) Lookup(source string, siteID int64) (Coord, error) {
	entries, ok := t.sources[source]
	if !ok {
		return Coord{}, fmt.Errorf("%w: %s", ErrUnknownSource, source)
	}
	c, ok := entries[siteID]
	if !ok {
		return Coord{}, fmt.Errorf("%w: site %d in %s", ErrUnknownSite, siteID, source)
	}
	return c, nil
}

// SiteIDs lists all site ids known for a data source, ascending. The ordering
// gives dataset iteration a deterministic default site list.
func (t *Table) SiteIDs(source string) []int64 {
	entries, ok := t.sources[source]
	if !ok {
		return nil
	}
	ids := make([]int64, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Sources lists the data-source names present in the index, sorted.
func (t *Table) Sources() []string {
	names := make([]string, 0, len(t.sources))
	for name := range t.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
