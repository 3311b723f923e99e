package pvdb

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a concurrency-safe in-memory Store. It backs tests and small
// synthetic datasets; production data lives in SQLite.
type MemoryStore struct {
	mu sync.RWMutex

	// key: site id, value: readings sorted by timestamp
	data map[int64][]Reading
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[int64][]Reading)}
}

// Add inserts a reading, keeping the site's series sorted.
func (s *MemoryStore) Add(r Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()

	series := s.data[r.SiteID]
	i := sort.Search(len(series), func(i int) bool {
		return !series[i].Timestamp.Before(r.Timestamp)
	})
	series = append(series, Reading{})
	copy(series[i+1:], series[i:])
	series[i] = r
	s.data[r.SiteID] = series
}

// Range returns readings for a site in [from, to], ascending.
func (s *MemoryStore) Range(_ context.Context, siteID int64, from, to time.Time) ([]Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.data[siteID]
	var out []Reading
	for _, r := range series {
		if r.Timestamp.Before(from) || r.Timestamp.After(to) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// SiteIDs lists the sites present in the store, ascending.
func (s *MemoryStore) SiteIDs(_ context.Context) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int64, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
