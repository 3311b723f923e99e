// Package pvdb provides read access to the tabular PV reading series. The
// canonical store is a SQLite database indexed for (site, time range) queries;
// an in-memory implementation backs tests and synthetic datasets.
package pvdb

import (
	"context"
	"time"
)

// Reading is a single PV observation for a site.
type Reading struct {
	Timestamp time.Time
	SiteID    int64
	Value     float64
}

// Store is the contract the sample extractor and the HTTP API read through.
// Range returns readings for a site with timestamps in [from, to], ascending;
// an empty range is an empty slice, not an error.
type Store interface {
	Range(ctx context.Context, siteID int64, from, to time.Time) ([]Reading, error)
	SiteIDs(ctx context.Context) ([]int64, error)
}
