package dataset

import "context"

// Dataset composes the anchor sequence, a site list, and an extractor into a
// lazy, finite, restartable sequence of samples: outer loop over anchors,
// inner loop over sites, yielding only the pairs that extract successfully.
// Re-iterating reconstructs the identical sequence; no state is cached
// across iterations.
type Dataset struct {
	extractor *Extractor
	anchors   AnchorRange
	siteIDs   []int64
}

// New builds a Dataset. If siteIDs is empty, all sites the location table
// knows for the extractor's imagery source are used, ascending.
func New(extractor *Extractor, anchors AnchorRange, siteIDs []int64) *Dataset {
	if len(siteIDs) == 0 {
		siteIDs = extractor.table.SiteIDs(extractor.source)
	}
	return &Dataset{extractor: extractor, anchors: anchors, siteIDs: siteIDs}
}

// Len returns the number of (anchor, site) pairs the dataset will attempt.
// The yielded sample count is at most this.
func (d *Dataset) Len() int {
	return d.anchors.Count() * len(d.siteIDs)
}

// SiteIDs returns the dataset's resolved site list.
func (d *Dataset) SiteIDs() []int64 {
	return d.siteIDs
}

// Iter is a single pass over the dataset. Each Iter holds its own position;
// concurrent consumers must each take their own iterator.
type Iter struct {
	d      *Dataset
	sample *Sample
	err    error

	anchorAt int
	siteAt   int

	discards map[DiscardReason]int
}

// Iter returns a new iterator positioned before the first sample.
func (d *Dataset) Iter() *Iter {
	return &Iter{d: d, discards: make(map[DiscardReason]int)}
}

// Next advances to the next successfully extracted sample. It returns false
// when the sequence is exhausted or an I/O error occurred; check Err after.
func (it *Iter) Next(ctx context.Context) bool {
	if it.err != nil {
		return false
	}
	total := it.d.anchors.Count()
	for it.anchorAt < total {
		if it.siteAt >= len(it.d.siteIDs) {
			it.anchorAt++
			it.siteAt = 0
			continue
		}

		anchor := it.d.anchors.At(it.anchorAt)
		siteID := it.d.siteIDs[it.siteAt]
		it.siteAt++

		s, reason, err := it.d.extractor.Extract(ctx, anchor, siteID)
		if err != nil {
			it.err = err
			return false
		}
		if reason != DiscardNone {
			it.discards[reason]++
			continue
		}
		it.sample = s
		return true
	}
	return false
}

// Sample returns the sample produced by the last successful Next.
func (it *Iter) Sample() *Sample {
	return it.sample
}

// Err returns the I/O error that stopped iteration, if any.
func (it *Iter) Err() error {
	return it.err
}

// Discards reports how many pairs were skipped so far, by reason.
func (it *Iter) Discards() map[DiscardReason]int {
	out := make(map[DiscardReason]int, len(it.discards))
	for k, v := range it.discards {
		out[k] = v
	}
	return out
}

// Reset restarts the iterator from the beginning of the sequence.
func (it *Iter) Reset() {
	it.anchorAt = 0
	it.siteAt = 0
	it.sample = nil
	it.err = nil
	it.discards = make(map[DiscardReason]int)
}
