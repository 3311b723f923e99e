// Package dataset builds training samples by aligning the tabular PV series
// with the satellite imagery cube: an anchor-timestamp generator, a sample
// extractor with typed discard outcomes, and a restartable iterator over the
// (anchor, site) cross product.
package dataset

import "time"

// AnchorRange describes the calendar and time-of-day window anchors are
// drawn from: for each day in [Start, End], each time-of-day in
// [DayStart, DayEnd) stepping by Interval.
type AnchorRange struct {
	Start    time.Time
	End      time.Time
	DayStart time.Duration
	DayEnd   time.Duration
	Interval time.Duration
}

// PerDay returns the number of anchors each day contributes.
func (r AnchorRange) PerDay() int {
	if r.Interval <= 0 || r.DayEnd <= r.DayStart {
		return 0
	}
	return int((r.DayEnd - r.DayStart + r.Interval - 1) / r.Interval)
}

// Days returns the number of calendar days in [Start, End]. An inverted
// range has zero days and therefore yields an empty sequence.
func (r AnchorRange) Days() int {
	start := midnight(r.Start)
	end := midnight(r.End)
	if end.Before(start) {
		return 0
	}
	return int(end.Sub(start).Hours()/24) + 1
}

// Count returns the total number of anchors the range yields.
func (r AnchorRange) Count() int {
	return r.Days() * r.PerDay()
}

// At returns the i-th anchor. Anchors are ordered ascending by day, then by
// time-of-day, so the sequence is strictly ascending and restartable from
// any position. On a range that yields no anchors At returns the zero time.
func (r AnchorRange) At(i int) time.Time {
	perDay := r.PerDay()
	if perDay == 0 {
		return time.Time{}
	}
	day := i / perDay
	slot := i % perDay
	return midnight(r.Start).AddDate(0, 0, day).
		Add(r.DayStart + time.Duration(slot)*r.Interval)
}

// Anchors is a lazy, restartable iterator over the range's anchor sequence.
type Anchors struct {
	r AnchorRange
	i int
	n int
}

// Iter starts a fresh iteration over the range.
func (r AnchorRange) Iter() *Anchors {
	return &Anchors{r: r, n: r.Count()}
}

// Next returns the next anchor, or false when the sequence is exhausted.
func (a *Anchors) Next() (time.Time, bool) {
	if a.i >= a.n {
		return time.Time{}, false
	}
	t := a.r.At(a.i)
	a.i++
	return t, true
}

// Reset restarts the sequence from the beginning.
func (a *Anchors) Reset() {
	a.i = 0
}

func midnight(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
