package dataset

import (
	"context"
	"testing"
	"time"
)

func fixtureAnchors(f *fixture) AnchorRange {
	return AnchorRange{
		Start:    f.base,
		End:      f.base,
		DayStart: 8 * time.Hour,
		DayEnd:   8*time.Hour + 10*time.Minute,
		Interval: 5 * time.Minute,
	}
}

type pair struct {
	anchor time.Time
	siteID int64
}

func collect(t *testing.T, it *Iter) []pair {
	t.Helper()
	var out []pair
	for it.Next(context.Background()) {
		s := it.Sample()
		out = append(out, pair{anchor: s.Anchor, siteID: s.SiteID})
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iteration failed: %v", err)
	}
	return out
}

// TestDatasetIteration verifies the anchor-outer, site-inner order, that
// unalignable pairs are counted per reason, and that Len bounds the yield.
func TestDatasetIteration(t *testing.T) {
	f := newFixture(t)
	ds := New(f.extractor(), fixtureAnchors(f), nil)

	if got := ds.Len(); got != 4 {
		t.Fatalf("Len = %d, want 4", got)
	}
	ids := ds.SiteIDs()
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Fatalf("SiteIDs = %v, want [1 2]", ids)
	}

	it := ds.Iter()
	got := collect(t, it)

	// Site 2 sits at the grid edge, so only site 1 yields samples.
	want := []pair{
		{anchor: f.base, siteID: 1},
		{anchor: f.base.Add(5 * time.Minute), siteID: 1},
	}
	if len(got) != len(want) {
		t.Fatalf("yielded %d samples, want %d", len(got), len(want))
	}
	for i := range want {
		if !got[i].anchor.Equal(want[i].anchor) || got[i].siteID != want[i].siteID {
			t.Fatalf("sample %d = (%v, %d), want (%v, %d)",
				i, got[i].anchor, got[i].siteID, want[i].anchor, want[i].siteID)
		}
	}

	discards := it.Discards()
	if discards[DiscardCropBounds] != 2 {
		t.Fatalf("expected 2 crop-bounds discards, got %v", discards)
	}
	if len(discards) != 1 {
		t.Fatalf("unexpected discard reasons: %v", discards)
	}
}

// TestDatasetRestart verifies a second pass yields the identical sequence,
// both from a fresh iterator and after Reset.
func TestDatasetRestart(t *testing.T) {
	f := newFixture(t)
	ds := New(f.extractor(), fixtureAnchors(f), nil)

	it := ds.Iter()
	first := collect(t, it)

	it.Reset()
	second := collect(t, it)

	fresh := collect(t, ds.Iter())

	for _, other := range [][]pair{second, fresh} {
		if len(other) != len(first) {
			t.Fatalf("pass yielded %d samples, want %d", len(other), len(first))
		}
		for i := range first {
			if !first[i].anchor.Equal(other[i].anchor) || first[i].siteID != other[i].siteID {
				t.Fatalf("sample %d differs across passes", i)
			}
		}
	}
}

// TestDatasetExplicitSites verifies an explicit site list overrides the
// table's default and unknown sites are discarded, not fatal.
func TestDatasetExplicitSites(t *testing.T) {
	f := newFixture(t)
	ds := New(f.extractor(), fixtureAnchors(f), []int64{1, 99})

	it := ds.Iter()
	got := collect(t, it)
	if len(got) != 2 {
		t.Fatalf("yielded %d samples, want 2", len(got))
	}
	if it.Discards()[DiscardUnknownSite] != 2 {
		t.Fatalf("expected 2 unknown-site discards, got %v", it.Discards())
	}
}

// TestDatasetEmptyRange verifies an inverted date range yields nothing.
func TestDatasetEmptyRange(t *testing.T) {
	f := newFixture(t)
	anchors := fixtureAnchors(f)
	anchors.End = anchors.Start.AddDate(0, 0, -1)
	ds := New(f.extractor(), anchors, nil)

	if got := ds.Len(); got != 0 {
		t.Fatalf("Len = %d, want 0", got)
	}
	it := ds.Iter()
	if it.Next(context.Background()) {
		t.Fatal("expected no samples from an empty range")
	}
	if err := it.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
