package dataset

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/skycastml/pvnowcast/internal/config"
	"github.com/skycastml/pvnowcast/internal/cube"
	"github.com/skycastml/pvnowcast/internal/pvdb"
	"github.com/skycastml/pvnowcast/internal/sites"
)

// TestExtractAligned verifies a fully aligned (anchor, site) pair produces a
// sample with the configured shapes and the right values.
func TestExtractAligned(t *testing.T) {
	f := newFixture(t)
	ex := f.extractor()

	s, reason, err := ex.Extract(context.Background(), f.base, 1)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if reason != DiscardNone {
		t.Fatalf("expected DiscardNone, got %v", reason)
	}
	if s == nil {
		t.Fatal("expected a sample")
	}

	w := f.window
	if len(s.Features) != w.FeatureSteps {
		t.Fatalf("features length %d, want %d", len(s.Features), w.FeatureSteps)
	}
	if len(s.Targets) != w.TargetSteps {
		t.Fatalf("targets length %d, want %d", len(s.Targets), w.TargetSteps)
	}
	if want := w.FeatureSteps * w.CropSize * w.CropSize; len(s.Frames) != want {
		t.Fatalf("frames length %d, want %d", len(s.Frames), want)
	}

	// Site 1's series is 1.00, 1.01, 1.02, ... at 5-minute steps.
	for i, v := range s.Features {
		if want := float32(1 + 0.01*float64(i)); v != want {
			t.Fatalf("feature %d = %v, want %v", i, v, want)
		}
	}
	// Targets start 15 minutes after the anchor, i.e. at step 3.
	for i, v := range s.Targets {
		if want := float32(1 + 0.01*float64(i+3)); v != want {
			t.Fatalf("target %d = %v, want %v", i, v, want)
		}
	}

	// Site 1 sits at (8, 8); a 4-pixel crop starts at row and column 6.
	for ti := 0; ti < w.FeatureSteps; ti++ {
		for y := 0; y < w.CropSize; y++ {
			for x := 0; x < w.CropSize; x++ {
				got := s.Frames[(ti*w.CropSize+y)*w.CropSize+x]
				if want := frameVal(ti, 6+y, 6+x, w.Channel); got != want {
					t.Fatalf("frame[%d][%d][%d] = %v, want %v", ti, y, x, got, want)
				}
			}
		}
	}
}

// TestExtractFeatureGap checks a hole in the PV feature window yields a
// typed discard, not an error.
func TestExtractFeatureGap(t *testing.T) {
	f := newFixture(t)

	sparse := pvdb.NewMemoryStore()
	for step := 0; step < 14; step++ {
		if step == 1 {
			continue
		}
		sparse.Add(pvdb.Reading{
			Timestamp: f.base.Add(time.Duration(step) * 5 * time.Minute),
			SiteID:    1,
			Value:     0.5,
		})
	}
	ex := NewExtractor(sparse, f.frames, f.table, "hrv", f.window)

	s, reason, err := ex.Extract(context.Background(), f.base, 1)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if reason != DiscardFeatureWindow {
		t.Fatalf("expected DiscardFeatureWindow, got %v", reason)
	}
	if s != nil {
		t.Fatal("expected no sample for a discarded pair")
	}
}

// TestExtractTargetGap checks a truncated target window is discarded.
func TestExtractTargetGap(t *testing.T) {
	f := newFixture(t)

	short := pvdb.NewMemoryStore()
	for step := 0; step < 5; step++ {
		short.Add(pvdb.Reading{
			Timestamp: f.base.Add(time.Duration(step) * 5 * time.Minute),
			SiteID:    1,
			Value:     0.5,
		})
	}
	ex := NewExtractor(short, f.frames, f.table, "hrv", f.window)

	_, reason, err := ex.Extract(context.Background(), f.base, 1)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if reason != DiscardTargetWindow {
		t.Fatalf("expected DiscardTargetWindow, got %v", reason)
	}
}

// TestExtractMissingFrames checks an imagery gap in the feature window is
// discarded even when both PV windows are complete.
func TestExtractMissingFrames(t *testing.T) {
	f := newFixture(t)
	ex := f.extractor()

	// The imagery series ends 35 minutes after base, so this anchor's
	// feature window only has two of its three frames.
	anchor := f.base.Add(30 * time.Minute)
	_, reason, err := ex.Extract(context.Background(), anchor, 1)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if reason != DiscardFrameCount {
		t.Fatalf("expected DiscardFrameCount, got %v", reason)
	}
}

// TestExtractCropOutOfBounds checks an edge site is discarded rather than
// read out of bounds.
func TestExtractCropOutOfBounds(t *testing.T) {
	f := newFixture(t)
	ex := f.extractor()

	_, reason, err := ex.Extract(context.Background(), f.base, 2)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if reason != DiscardCropBounds {
		t.Fatalf("expected DiscardCropBounds, got %v", reason)
	}
}

// TestExtractUnknownSite checks a site absent from the location table is a
// typed discard.
func TestExtractUnknownSite(t *testing.T) {
	f := newFixture(t)
	ex := f.extractor()

	_, reason, err := ex.Extract(context.Background(), f.base, 99)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if reason != DiscardUnknownSite {
		t.Fatalf("expected DiscardUnknownSite, got %v", reason)
	}
}

// TestExtractDefaultGeometry runs the extractor at the default window
// geometry: an hour of 5-minute PV history, a 48-step target window one
// hour out, and a 128-pixel crop.
func TestExtractDefaultGeometry(t *testing.T) {
	base := time.Date(2020, 7, 1, 8, 0, 0, 0, time.UTC)
	window := config.WindowConfig{
		Cadence:      5 * time.Minute,
		FeatureSteps: 12,
		TargetSteps:  48,
		TargetOffset: time.Hour,
		CropSize:     128,
		Channel:      0,
	}

	const grid = 140
	times := make([]int64, window.FeatureSteps)
	for i := range times {
		times[i] = base.Add(time.Duration(i) * window.Cadence).Unix()
	}
	path := filepath.Join(t.TempDir(), "satellite.cube")
	w, err := cube.NewWriter(path, []cube.FieldSpec{
		{Name: "data", Shape: []int{window.FeatureSteps, grid, grid, 1}, Chunk: 1, Times: times},
	})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	rec := make([]float32, grid*grid)
	for ti := 0; ti < window.FeatureSteps; ti++ {
		for i := range rec {
			rec[i] = float32(ti)
		}
		if err := w.WriteRecords("data", ti, rec); err != nil {
			t.Fatalf("WriteRecords: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	c, err := cube.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()
	frames, err := c.Field("data")
	if err != nil {
		t.Fatalf("Field: %v", err)
	}

	pv := pvdb.NewMemoryStore()
	for step := 0; step < 60; step++ {
		pv.Add(pvdb.Reading{
			Timestamp: base.Add(time.Duration(step) * window.Cadence),
			SiteID:    7,
			Value:     0.001 * float64(step),
		})
	}

	table, err := sites.Parse([]byte(`{"hrv": {"7": [70, 70]}}`))
	if err != nil {
		t.Fatalf("Parse sites: %v", err)
	}

	ex := NewExtractor(pv, frames, table, "hrv", window)
	s, reason, err := ex.Extract(context.Background(), base, 7)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if reason != DiscardNone {
		t.Fatalf("expected DiscardNone, got %v", reason)
	}

	if len(s.Features) != 12 {
		t.Fatalf("features length %d, want 12", len(s.Features))
	}
	if len(s.Frames) != 12*128*128 {
		t.Fatalf("frames length %d, want %d", len(s.Frames), 12*128*128)
	}
	if len(s.Targets) != 48 {
		t.Fatalf("targets length %d, want 48", len(s.Targets))
	}
	// Targets begin one hour after the anchor, at series step 12.
	if s.Targets[0] != float32(0.001*12) {
		t.Fatalf("first target %v, want %v", s.Targets[0], float32(0.001*12))
	}
	// Each frame holds its record index at every pixel.
	for ti := 0; ti < 12; ti++ {
		if got := s.Frames[ti*128*128]; got != float32(ti) {
			t.Fatalf("frame %d starts with %v, want %v", ti, got, float32(ti))
		}
	}
}
