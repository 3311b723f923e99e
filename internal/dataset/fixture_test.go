package dataset

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/skycastml/pvnowcast/internal/config"
	"github.com/skycastml/pvnowcast/internal/cube"
	"github.com/skycastml/pvnowcast/internal/pvdb"
	"github.com/skycastml/pvnowcast/internal/sites"
)

// The test data covers one morning: 8 imagery frames at 5-minute cadence on
// a 16x16 two-channel grid, and dense PV series for two sites. Site 1 sits
// mid-grid; site 2 sits near the edge so its crop falls out of bounds.
const (
	gridSize   = 16
	gridChans  = 2
	frameCount = 8
)

type fixture struct {
	pv     *pvdb.MemoryStore
	frames *cube.Field
	table  *sites.Table
	window config.WindowConfig
	base   time.Time
}

// frameVal encodes a grid element so crop reads can be checked positionally.
func frameVal(t, y, x, c int) float32 {
	return float32(t*100000 + y*1000 + x*10 + c)
}

func testWindow() config.WindowConfig {
	return config.WindowConfig{
		Cadence:      5 * time.Minute,
		FeatureSteps: 3,
		TargetSteps:  4,
		TargetOffset: 15 * time.Minute,
		CropSize:     4,
		Channel:      0,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	base := time.Date(2020, 7, 1, 8, 0, 0, 0, time.UTC)

	times := make([]int64, frameCount)
	for i := range times {
		times[i] = base.Add(time.Duration(i) * 5 * time.Minute).Unix()
	}

	path := filepath.Join(t.TempDir(), "satellite.cube")
	w, err := cube.NewWriter(path, []cube.FieldSpec{
		{Name: "data", Shape: []int{frameCount, gridSize, gridSize, gridChans}, Times: times},
	})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for ti := 0; ti < frameCount; ti++ {
		rec := make([]float32, gridSize*gridSize*gridChans)
		for y := 0; y < gridSize; y++ {
			for x := 0; x < gridSize; x++ {
				for c := 0; c < gridChans; c++ {
					rec[(y*gridSize+x)*gridChans+c] = frameVal(ti, y, x, c)
				}
			}
		}
		if err := w.WriteRecords("data", ti, rec); err != nil {
			t.Fatalf("WriteRecords: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close writer: %v", err)
	}

	c, err := cube.Open(path)
	if err != nil {
		t.Fatalf("Open cube: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	frames, err := c.Field("data")
	if err != nil {
		t.Fatalf("Field: %v", err)
	}

	pv := pvdb.NewMemoryStore()
	for _, siteID := range []int64{1, 2} {
		for step := 0; step < 14; step++ {
			pv.Add(pvdb.Reading{
				Timestamp: base.Add(time.Duration(step) * 5 * time.Minute),
				SiteID:    siteID,
				Value:     float64(siteID) + 0.01*float64(step),
			})
		}
	}

	table, err := sites.Parse([]byte(`{"hrv": {"1": [8, 8], "2": [1, 1]}}`))
	if err != nil {
		t.Fatalf("Parse sites: %v", err)
	}

	return &fixture{pv: pv, frames: frames, table: table, window: testWindow(), base: base}
}

func (f *fixture) extractor() *Extractor {
	return NewExtractor(f.pv, f.frames, f.table, "hrv", f.window)
}
