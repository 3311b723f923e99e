package train

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/skycastml/pvnowcast/internal/config"
	"github.com/skycastml/pvnowcast/internal/cube"
	"github.com/skycastml/pvnowcast/internal/dataset"
	"github.com/skycastml/pvnowcast/internal/model"
	"github.com/skycastml/pvnowcast/internal/pvdb"
	"github.com/skycastml/pvnowcast/internal/sites"
)

// buildDataset assembles a dense two-anchor, one-site dataset small enough
// to train in-process.
func buildDataset(t *testing.T) *dataset.Dataset {
	t.Helper()

	base := time.Date(2020, 7, 1, 8, 0, 0, 0, time.UTC)
	window := config.WindowConfig{
		Cadence:      5 * time.Minute,
		FeatureSteps: 3,
		TargetSteps:  4,
		TargetOffset: 15 * time.Minute,
		CropSize:     6,
		Channel:      0,
	}

	times := make([]int64, 8)
	for i := range times {
		times[i] = base.Add(time.Duration(i) * 5 * time.Minute).Unix()
	}
	path := filepath.Join(t.TempDir(), "satellite.cube")
	w, err := cube.NewWriter(path, []cube.FieldSpec{
		{Name: "data", Shape: []int{8, 16, 16, 1}, Times: times},
	})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for ti := 0; ti < 8; ti++ {
		rec := make([]float32, 16*16)
		for i := range rec {
			rec[i] = float32((ti+i)%11) / 11
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
	t.Cleanup(func() { c.Close() })
	frames, err := c.Field("data")
	if err != nil {
		t.Fatalf("Field: %v", err)
	}

	pv := pvdb.NewMemoryStore()
	for step := 0; step < 14; step++ {
		pv.Add(pvdb.Reading{
			Timestamp: base.Add(time.Duration(step) * 5 * time.Minute),
			SiteID:    1,
			Value:     0.3 + 0.02*float64(step),
		})
	}

	table, err := sites.Parse([]byte(`{"hrv": {"1": [8, 8]}}`))
	if err != nil {
		t.Fatalf("Parse sites: %v", err)
	}

	ex := dataset.NewExtractor(pv, frames, table, "hrv", window)
	anchors := dataset.AnchorRange{
		Start:    base,
		End:      base,
		DayStart: 8 * time.Hour,
		DayEnd:   8*time.Hour + 10*time.Minute,
		Interval: 5 * time.Minute,
	}
	return dataset.New(ex, anchors, nil)
}

// TestRunTrainsAndCheckpoints drives a two-epoch run end to end and checks
// the result accounting and the written checkpoint.
func TestRunTrainsAndCheckpoints(t *testing.T) {
	ds := buildDataset(t)
	net, err := model.New(model.Config{
		FeatureDim: 3,
		InputSteps: 3,
		CropSize:   6,
		OutputDim:  4,
		Channels:   []int{2},
		Kernel:     3,
		Seed:       1,
	})
	if err != nil {
		t.Fatalf("model.New: %v", err)
	}

	cfg := config.TrainingConfig{
		BatchSize:    2,
		Epochs:       2,
		LearningRate: 0.01,
		LogEvery:     10,
	}
	checkpoint := filepath.Join(t.TempDir(), "model.bin")

	res, err := Run(context.Background(), net, ds, cfg, checkpoint)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Epochs != 2 {
		t.Fatalf("Epochs = %d, want 2", res.Epochs)
	}
	if res.Steps != 2 {
		t.Fatalf("Steps = %d, want 2", res.Steps)
	}
	if res.Samples != 4 {
		t.Fatalf("Samples = %d, want 4", res.Samples)
	}
	if res.MeanLoss <= 0 {
		t.Fatalf("MeanLoss = %v, want > 0", res.MeanLoss)
	}
	if res.RunID == "" {
		t.Fatal("expected a run id")
	}
	if len(res.Discards) != 0 {
		t.Fatalf("expected no discards from dense data, got %v", res.Discards)
	}

	if _, err := os.Stat(checkpoint); err != nil {
		t.Fatalf("checkpoint missing: %v", err)
	}
	if _, err := model.Load(checkpoint); err != nil {
		t.Fatalf("checkpoint unreadable: %v", err)
	}
}

// TestRunHonorsCancellation checks a cancelled context stops the run.
func TestRunHonorsCancellation(t *testing.T) {
	ds := buildDataset(t)
	net, err := model.New(model.Config{
		FeatureDim: 3,
		InputSteps: 3,
		CropSize:   6,
		OutputDim:  4,
		Channels:   []int{2},
		Kernel:     3,
		Seed:       1,
	})
	if err != nil {
		t.Fatalf("model.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := config.TrainingConfig{BatchSize: 2, Epochs: 1, LearningRate: 0.01, LogEvery: 10}
	if _, err := Run(ctx, net, ds, cfg, ""); err == nil {
		t.Fatal("expected an error from a cancelled context")
	}
}
