// Package eval scores a trained network against a validation bundle and
// implements the competition's streaming prediction protocol.
package eval

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/skycastml/pvnowcast/internal/cube"
	"github.com/skycastml/pvnowcast/internal/model"
)

// Validation bundle field names.
const (
	FieldPV      = "pv"
	FieldFrames  = "hrv"
	FieldTargets = "targets"
)

// Evaluator batches a validation bundle through a network.
type Evaluator struct {
	net       *model.ConvNet
	batchSize int
}

// New creates an Evaluator.
func New(net *model.ConvNet, batchSize int) *Evaluator {
	if batchSize <= 0 {
		batchSize = 32
	}
	return &Evaluator{net: net, batchSize: batchSize}
}

// Evaluate predicts over the whole bundle and returns the mean absolute
// error against its targets.
func (e *Evaluator) Evaluate(c *cube.Cube) (float64, error) {
	pv, frames, n, err := e.inputs(c)
	if err != nil {
		return 0, err
	}
	targets, err := c.Field(FieldTargets)
	if err != nil {
		return 0, err
	}
	if targets.Len() != n {
		return 0, fmt.Errorf("evaluate: %d targets for %d samples", targets.Len(), n)
	}

	outDim := e.net.Config().OutputDim
	if got := recordDim(targets); got != outDim {
		return 0, fmt.Errorf("evaluate: %s records carry %d values, model predicts %d", FieldTargets, got, outDim)
	}
	var sum float64
	var count int
	for lo := 0; lo < n; lo += e.batchSize {
		hi := min(lo+e.batchSize, n)
		preds, err := e.predictRange(pv, frames, lo, hi)
		if err != nil {
			return 0, err
		}
		want, err := targets.ReadRecords(lo, hi)
		if err != nil {
			return 0, err
		}
		for i, row := range preds {
			for j, y := range row {
				sum += math.Abs(float64(y - want[i*outDim+j]))
				count++
			}
		}
	}
	if count == 0 {
		return 0, fmt.Errorf("evaluate: empty validation bundle")
	}
	return sum / float64(count), nil
}

// StreamPredictions writes an OK handshake line followed by one CSV line of
// predictions per sample, flushing after every batch. A prediction with the
// wrong horizon length aborts the stream.
func (e *Evaluator) StreamPredictions(c *cube.Cube, w io.Writer) error {
	pv, frames, n, err := e.inputs(c)
	if err != nil {
		return err
	}

	out := bufio.NewWriter(w)
	if _, err := out.WriteString("OK\n"); err != nil {
		return err
	}

	outDim := e.net.Config().OutputDim
	for lo := 0; lo < n; lo += e.batchSize {
		hi := min(lo+e.batchSize, n)
		preds, err := e.predictRange(pv, frames, lo, hi)
		if err != nil {
			return err
		}
		for _, row := range preds {
			if len(row) != outDim {
				return fmt.Errorf("stream: prediction has %d steps, want %d", len(row), outDim)
			}
			for j, v := range row {
				if j > 0 {
					out.WriteByte(',')
				}
				out.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
			}
			out.WriteByte('\n')
		}
		if err := out.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func (e *Evaluator) inputs(c *cube.Cube) (pv, frames *cube.Field, n int, err error) {
	if pv, err = c.Field(FieldPV); err != nil {
		return nil, nil, 0, err
	}
	if frames, err = c.Field(FieldFrames); err != nil {
		return nil, nil, 0, err
	}
	if pv.Len() != frames.Len() {
		return nil, nil, 0, fmt.Errorf("evaluate: %d pv rows for %d frame rows", pv.Len(), frames.Len())
	}
	cfg := e.net.Config()
	if got := recordDim(pv); got != cfg.FeatureDim {
		return nil, nil, 0, fmt.Errorf("evaluate: %s records carry %d values, model wants %d", FieldPV, got, cfg.FeatureDim)
	}
	if got := recordDim(frames); got != cfg.FrameDim() {
		return nil, nil, 0, fmt.Errorf("evaluate: %s records carry %d values, model wants %d", FieldFrames, got, cfg.FrameDim())
	}
	return pv, frames, pv.Len(), nil
}

// recordDim returns the number of values one record of the field carries.
func recordDim(f *cube.Field) int {
	dim := 1
	for _, d := range f.Shape()[1:] {
		dim *= d
	}
	return dim
}

// predictRange forwards samples [lo, hi) and returns one prediction row each.
func (e *Evaluator) predictRange(pv, frames *cube.Field, lo, hi int) ([][]float32, error) {
	out := make([][]float32, 0, hi-lo)
	for i := lo; i < hi; i++ {
		features, err := pv.ReadRecord(i)
		if err != nil {
			return nil, err
		}
		crop, err := frames.ReadRecord(i)
		if err != nil {
			return nil, err
		}
		pred := e.net.Forward(features, crop)
		row := make([]float32, len(pred))
		copy(row, pred)
		out = append(out, row)
	}
	return out, nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
