// Package batch groups samples from a dataset iterator into fixed-size
// minibatches with contiguous flat buffers, and converts them to gomlx
// tensors for consumers that want tensor input.
package batch

import (
	"context"
	"fmt"

	"github.com/gomlx/gomlx/pkg/core/tensors"

	"github.com/skycastml/pvnowcast/internal/dataset"
)

// Source is the sample stream a Batcher consumes. *dataset.Iter satisfies it.
type Source interface {
	Next(ctx context.Context) bool
	Sample() *dataset.Sample
	Err() error
}

// Batch holds a minibatch as flat row-major buffers.
type Batch struct {
	Size int

	// Per-sample element counts.
	FeatureDim int
	FrameDim   int
	TargetDim  int

	Features []float32 // (Size, FeatureDim)
	Frames   []float32 // (Size, FrameDim)
	Targets  []float32 // (Size, TargetDim)
}

// FeatureRow returns the i-th sample's feature vector.
func (b *Batch) FeatureRow(i int) []float32 {
	return b.Features[i*b.FeatureDim : (i+1)*b.FeatureDim]
}

// FrameRow returns the i-th sample's flattened crop sequence.
func (b *Batch) FrameRow(i int) []float32 {
	return b.Frames[i*b.FrameDim : (i+1)*b.FrameDim]
}

// TargetRow returns the i-th sample's target vector.
func (b *Batch) TargetRow(i int) []float32 {
	return b.Targets[i*b.TargetDim : (i+1)*b.TargetDim]
}

// Batcher pulls samples from a Source and assembles minibatches.
type Batcher struct {
	src  Source
	size int
}

// New creates a Batcher yielding batches of up to size samples.
func New(src Source, size int) *Batcher {
	return &Batcher{src: src, size: size}
}

// Next assembles the next batch. The final batch may be smaller than the
// configured size; a nil batch with nil error means the source is exhausted.
func (b *Batcher) Next(ctx context.Context) (*Batch, error) {
	var out *Batch
	for out == nil || out.Size < b.size {
		if !b.src.Next(ctx) {
			if err := b.src.Err(); err != nil {
				return nil, err
			}
			break
		}
		s := b.src.Sample()
		if out == nil {
			out = &Batch{
				FeatureDim: len(s.Features),
				FrameDim:   len(s.Frames),
				TargetDim:  len(s.Targets),
			}
		}
		if len(s.Features) != out.FeatureDim || len(s.Frames) != out.FrameDim || len(s.Targets) != out.TargetDim {
			return nil, fmt.Errorf("batch: inconsistent sample shapes at element %d", out.Size)
		}
		out.Features = append(out.Features, s.Features...)
		out.Frames = append(out.Frames, s.Frames...)
		out.Targets = append(out.Targets, s.Targets...)
		out.Size++
	}
	return out, nil
}

// Tensors converts the batch's buffers into gomlx tensors shaped
// (Size, FeatureDim), (Size, FrameDim), and (Size, TargetDim).
func (b *Batch) Tensors() (features, frames, targets *tensors.Tensor) {
	return tensors.FromAnyValue(rows(b.Features, b.Size, b.FeatureDim)),
		tensors.FromAnyValue(rows(b.Frames, b.Size, b.FrameDim)),
		tensors.FromAnyValue(rows(b.Targets, b.Size, b.TargetDim))
}

func rows(flat []float32, n, dim int) [][]float32 {
	out := make([][]float32, n)
	for i := 0; i < n; i++ {
		out[i] = flat[i*dim : (i+1)*dim]
	}
	return out
}
