// Package train drives minibatch gradient descent over the windowed dataset.
package train

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/skycastml/pvnowcast/internal/batch"
	"github.com/skycastml/pvnowcast/internal/config"
	"github.com/skycastml/pvnowcast/internal/dataset"
	"github.com/skycastml/pvnowcast/internal/logging"
	"github.com/skycastml/pvnowcast/internal/model"
)

// Result summarizes a completed training run.
type Result struct {
	RunID    string
	Epochs   int
	Steps    int
	Samples  int
	MeanLoss float64
	Discards map[dataset.DiscardReason]int
	Elapsed  time.Duration
}

// Run trains the network for the configured number of epochs and writes the
// checkpoint to checkpointPath when done. Loss is mean absolute error, the
// competition's metric.
func Run(ctx context.Context, net *model.ConvNet, ds *dataset.Dataset, cfg config.TrainingConfig, checkpointPath string) (*Result, error) {
	res := &Result{
		RunID:    uuid.NewString(),
		Discards: make(map[dataset.DiscardReason]int),
	}
	started := time.Now()

	log := logging.Logger().With().Str("run_id", res.RunID).Logger()
	log.Info().
		Int("epochs", cfg.Epochs).
		Int("batch_size", cfg.BatchSize).
		Float64("lr", cfg.LearningRate).
		Int("pairs", ds.Len()).
		Msg("training started")

	outDim := net.Config().OutputDim

	var totalLoss float64
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		it := ds.Iter()
		batches := batch.New(it, cfg.BatchSize)

		var runLoss float64
		var runSteps int
		for {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			b, err := batches.Next(ctx)
			if err != nil {
				return nil, fmt.Errorf("train: %w", err)
			}
			if b == nil {
				break
			}

			loss := trainBatch(net, b, outDim)
			net.Step(cfg.LearningRate)

			res.Steps++
			res.Samples += b.Size
			totalLoss += loss
			runLoss += loss
			runSteps++

			if runSteps%cfg.LogEvery == 0 {
				log.Info().
					Int("epoch", epoch+1).
					Int("step", res.Steps).
					Float64("loss", runLoss/float64(runSteps)).
					Msg("training progress")
				runLoss, runSteps = 0, 0
			}
		}

		for reason, n := range it.Discards() {
			res.Discards[reason] += n
		}
		log.Info().Int("epoch", epoch+1).Msg("epoch complete")
	}

	res.Epochs = cfg.Epochs
	if res.Steps > 0 {
		res.MeanLoss = totalLoss / float64(res.Steps)
	}
	res.Elapsed = time.Since(started)

	if checkpointPath != "" {
		if err := model.Save(net, checkpointPath); err != nil {
			return nil, err
		}
		log.Info().Str("path", checkpointPath).Msg("checkpoint written")
	}

	log.Info().
		Int("steps", res.Steps).
		Int("samples", res.Samples).
		Float64("mean_loss", res.MeanLoss).
		Dur("elapsed", res.Elapsed).
		Msg("training finished")
	return res, nil
}

// trainBatch runs forward and backward over every sample in the batch,
// accumulating gradients scaled so Step applies the batch-mean update.
// Returns the batch's mean absolute error.
func trainBatch(net *model.ConvNet, b *batch.Batch, outDim int) float64 {
	scale := 1 / float64(b.Size*outDim)

	var loss float64
	grad := make([]float32, outDim)
	for i := 0; i < b.Size; i++ {
		out := net.Forward(b.FeatureRow(i), b.FrameRow(i))
		targets := b.TargetRow(i)

		for j, y := range out {
			diff := float64(y - targets[j])
			if diff >= 0 {
				loss += diff
				grad[j] = float32(scale)
			} else {
				loss -= diff
				grad[j] = -float32(scale)
			}
		}
		net.Backward(grad)
	}
	return loss * scale
}
