// Package model implements the baseline nowcasting network: a stack of
// convolution + max-pool stages over the satellite crop sequence, whose
// flattened output is concatenated with the PV feature vector and mapped
// through a sigmoid-activated linear head to the prediction horizon.
package model

import "fmt"

// Network maps (PV features, satellite crop sequence) to a prediction
// vector. Forward and Backward operate on one sample; gradients accumulate
// across calls until Step applies and clears them.
type Network interface {
	Forward(features, frames []float32) []float32
	Backward(grad []float32)
	Step(lr float64)
	Config() Config
}

// Config describes the network geometry. The defaults mirror the competition
// baseline: 12 input frames over 128x128 crops, four conv stages, 48 outputs.
type Config struct {
	FeatureDim int   `json:"feature_dim"`
	InputSteps int   `json:"input_steps"`
	CropSize   int   `json:"crop_size"`
	OutputDim  int   `json:"output_dim"`
	Channels   []int `json:"channels"`
	Kernel     int   `json:"kernel"`
	Seed       int64 `json:"seed"`
}

// DefaultConfig returns the baseline geometry.
func DefaultConfig() Config {
	return Config{
		FeatureDim: 12,
		InputSteps: 12,
		CropSize:   128,
		OutputDim:  48,
		Channels:   []int{24, 48, 96, 192},
		Kernel:     3,
		Seed:       1,
	}
}

// FrameDim returns the flattened crop-sequence length of one sample under
// this geometry.
func (c Config) FrameDim() int {
	return c.InputSteps * c.CropSize * c.CropSize
}

// flatDim returns the flattened extent after the conv/pool stack, or an
// error when the crop is too small for the stage count.
func (c Config) flatDim() (int, error) {
	size := c.CropSize
	for range c.Channels {
		size -= c.Kernel - 1
		size /= 2
		if size < 1 {
			return 0, fmt.Errorf("model: crop size %d too small for %d conv stages", c.CropSize, len(c.Channels))
		}
	}
	return c.Channels[len(c.Channels)-1] * size * size, nil
}

// ConvNet is the concrete Network.
type ConvNet struct {
	cfg Config

	convs []*conv2d
	pools []*maxPool2
	acts  []*relu
	head  *linear

	flatDim int
	out     []float32
}

// New constructs a randomly initialized network.
func New(cfg Config) (*ConvNet, error) {
	if len(cfg.Channels) == 0 || cfg.Kernel < 1 || cfg.OutputDim < 1 {
		return nil, fmt.Errorf("model: invalid config")
	}
	flat, err := cfg.flatDim()
	if err != nil {
		return nil, err
	}

	rnd := newRNG(cfg.Seed)
	n := &ConvNet{cfg: cfg, flatDim: flat}

	inCh := cfg.InputSteps
	for _, outCh := range cfg.Channels {
		n.convs = append(n.convs, newConv2d(inCh, outCh, cfg.Kernel, rnd))
		n.pools = append(n.pools, &maxPool2{})
		n.acts = append(n.acts, &relu{})
		inCh = outCh
	}
	n.head = newLinear(flat+cfg.FeatureDim, cfg.OutputDim, rnd)
	return n, nil
}

// Config returns the network geometry.
func (n *ConvNet) Config() Config {
	return n.cfg
}

// Forward runs one sample: frames is the flattened crop sequence, treated as
// InputSteps channels of CropSize x CropSize; features is the PV vector.
func (n *ConvNet) Forward(features, frames []float32) []float32 {
	x := make([]float32, len(frames))
	copy(x, frames)

	h, w := n.cfg.CropSize, n.cfg.CropSize
	for i, conv := range n.convs {
		x, h, w = conv.forward(x, h, w)
		x, h, w = n.pools[i].forward(x, conv.outCh, h, w)
		x = n.acts[i].forward(x)
	}

	joined := make([]float32, 0, n.flatDim+n.cfg.FeatureDim)
	joined = append(joined, x...)
	joined = append(joined, features...)

	n.out = sigmoid(n.head.forward(joined))
	return n.out
}

// Backward propagates the loss gradient of the last Forward's output,
// accumulating parameter gradients.
func (n *ConvNet) Backward(grad []float32) {
	// Through the sigmoid head.
	dz := make([]float32, len(grad))
	for i, g := range grad {
		dz[i] = g * n.out[i] * (1 - n.out[i])
	}

	dJoined := n.head.backward(dz)
	dx := dJoined[:n.flatDim]

	for i := len(n.convs) - 1; i >= 0; i-- {
		dx = n.acts[i].backward(dx)
		dx = n.pools[i].backward(dx)
		dx = n.convs[i].backward(dx)
	}
}

// Step applies accumulated gradients with the given learning rate and clears
// them. Callers average over a minibatch by scaling lr accordingly.
func (n *ConvNet) Step(lr float64) {
	step := float32(lr)
	for _, c := range n.convs {
		applySGD(c.w, c.dw, step)
		applySGD(c.b, c.db, step)
	}
	applySGD(n.head.w, n.head.dw, step)
	applySGD(n.head.b, n.head.db, step)
}

func applySGD(w, dw []float32, lr float32) {
	for i := range w {
		w[i] -= lr * dw[i]
		dw[i] = 0
	}
}

// params lists every parameter slice in a stable order for checkpointing.
func (n *ConvNet) params() [][]float32 {
	var out [][]float32
	for _, c := range n.convs {
		out = append(out, c.w, c.b)
	}
	out = append(out, n.head.w, n.head.b)
	return out
}
