package model

import "math"

// conv2d is a stride-1, valid-padding convolution. Forward caches its input
// for the backward pass; gradients accumulate until zeroGrad.
type conv2d struct {
	inCh, outCh, k int

	w  []float32 // (outCh, inCh, k, k)
	b  []float32 // (outCh)
	dw []float32
	db []float32

	in       []float32
	inH, inW int
}

func newConv2d(inCh, outCh, k int, rnd *rng) *conv2d {
	c := &conv2d{
		inCh:  inCh,
		outCh: outCh,
		k:     k,
		w:     make([]float32, outCh*inCh*k*k),
		b:     make([]float32, outCh),
		dw:    make([]float32, outCh*inCh*k*k),
		db:    make([]float32, outCh),
	}
	// Kaiming-style uniform init over the fan-in.
	bound := float32(math.Sqrt(1.0 / float64(inCh*k*k)))
	for i := range c.w {
		c.w[i] = rnd.uniform(-bound, bound)
	}
	return c
}

func (c *conv2d) outDims(h, w int) (int, int) {
	return h - c.k + 1, w - c.k + 1
}

func (c *conv2d) forward(x []float32, h, w int) ([]float32, int, int) {
	oh, ow := c.outDims(h, w)
	c.in, c.inH, c.inW = x, h, w

	y := make([]float32, c.outCh*oh*ow)
	for oc := 0; oc < c.outCh; oc++ {
		bias := c.b[oc]
		for oy := 0; oy < oh; oy++ {
			for ox := 0; ox < ow; ox++ {
				acc := bias
				for ic := 0; ic < c.inCh; ic++ {
					for ky := 0; ky < c.k; ky++ {
						xRow := x[ic*h*w+(oy+ky)*w+ox:]
						wRow := c.w[((oc*c.inCh+ic)*c.k+ky)*c.k:]
						for kx := 0; kx < c.k; kx++ {
							acc += wRow[kx] * xRow[kx]
						}
					}
				}
				y[oc*oh*ow+oy*ow+ox] = acc
			}
		}
	}
	return y, oh, ow
}

func (c *conv2d) backward(dy []float32) []float32 {
	h, w := c.inH, c.inW
	oh, ow := c.outDims(h, w)
	dx := make([]float32, len(c.in))

	for oc := 0; oc < c.outCh; oc++ {
		for oy := 0; oy < oh; oy++ {
			for ox := 0; ox < ow; ox++ {
				g := dy[oc*oh*ow+oy*ow+ox]
				if g == 0 {
					continue
				}
				c.db[oc] += g
				for ic := 0; ic < c.inCh; ic++ {
					for ky := 0; ky < c.k; ky++ {
						xRow := c.in[ic*h*w+(oy+ky)*w+ox:]
						dxRow := dx[ic*h*w+(oy+ky)*w+ox:]
						wRow := c.w[((oc*c.inCh+ic)*c.k+ky)*c.k:]
						dwRow := c.dw[((oc*c.inCh+ic)*c.k+ky)*c.k:]
						for kx := 0; kx < c.k; kx++ {
							dwRow[kx] += g * xRow[kx]
							dxRow[kx] += g * wRow[kx]
						}
					}
				}
			}
		}
	}
	return dx
}

// maxPool2 is a 2x2 max pool with stride 2; odd trailing rows/cols are
// dropped, matching floor division of the spatial extent.
type maxPool2 struct {
	argmax   []int32
	ch       int
	inH, inW int
}

func (p *maxPool2) forward(x []float32, ch, h, w int) ([]float32, int, int) {
	oh, ow := h/2, w/2
	p.ch, p.inH, p.inW = ch, h, w
	p.argmax = make([]int32, ch*oh*ow)

	y := make([]float32, ch*oh*ow)
	for c := 0; c < ch; c++ {
		for oy := 0; oy < oh; oy++ {
			for ox := 0; ox < ow; ox++ {
				base := c*h*w + 2*oy*w + 2*ox
				best, bestAt := x[base], base
				for _, at := range [3]int{base + 1, base + w, base + w + 1} {
					if x[at] > best {
						best, bestAt = x[at], at
					}
				}
				o := c*oh*ow + oy*ow + ox
				y[o] = best
				p.argmax[o] = int32(bestAt)
			}
		}
	}
	return y, oh, ow
}

func (p *maxPool2) backward(dy []float32) []float32 {
	dx := make([]float32, p.ch*p.inH*p.inW)
	for o, at := range p.argmax {
		dx[at] += dy[o]
	}
	return dx
}

// relu rectifies in place on forward and masks gradients on backward.
type relu struct {
	mask []bool
}

func (r *relu) forward(x []float32) []float32 {
	r.mask = make([]bool, len(x))
	for i, v := range x {
		if v > 0 {
			r.mask[i] = true
		} else {
			x[i] = 0
		}
	}
	return x
}

func (r *relu) backward(dy []float32) []float32 {
	for i := range dy {
		if !r.mask[i] {
			dy[i] = 0
		}
	}
	return dy
}

// linear is a fully connected layer.
type linear struct {
	inDim, outDim int

	w  []float32 // (outDim, inDim)
	b  []float32
	dw []float32
	db []float32

	in []float32
}

func newLinear(inDim, outDim int, rnd *rng) *linear {
	l := &linear{
		inDim:  inDim,
		outDim: outDim,
		w:      make([]float32, outDim*inDim),
		b:      make([]float32, outDim),
		dw:     make([]float32, outDim*inDim),
		db:     make([]float32, outDim),
	}
	bound := float32(math.Sqrt(1.0 / float64(inDim)))
	for i := range l.w {
		l.w[i] = rnd.uniform(-bound, bound)
	}
	return l
}

func (l *linear) forward(x []float32) []float32 {
	l.in = x
	y := make([]float32, l.outDim)
	for o := 0; o < l.outDim; o++ {
		acc := l.b[o]
		row := l.w[o*l.inDim:]
		for i, v := range x {
			acc += row[i] * v
		}
		y[o] = acc
	}
	return y
}

func (l *linear) backward(dy []float32) []float32 {
	dx := make([]float32, l.inDim)
	for o, g := range dy {
		if g == 0 {
			continue
		}
		l.db[o] += g
		row := l.w[o*l.inDim:]
		dwRow := l.dw[o*l.inDim:]
		for i, v := range l.in {
			dwRow[i] += g * v
			dx[i] += g * row[i]
		}
	}
	return dx
}

func sigmoid(z []float32) []float32 {
	y := make([]float32, len(z))
	for i, v := range z {
		y[i] = float32(1.0 / (1.0 + math.Exp(-float64(v))))
	}
	return y
}

// rng is a small xorshift generator so weight init is deterministic per seed
// without pulling math/rand state into checkpoints.
type rng struct {
	state uint64
}

func newRNG(seed int64) *rng {
	s := uint64(seed)
	if s == 0 {
		s = 0x9E3779B97F4A7C15
	}
	return &rng{state: s}
}

func (r *rng) next() uint64 {
	r.state ^= r.state << 13
	r.state ^= r.state >> 7
	r.state ^= r.state << 17
	return r.state
}

func (r *rng) uniform(lo, hi float32) float32 {
	f := float32(r.next()>>11) / float32(1<<53)
	return lo + (hi-lo)*f
}
