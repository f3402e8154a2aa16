package inference

import (
	"math"
	"math/rand"
)

// activation selects the nonlinearity of a dense layer.
type activation int

const (
	actSigmoid activation = iota
	actSoftmax
	actTanh
)

// denseLayer is a fully connected layer with out x in weights.
type denseLayer struct {
	in, out int
	weights [][]float64
	biases  []float64
	act     activation
}

func newDenseLayer(rng *rand.Rand, in, out int, act activation) *denseLayer {
	l := &denseLayer{
		in:      in,
		out:     out,
		weights: make([][]float64, out),
		biases:  make([]float64, out),
		act:     act,
	}
	// Xavier-style init keeps the deterministic seeded weights in a
	// usable range for both serving and training.
	scale := math.Sqrt(2.0 / float64(in+out))
	for o := 0; o < out; o++ {
		l.weights[o] = make([]float64, in)
		for i := 0; i < in; i++ {
			l.weights[o][i] = (rng.Float64()*2 - 1) * scale
		}
	}
	return l
}

// forward computes the layer output into dst (length l.out).
func (l *denseLayer) forward(input, dst []float64) {
	for o := 0; o < l.out; o++ {
		sum := l.biases[o]
		w := l.weights[o]
		for i := 0; i < l.in; i++ {
			sum += w[i] * input[i]
		}
		dst[o] = sum
	}
	switch l.act {
	case actSigmoid:
		for o := range dst[:l.out] {
			dst[o] = sigmoid(dst[o])
		}
	case actTanh:
		for o := range dst[:l.out] {
			dst[o] = math.Tanh(dst[o])
		}
	case actSoftmax:
		softmaxInPlace(dst[:l.out])
	}
}

// feedForward is a stack of dense layers. It covers the classifier,
// the regressor, and the autoencoder architectures.
type feedForward struct {
	layers []*denseLayer
}

func newFeedForward(seed int64, sizes []int, hidden, out activation) *feedForward {
	rng := rand.New(rand.NewSource(seed))
	net := &feedForward{}
	for i := 0; i < len(sizes)-1; i++ {
		act := hidden
		if i == len(sizes)-2 {
			act = out
		}
		net.layers = append(net.layers, newDenseLayer(rng, sizes[i], sizes[i+1], act))
	}
	return net
}

func (n *feedForward) inputSize() int  { return n.layers[0].in }
func (n *feedForward) outputSize() int { return n.layers[len(n.layers)-1].out }

// forward runs the network, allocating intermediates from the scope,
// and returns the scope-owned output buffer.
func (n *feedForward) forward(s *Scope, input []float64) []float64 {
	cur := input
	for _, l := range n.layers {
		next := s.Alloc(l.out)
		l.forward(cur, next)
		cur = next
	}
	return cur
}

// trainSample performs one SGD step on a single sample and returns the
// sample loss. Softmax outputs pair with cross-entropy, everything
// else with squared error; both yield the same output delta shape.
func (n *feedForward) trainSample(s *Scope, input, target []float64, lr float64) float64 {
	// Forward pass, keeping every activation for the backward pass.
	acts := make([][]float64, len(n.layers)+1)
	acts[0] = input
	for i, l := range n.layers {
		out := s.Alloc(l.out)
		l.forward(acts[i], out)
		acts[i+1] = out
	}

	out := acts[len(acts)-1]
	last := n.layers[len(n.layers)-1]

	var loss float64
	delta := s.Alloc(last.out)
	if last.act == actSoftmax {
		for o := range delta {
			delta[o] = out[o] - target[o]
			if target[o] > 0 {
				loss -= target[o] * math.Log(math.Max(out[o], 1e-12))
			}
		}
	} else {
		for o := range delta {
			diff := out[o] - target[o]
			loss += 0.5 * diff * diff
			// Chain through the output nonlinearity.
			delta[o] = diff * actDerivative(last.act, out[o])
		}
	}

	// Backward pass with in-place SGD updates.
	for li := len(n.layers) - 1; li >= 0; li-- {
		l := n.layers[li]
		prev := acts[li]

		var prevDelta []float64
		if li > 0 {
			prevDelta = s.Alloc(l.in)
			for i := 0; i < l.in; i++ {
				var sum float64
				for o := 0; o < l.out; o++ {
					sum += l.weights[o][i] * delta[o]
				}
				prevDelta[i] = sum * actDerivative(n.layers[li-1].act, prev[i])
			}
		}

		for o := 0; o < l.out; o++ {
			grad := delta[o]
			w := l.weights[o]
			for i := 0; i < l.in; i++ {
				w[i] -= lr * grad * prev[i]
			}
			l.biases[o] -= lr * grad
		}

		delta = prevDelta
	}

	return loss
}

// loss computes the sample loss without updating weights.
func (n *feedForward) loss(s *Scope, input, target []float64) float64 {
	out := n.forward(s, input)
	last := n.layers[len(n.layers)-1]
	var loss float64
	if last.act == actSoftmax {
		for o := range target {
			if target[o] > 0 {
				loss -= target[o] * math.Log(math.Max(out[o], 1e-12))
			}
		}
		return loss
	}
	for o := range target {
		diff := out[o] - target[o]
		loss += 0.5 * diff * diff
	}
	return loss
}

// recurrentNet is a minimal Elman-style network over a fixed-length
// window, with a single sigmoid output head read from the final hidden
// state.
type recurrentNet struct {
	inputSize  int
	hiddenSize int
	steps      int
	wx         [][]float64 // hidden x input
	wh         [][]float64 // hidden x hidden
	bh         []float64
	wo         []float64 // output head
	bo         float64
}

func newRecurrentNet(seed int64, inputSize, hiddenSize, steps int) *recurrentNet {
	rng := rand.New(rand.NewSource(seed))
	n := &recurrentNet{
		inputSize:  inputSize,
		hiddenSize: hiddenSize,
		steps:      steps,
		wx:         make([][]float64, hiddenSize),
		wh:         make([][]float64, hiddenSize),
		bh:         make([]float64, hiddenSize),
		wo:         make([]float64, hiddenSize),
	}
	scaleX := math.Sqrt(2.0 / float64(inputSize+hiddenSize))
	scaleH := math.Sqrt(1.0 / float64(hiddenSize))
	for h := 0; h < hiddenSize; h++ {
		n.wx[h] = make([]float64, inputSize)
		for i := 0; i < inputSize; i++ {
			n.wx[h][i] = (rng.Float64()*2 - 1) * scaleX
		}
		n.wh[h] = make([]float64, hiddenSize)
		for j := 0; j < hiddenSize; j++ {
			n.wh[h][j] = (rng.Float64()*2 - 1) * scaleH
		}
		n.wo[h] = (rng.Float64()*2 - 1) * scaleH
	}
	return n
}

// forward consumes a flattened steps*inputSize window and returns the
// sigmoid output. Hidden-state buffers come from the scope.
func (n *recurrentNet) forward(s *Scope, window []float64) float64 {
	h := s.Alloc(n.hiddenSize)
	hNext := s.Alloc(n.hiddenSize)
	for t := 0; t < n.steps; t++ {
		x := window[t*n.inputSize : (t+1)*n.inputSize]
		for j := 0; j < n.hiddenSize; j++ {
			sum := n.bh[j]
			for i := 0; i < n.inputSize; i++ {
				sum += n.wx[j][i] * x[i]
			}
			for k := 0; k < n.hiddenSize; k++ {
				sum += n.wh[j][k] * h[k]
			}
			hNext[j] = math.Tanh(sum)
		}
		h, hNext = hNext, h
	}

	out := n.bo
	for j := 0; j < n.hiddenSize; j++ {
		out += n.wo[j] * h[j]
	}
	return sigmoid(out)
}

// trainSample performs one truncated-BPTT SGD step and returns the
// squared-error loss for the sample.
func (n *recurrentNet) trainSample(s *Scope, window []float64, target, lr float64) float64 {
	// Forward pass, retaining each step's hidden state.
	states := make([][]float64, n.steps+1)
	states[0] = s.Alloc(n.hiddenSize)
	for t := 0; t < n.steps; t++ {
		x := window[t*n.inputSize : (t+1)*n.inputSize]
		h := states[t]
		next := s.Alloc(n.hiddenSize)
		for j := 0; j < n.hiddenSize; j++ {
			sum := n.bh[j]
			for i := 0; i < n.inputSize; i++ {
				sum += n.wx[j][i] * x[i]
			}
			for k := 0; k < n.hiddenSize; k++ {
				sum += n.wh[j][k] * h[k]
			}
			next[j] = math.Tanh(sum)
		}
		states[t+1] = next
	}

	hLast := states[n.steps]
	z := n.bo
	for j := 0; j < n.hiddenSize; j++ {
		z += n.wo[j] * hLast[j]
	}
	out := sigmoid(z)
	diff := out - target
	loss := 0.5 * diff * diff

	// Output head gradient.
	dz := diff * out * (1 - out)
	dh := s.Alloc(n.hiddenSize)
	for j := 0; j < n.hiddenSize; j++ {
		dh[j] = dz * n.wo[j]
		n.wo[j] -= lr * dz * hLast[j]
	}
	n.bo -= lr * dz

	// Backpropagate through time.
	dhNext := s.Alloc(n.hiddenSize)
	for t := n.steps - 1; t >= 0; t-- {
		x := window[t*n.inputSize : (t+1)*n.inputSize]
		h := states[t]
		hOut := states[t+1]

		for j := range dhNext {
			dhNext[j] = 0
		}
		for j := 0; j < n.hiddenSize; j++ {
			g := dh[j] * (1 - hOut[j]*hOut[j])
			for i := 0; i < n.inputSize; i++ {
				n.wx[j][i] -= lr * g * x[i]
			}
			for k := 0; k < n.hiddenSize; k++ {
				dhNext[k] += g * n.wh[j][k]
				n.wh[j][k] -= lr * g * h[k]
			}
			n.bh[j] -= lr * g
		}
		dh, dhNext = dhNext, dh
	}

	return loss
}

// loss computes the squared-error loss without updating weights.
func (n *recurrentNet) loss(s *Scope, window []float64, target float64) float64 {
	out := n.forward(s, window)
	diff := out - target
	return 0.5 * diff * diff
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

func softmaxInPlace(v []float64) {
	max := v[0]
	for _, x := range v[1:] {
		if x > max {
			max = x
		}
	}
	var sum float64
	for i, x := range v {
		v[i] = math.Exp(x - max)
		sum += v[i]
	}
	for i := range v {
		v[i] /= sum
	}
}

func actDerivative(act activation, out float64) float64 {
	switch act {
	case actSigmoid:
		return out * (1 - out)
	case actTanh:
		return 1 - out*out
	default:
		return 1
	}
}
