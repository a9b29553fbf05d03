// Package nnet implements a small feed-forward network
// that trains on a stream of records, and an iterreduce
// worker around it.
package nnet

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrDimension is returned when a record does not match
// the shape of a network.
var ErrDimension = errors.New("nnet: dimension mismatch")

// A Network is a fully-connected network with sigmoid
// hidden layers and a linear output layer, trained by
// per-record SGD on squared error.
//
// All weights live in one flat vector, so the network can
// be averaged and replaced as a whole.
type Network struct {
	// Sizes lists the layer widths, starting with the
	// input and ending with the output.
	Sizes []int

	LearningRate float64

	params  []float64
	weights []*mat.Dense
	biases  []*mat.VecDense
}

// NewNetwork creates a network with small random weights.
func NewNetwork(gen *rand.Rand, learningRate float64, sizes ...int) *Network {
	if len(sizes) < 2 {
		panic("network needs at least an input and an output layer")
	}
	var numParams int
	for i := 1; i < len(sizes); i++ {
		if sizes[i-1] <= 0 || sizes[i] <= 0 {
			panic(fmt.Sprintf("invalid layer sizes %v", sizes))
		}
		numParams += sizes[i]*sizes[i-1] + sizes[i]
	}
	n := &Network{
		Sizes:        append([]int{}, sizes...),
		LearningRate: learningRate,
		params:       make([]float64, numParams),
	}
	n.makeViews()

	for i, w := range n.weights {
		scale := 1 / math.Sqrt(float64(sizes[i]))
		rows, cols := w.Dims()
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				w.Set(r, c, gen.NormFloat64()*scale)
			}
		}
	}
	return n
}

func (n *Network) makeViews() {
	n.weights = nil
	n.biases = nil
	offset := 0
	for i := 1; i < len(n.Sizes); i++ {
		in, out := n.Sizes[i-1], n.Sizes[i]
		n.weights = append(n.weights, mat.NewDense(out, in, n.params[offset:offset+in*out]))
		offset += in * out
		n.biases = append(n.biases, mat.NewVecDense(out, n.params[offset:offset+out]))
		offset += out
	}
}

// NumInputs returns the input width.
func (n *Network) NumInputs() int {
	return n.Sizes[0]
}

// NumOutputs returns the output width.
func (n *Network) NumOutputs() int {
	return n.Sizes[len(n.Sizes)-1]
}

// NumParams returns the length of Params().
func (n *Network) NumParams() int {
	return len(n.params)
}

// Params returns a copy of every weight and bias.
func (n *Network) Params() []float64 {
	return append([]float64{}, n.params...)
}

// SetParams overwrites every weight and bias.
func (n *Network) SetParams(params []float64) error {
	if len(params) != len(n.params) {
		return errors.Wrapf(ErrDimension, "%d parameters for a network with %d",
			len(params), len(n.params))
	}
	copy(n.params, params)
	return nil
}

// Predict runs the network on an input.
func (n *Network) Predict(input []float64) ([]float64, error) {
	acts, err := n.forward(input)
	if err != nil {
		return nil, err
	}
	return acts[len(acts)-1].RawVector().Data, nil
}

// Fit runs one SGD step on a record and returns the
// squared error before the step.
func (n *Network) Fit(r *Record) (float64, error) {
	if len(r.Target) != n.NumOutputs() {
		return 0, errors.Wrapf(ErrDimension, "target has %d values, want %d",
			len(r.Target), n.NumOutputs())
	}
	acts, err := n.forward(r.Input)
	if err != nil {
		return 0, err
	}

	out := acts[len(acts)-1]
	delta := mat.NewVecDense(out.Len(), nil)
	delta.SubVec(out, mat.NewVecDense(len(r.Target), r.Target))
	loss := 0.5 * mat.Dot(delta, delta)

	for l := len(n.weights) - 1; l >= 0; l-- {
		prev := acts[l]
		var nextDelta *mat.VecDense
		if l > 0 {
			nextDelta = mat.NewVecDense(prev.Len(), nil)
			nextDelta.MulVec(n.weights[l].T(), delta)
			for i := 0; i < prev.Len(); i++ {
				a := prev.AtVec(i)
				nextDelta.SetVec(i, nextDelta.AtVec(i)*a*(1-a))
			}
		}
		n.weights[l].RankOne(n.weights[l], -n.LearningRate, delta, prev)
		n.biases[l].AddScaledVec(n.biases[l], -n.LearningRate, delta)
		delta = nextDelta
	}
	return loss, nil
}

// forward returns the activations of every layer,
// starting with the input.
func (n *Network) forward(input []float64) ([]*mat.VecDense, error) {
	if len(input) != n.NumInputs() {
		return nil, errors.Wrapf(ErrDimension, "input has %d values, want %d",
			len(input), n.NumInputs())
	}
	acts := []*mat.VecDense{mat.NewVecDense(len(input), append([]float64{}, input...))}
	for l, w := range n.weights {
		z := mat.NewVecDense(n.Sizes[l+1], nil)
		z.MulVec(w, acts[l])
		z.AddVec(z, n.biases[l])
		if l < len(n.weights)-1 {
			for i := 0; i < z.Len(); i++ {
				z.SetVec(i, 1/(1+math.Exp(-z.AtVec(i))))
			}
		}
		acts = append(acts, z)
	}
	return acts, nil
}
