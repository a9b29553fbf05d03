// Package embedding stores the shared parameter matrices
// of a skip-gram model.
//
// A Table is deliberately unsynchronized. Any number of
// Goroutines may read and update rows concurrently without
// locks; stale reads and lost updates on individual
// elements are tolerated by the training algorithm because
// updates are small and sparse. Callers that need exact,
// reproducible results must give each Goroutine its own
// Table and merge them (e.g. by averaging).
package embedding

import (
	"fmt"
	"io"
	"math/rand"

	"github.com/pkg/errors"
	"github.com/unixpickle/essentials"
	"github.com/winstonquock/deeplearning4j/vecio"
)

// ErrParamLength is returned when a flattened parameter
// vector does not match a Table's shape.
var ErrParamLength = errors.New("embedding: parameter length mismatch")

// A Table holds three matrices with one row of length
// VectorLength per word:
//
//   - Syn0: input vectors, indexed by word index.
//   - Syn1: hierarchical softmax output vectors, indexed by
//     Huffman internal node.
//   - Syn1Neg: negative sampling output vectors, indexed by
//     word index.
//
// Syn1Hist and Syn1NegHist hold one adaptive learning rate
// accumulator per row of Syn1 and Syn1Neg. They are local
// training state and are not part of Params.
type Table[T Float] struct {
	NumWords     int
	VectorLength int

	Syn0    []T
	Syn1    []T
	Syn1Neg []T

	Syn1Hist    []T
	Syn1NegHist []T
}

// NewTable creates an all-zero table.
func NewTable[T Float](numWords, vectorLength int) *Table[T] {
	if numWords <= 0 || vectorLength <= 0 {
		panic(fmt.Sprintf("invalid table shape %dx%d", numWords, vectorLength))
	}
	size := numWords * vectorLength
	return &Table[T]{
		NumWords:     numWords,
		VectorLength: vectorLength,
		Syn0:         make([]T, size),
		Syn1:         make([]T, size),
		Syn1Neg:      make([]T, size),
		Syn1Hist:     make([]T, numWords),
		Syn1NegHist:  make([]T, numWords),
	}
}

// Reset initializes Syn0 uniformly in
// [-0.5/VectorLength, 0.5/VectorLength) and zeroes
// everything else.
func (t *Table[T]) Reset(gen *rand.Rand) {
	for i := range t.Syn0 {
		t.Syn0[i] = T((gen.Float64() - 0.5) / float64(t.VectorLength))
	}
	for _, m := range [][]T{t.Syn1, t.Syn1Neg, t.Syn1Hist, t.Syn1NegHist} {
		for i := range m {
			m[i] = 0
		}
	}
}

// Syn0Row returns a view of an input vector.
func (t *Table[T]) Syn0Row(i int) []T {
	return t.row(t.Syn0, i)
}

// Syn1Row returns a view of a hierarchical softmax vector.
func (t *Table[T]) Syn1Row(i int) []T {
	return t.row(t.Syn1, i)
}

// Syn1NegRow returns a view of a negative sampling vector.
func (t *Table[T]) Syn1NegRow(i int) []T {
	return t.row(t.Syn1Neg, i)
}

func (t *Table[T]) row(m []T, i int) []T {
	if i < 0 || i >= t.NumWords {
		panic(fmt.Sprintf("row %d out of range [0, %d)", i, t.NumWords))
	}
	return m[i*t.VectorLength : (i+1)*t.VectorLength]
}

// NumParams returns the length of Params().
func (t *Table[T]) NumParams() int {
	return len(t.Syn0) + len(t.Syn1) + len(t.Syn1Neg)
}

// Params flattens Syn0, Syn1 and Syn1Neg, in that order,
// into a new float64 vector.
func (t *Table[T]) Params() []float64 {
	res := make([]float64, 0, t.NumParams())
	for _, m := range [][]T{t.Syn0, t.Syn1, t.Syn1Neg} {
		for _, x := range m {
			res = append(res, float64(x))
		}
	}
	return res
}

// SetParams overwrites every matrix from a vector laid
// out like Params().
func (t *Table[T]) SetParams(params []float64) error {
	if len(params) != t.NumParams() {
		return errors.Wrapf(ErrParamLength, "got %d, table has %d", len(params), t.NumParams())
	}
	for _, m := range [][]T{t.Syn0, t.Syn1, t.Syn1Neg} {
		for i := range m {
			m[i] = T(params[i])
		}
		params = params[len(m):]
	}
	return nil
}

// Write writes the table's shape and parameters.
func (t *Table[T]) Write(w io.Writer) error {
	if err := vecio.WriteInts(w, []int{t.NumWords, t.VectorLength}); err != nil {
		return essentials.AddCtx("write table", err)
	}
	return essentials.AddCtx("write table", vecio.WriteVector(w, t.Params()))
}

// ReadTable reads a table written by Write.
// The adaptive rate accumulators start at zero.
func ReadTable[T Float](r io.Reader) (*Table[T], error) {
	shape, err := vecio.ReadInts(r)
	if err != nil {
		return nil, essentials.AddCtx("read table", err)
	}
	if len(shape) != 2 || shape[0] <= 0 || shape[1] <= 0 {
		return nil, errors.Errorf("read table: bad shape %v", shape)
	}
	params, err := vecio.ReadVector(r)
	if err != nil {
		return nil, essentials.AddCtx("read table", err)
	}
	t := NewTable[T](shape[0], shape[1])
	if err := t.SetParams(params); err != nil {
		return nil, essentials.AddCtx("read table", err)
	}
	return t, nil
}
