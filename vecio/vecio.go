// Package vecio reads and writes dense numeric vectors
// as self-describing binary blobs.
//
// A blob is gonum's VecDense binary form: a fixed-size
// header carrying the element type and the dimensions,
// followed by the elements in order as little-endian
// float64 values. Reading a blob back yields a vector with
// exactly the same length and element order.
package vecio

import (
	"io"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrEmptyVector is returned when writing a vector with
// no elements. Parameter vectors are never empty.
var ErrEmptyVector = errors.New("vecio: empty vector")

// WriteVector writes v to w.
func WriteVector(w io.Writer, v []float64) error {
	if len(v) == 0 {
		return ErrEmptyVector
	}
	vec := mat.NewVecDense(len(v), v)
	if _, err := vec.MarshalBinaryTo(w); err != nil {
		return errors.Wrapf(err, "vecio: write %d elements", len(v))
	}
	return nil
}

// ReadVector reads a vector written by WriteVector.
func ReadVector(r io.Reader) ([]float64, error) {
	var vec mat.VecDense
	if _, err := vec.UnmarshalBinaryFrom(r); err != nil {
		return nil, errors.Wrap(err, "vecio: read vector")
	}
	return vec.RawVector().Data, nil
}

// WriteInts writes integer-valued data (e.g. a sampling
// table of word indices) as a vector blob.
func WriteInts(w io.Writer, v []int) error {
	data := make([]float64, len(v))
	for i, x := range v {
		data[i] = float64(x)
	}
	return WriteVector(w, data)
}

// ReadInts reads a blob written by WriteInts.
func ReadInts(r io.Reader) ([]int, error) {
	data, err := ReadVector(r)
	if err != nil {
		return nil, err
	}
	res := make([]int, len(data))
	for i, x := range data {
		if x != float64(int(x)) {
			return nil, errors.Errorf("vecio: element %d is not an integer: %v", i, x)
		}
		res[i] = int(x)
	}
	return res, nil
}
