package embedding

import (
	"gonum.org/v1/gonum/blas/blas32"
	"gonum.org/v1/gonum/blas/blas64"
)

// Float is the element type of a Table.
type Float interface {
	float32 | float64
}

// Dot computes the dot product of two rows in their own
// precision.
func Dot[T Float](x, y []T) T {
	switch x := any(x).(type) {
	case []float32:
		return T(blas32.Dot(vec32(x), vec32(any(y).([]float32))))
	case []float64:
		return T(blas64.Dot(vec64(x), vec64(any(y).([]float64))))
	}
	panic("unreachable")
}

// Axpy adds alpha*x to y in place.
func Axpy[T Float](alpha T, x, y []T) {
	switch x := any(x).(type) {
	case []float32:
		blas32.Axpy(float32(alpha), vec32(x), vec32(any(y).([]float32)))
	case []float64:
		blas64.Axpy(float64(alpha), vec64(x), vec64(any(y).([]float64)))
	default:
		panic("unreachable")
	}
}

func vec32(x []float32) blas32.Vector {
	return blas32.Vector{N: len(x), Inc: 1, Data: x}
}

func vec64(x []float64) blas64.Vector {
	return blas64.Vector{N: len(x), Inc: 1, Data: x}
}
