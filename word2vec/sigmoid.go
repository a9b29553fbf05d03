package word2vec

import "math"

const (
	// ExpTableSize is the number of entries in a Sigmoid
	// table.
	ExpTableSize = 1000

	// MaxExp bounds the domain of a Sigmoid table.
	// Outside [-MaxExp, MaxExp) the logistic function is
	// treated as saturated.
	MaxExp = 6
)

// Sigmoid is a lookup table approximating the logistic
// function over [-MaxExp, MaxExp).
type Sigmoid struct {
	table [ExpTableSize]float64
}

// NewSigmoid builds the table.
func NewSigmoid() *Sigmoid {
	s := &Sigmoid{}
	for i := range s.table {
		e := math.Exp((float64(i)/ExpTableSize*2 - 1) * MaxExp)
		s.table[i] = e / (e + 1)
	}
	return s
}

// Lookup approximates 1/(1+exp(-x)).
//
// If x is in the saturated region, ok is false and the
// result should not be used.
func (s *Sigmoid) Lookup(x float64) (f float64, ok bool) {
	if x < -MaxExp || x >= MaxExp {
		return 0, false
	}
	idx := int((x + MaxExp) * (float64(ExpTableSize) / MaxExp / 2))
	if idx < 0 || idx >= ExpTableSize {
		return 0, false
	}
	return s.table[idx], true
}
