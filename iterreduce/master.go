package iterreduce

import (
	"io"
	"sync"

	"github.com/unixpickle/essentials"
	"github.com/winstonquock/deeplearning4j/vecio"
	"gonum.org/v1/gonum/floats"
)

// A Master combines the updates of a round.
type Master interface {
	// Aggregate reduces a round's updates into one.
	//
	// It may modify the updates in place.
	Aggregate(updates []*Update) (*Update, error)

	// Result returns the most recent aggregate.
	Result() (*Update, error)

	// Finalize writes the most recent aggregate.
	Finalize(w io.Writer) error
}

// AveragingMaster is a Master that computes an
// element-wise mean.
//
// The first update of every round is used as the
// accumulator, so it is overwritten by the aggregate.
type AveragingMaster struct {
	// Weighted weights each update by its Weight field.
	// Otherwise, every update counts equally.
	Weighted bool

	lock sync.Mutex
	last *Update
}

// Aggregate averages the updates.
//
// The resulting Weight is the sum of the inputs' weights.
func (a *AveragingMaster) Aggregate(updates []*Update) (*Update, error) {
	if len(updates) == 0 {
		return nil, ErrEmptyRound
	}
	acc := updates[0]
	for _, u := range updates[1:] {
		if len(u.Params) != len(acc.Params) {
			return nil, &ConfigurationError{Want: len(acc.Params), Got: len(u.Params)}
		}
	}

	var totalWeight float64
	for _, u := range updates {
		totalWeight += u.Weight
	}

	var divisor float64
	if a.Weighted {
		if totalWeight == 0 {
			return nil, ErrZeroWeight
		}
		floats.Scale(acc.Weight, acc.Params)
		for _, u := range updates[1:] {
			floats.AddScaled(acc.Params, u.Weight, u.Params)
		}
		divisor = totalWeight
	} else {
		for _, u := range updates[1:] {
			floats.Add(acc.Params, u.Params)
		}
		divisor = float64(len(updates))
	}
	for i := range acc.Params {
		acc.Params[i] /= divisor
	}
	acc.Weight = totalWeight

	a.lock.Lock()
	a.last = acc
	a.lock.Unlock()
	return acc, nil
}

// Result returns the last aggregate.
func (a *AveragingMaster) Result() (*Update, error) {
	a.lock.Lock()
	defer a.lock.Unlock()
	if a.last == nil {
		return nil, ErrNoResultYet
	}
	return a.last, nil
}

// Finalize writes the last aggregate's parameters as a
// vecio vector.
func (a *AveragingMaster) Finalize(w io.Writer) error {
	res, err := a.Result()
	if err != nil {
		return err
	}
	return essentials.AddCtx("finalize", vecio.WriteVector(w, res.Params))
}
