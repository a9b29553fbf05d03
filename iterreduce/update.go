// Package iterreduce implements synchronous parameter
// averaging across data-parallel workers.
//
// Training proceeds in rounds. In each round, every
// worker computes a local update from its own partition,
// a Master averages the updates, and the average is
// broadcast back to every worker, replacing their local
// parameters.
package iterreduce

import (
	"context"
	"time"
)

// An Update is a worker's full flattened parameter vector
// for one round.
//
// Weight is the number of examples the worker trained on.
// It only matters for weighted averaging.
type Update struct {
	Params []float64
	Weight float64
}

// Copy creates a deep copy of the update.
func (u *Update) Copy() *Update {
	return &Update{
		Params: append([]float64{}, u.Params...),
		Weight: u.Weight,
	}
}

// A Worker trains a local copy of a model on a fixed
// partition of data.
type Worker interface {
	// ComputeLocalUpdate runs one round of local training
	// and returns the resulting parameters.
	//
	// The returned Update belongs to the caller, which may
	// modify it in place.
	ComputeLocalUpdate(ctx context.Context) (*Update, error)

	// ApplyBroadcast replaces the local parameters with
	// those of an aggregate.
	//
	// The Update is not retained.
	ApplyBroadcast(u *Update) error

	// Result returns the current local parameters.
	Result() *Update
}

// RoundState tracks a single round as it moves through a
// Transport.
type RoundState struct {
	// Round is the number of rounds completed before this
	// one.
	Round int

	// ID is unique to this round attempt.
	ID string

	// RunID is unique to the Coordinator run.
	RunID string

	// Updates is filled in by Transport.Await, with one
	// entry per worker.
	Updates []*Update
}

// A RoundEntry summarizes a finished or aborted round.
type RoundEntry struct {
	RunID   string
	RoundID string
	Round   int
	Workers int

	// Weight is the aggregate's weight, or 0 if the round
	// was aborted.
	Weight  float64
	Elapsed time.Duration

	// Err is empty for completed rounds.
	Err string
}

// A Journal keeps a history of rounds.
type Journal interface {
	RecordRound(ctx context.Context, e *RoundEntry) error
}
