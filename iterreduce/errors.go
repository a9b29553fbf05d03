package iterreduce

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrEmptyRound is returned when aggregating zero
	// updates.
	ErrEmptyRound = errors.New("iterreduce: no updates to aggregate")

	// ErrNoResultYet is returned when a result is requested
	// before any round has completed.
	ErrNoResultYet = errors.New("iterreduce: no round has completed")

	// ErrWorkerTimeout is returned when a worker does not
	// submit its update within the round timeout.
	ErrWorkerTimeout = errors.New("iterreduce: worker timed out")

	// ErrZeroWeight is returned by a weighted Master when
	// the updates carry no weight.
	ErrZeroWeight = errors.New("iterreduce: total update weight is zero")

	// ErrTransportClosed is returned when using a closed
	// Transport.
	ErrTransportClosed = errors.New("iterreduce: transport closed")

	// ErrWorkersDiverged is returned when resuming a run
	// whose last broadcast failed partway.
	ErrWorkersDiverged = errors.New("iterreduce: workers diverged after a failed broadcast")
)

// A ConfigurationError indicates that parameter vectors
// from different sources are not the same length, so they
// cannot be averaged.
type ConfigurationError struct {
	// Round is the number of rounds completed before the
	// one that failed.
	Round int

	Want int
	Got  int
}

func (c *ConfigurationError) Error() string {
	return fmt.Sprintf("iterreduce: round %d: parameter length %d does not match %d",
		c.Round, c.Got, c.Want)
}
