package iterreduce

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/winstonquock/deeplearning4j/logging"
	"github.com/winstonquock/deeplearning4j/metrics"
)

// State is the phase a Coordinator is in.
type State int

const (
	// Idle is the state before a Run and after a failed
	// round.
	Idle State = iota

	// Dispatching means workers are being told to start a
	// round.
	Dispatching

	// AwaitingUpdates means the Coordinator is waiting for
	// every worker's local update.
	AwaitingUpdates

	// Aggregating means the Master is combining the round's
	// updates.
	Aggregating

	// Broadcasting means the aggregate is being applied to
	// the workers.
	Broadcasting

	// Terminated means every round has completed and the
	// Master has been finalized.
	Terminated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Dispatching:
		return "dispatching"
	case AwaitingUpdates:
		return "awaiting_updates"
	case Aggregating:
		return "aggregating"
	case Broadcasting:
		return "broadcasting"
	case Terminated:
		return "terminated"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// A Transport moves work and parameters between a
// Coordinator and its workers.
type Transport interface {
	// NumWorkers returns the number of workers, each of
	// which must submit one update per round.
	NumWorkers() int

	// Dispatch tells every worker to start a round.
	Dispatch(ctx context.Context, r *RoundState) error

	// Await blocks until every worker has submitted an
	// update for the round and stores them in r.Updates.
	//
	// If the context ends first, the partial round is
	// discarded and the context's error is returned.
	Await(ctx context.Context, r *RoundState) error

	// Broadcast sends an aggregate to every worker and
	// waits for them to apply it.
	//
	// The Coordinator never cancels ctx during a broadcast,
	// so a Transport may only fail it for worker errors or
	// its own timeouts.
	Broadcast(ctx context.Context, r *RoundState, u *Update) error
}

// A Coordinator runs the round loop:
// dispatch, await, aggregate, broadcast.
//
// A Coordinator may be run again after a failed Run, in
// which case it resumes from the last completed round.
// The exception is a failed broadcast: some workers may
// already hold the aggregate, so every later Run returns
// ErrWorkersDiverged.
type Coordinator struct {
	Transport Transport
	Master    Master

	// Rounds is the total number of rounds to run.
	Rounds int

	// RoundTimeout bounds how long to wait for updates in
	// each round. Zero means no limit.
	RoundTimeout time.Duration

	// OnState, if set, is called on every state change.
	OnState func(s State)

	// Journal, if set, records every finished or aborted
	// round. Journal errors are logged and ignored.
	Journal Journal

	Log     logrus.FieldLogger
	Metrics *metrics.Metrics

	lock     sync.Mutex
	state    State
	round    int
	diverged error
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.state
}

// Round returns the number of completed rounds.
func (c *Coordinator) Round() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.round
}

// Run runs the remaining rounds and then finalizes the
// Master into w.
//
// If a round fails, its partial updates are dropped, the
// round count is unchanged, and the error is returned.
func (c *Coordinator) Run(ctx context.Context, w io.Writer) error {
	runID := uuid.NewString()
	log := logging.OrDiscard(c.Log).WithField("run", runID)

	c.lock.Lock()
	diverged := c.diverged
	c.lock.Unlock()
	if diverged != nil {
		return errors.Wrapf(ErrWorkersDiverged, "after round %d: %v", c.Round(), diverged)
	}
	log.WithField("rounds", c.Rounds).Info("starting run")

	for c.Round() < c.Rounds {
		state := &RoundState{
			Round: c.Round(),
			ID:    uuid.NewString(),
			RunID: runID,
		}
		start := time.Now()
		agg, err := c.runRound(ctx, log.WithField("round", state.Round), state)
		c.journal(ctx, log, state, agg, time.Since(start), err)
		if err != nil {
			c.setState(Idle)
			log.WithError(err).WithField("round", c.Round()).Error("round aborted")
			return err
		}
	}

	c.setState(Terminated)
	if err := c.Master.Finalize(w); err != nil {
		return errors.Wrap(err, "finalize")
	}
	log.Info("run finished")
	return nil
}

func (c *Coordinator) runRound(ctx context.Context, log logrus.FieldLogger,
	state *RoundState) (*Update, error) {
	start := time.Now()

	c.setState(Dispatching)
	if err := c.Transport.Dispatch(ctx, state); err != nil {
		c.Metrics.RoundFailed("dispatch")
		return nil, errors.Wrap(err, "dispatch")
	}

	c.setState(AwaitingUpdates)
	if err := c.await(ctx, state); err != nil {
		return nil, err
	}

	c.setState(Aggregating)
	agg, err := c.Master.Aggregate(state.Updates)
	if err != nil {
		var cfgErr *ConfigurationError
		if errors.As(err, &cfgErr) {
			cfgErr.Round = state.Round
		}
		c.Metrics.RoundFailed("aggregate")
		return nil, errors.Wrap(err, "aggregate")
	}

	// Stopping partway would leave the workers on different
	// parameters, so cancellation waits for the next round.
	c.setState(Broadcasting)
	if err := c.Transport.Broadcast(context.WithoutCancel(ctx), state, agg); err != nil {
		var cfgErr *ConfigurationError
		if errors.As(err, &cfgErr) {
			cfgErr.Round = state.Round
		}
		c.lock.Lock()
		c.diverged = err
		c.lock.Unlock()
		c.Metrics.RoundFailed("broadcast")
		return nil, errors.Wrap(err, "broadcast")
	}

	c.lock.Lock()
	c.round++
	round := c.round
	c.lock.Unlock()

	elapsed := time.Since(start)
	c.Metrics.RoundCompleted(round, elapsed)
	log.WithFields(logrus.Fields{
		"weight":  agg.Weight,
		"elapsed": elapsed,
	}).Info("round complete")
	return agg, nil
}

func (c *Coordinator) journal(ctx context.Context, log logrus.FieldLogger, state *RoundState,
	agg *Update, elapsed time.Duration, err error) {
	if c.Journal == nil {
		return
	}
	entry := &RoundEntry{
		RunID:   state.RunID,
		RoundID: state.ID,
		Round:   state.Round,
		Workers: c.Transport.NumWorkers(),
		Elapsed: elapsed,
	}
	if agg != nil {
		entry.Weight = agg.Weight
	}
	if err != nil {
		entry.Err = err.Error()
	}
	// Record aborted rounds even if ctx is done.
	if jErr := c.Journal.RecordRound(context.WithoutCancel(ctx), entry); jErr != nil {
		log.WithError(jErr).Warn("could not journal round")
	}
}

func (c *Coordinator) await(ctx context.Context, state *RoundState) error {
	awaitCtx := ctx
	if c.RoundTimeout > 0 {
		var cancel context.CancelFunc
		awaitCtx, cancel = context.WithTimeout(ctx, c.RoundTimeout)
		defer cancel()
	}
	err := c.Transport.Await(awaitCtx, state)
	if err == nil {
		n := c.Transport.NumWorkers()
		if len(state.Updates) != n {
			err = errors.Errorf("got %d updates for %d workers", len(state.Updates), n)
		} else {
			for i, u := range state.Updates {
				if u == nil {
					err = errors.Errorf("worker %d: missing update", i)
					break
				}
			}
		}
	}
	if err == nil {
		return nil
	}

	state.Updates = nil
	if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		err = ErrWorkerTimeout
	}
	if errors.Is(err, ErrWorkerTimeout) {
		c.Metrics.RoundFailed("timeout")
	} else {
		c.Metrics.RoundFailed("await")
	}
	return errors.Wrap(err, "await")
}

func (c *Coordinator) setState(s State) {
	c.lock.Lock()
	changed := c.state != s
	c.state = s
	c.lock.Unlock()
	if changed && c.OnState != nil {
		c.OnState(s)
	}
}
