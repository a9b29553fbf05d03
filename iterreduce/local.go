package iterreduce

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// LocalTransport runs in-process workers, each in its own
// Goroutine for the duration of a round.
type LocalTransport struct {
	Workers []Worker

	lock    sync.Mutex
	pending *localRound
}

type localRound struct {
	id      string
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
	updates []*Update
}

// NewLocalTransport creates a transport for the workers.
func NewLocalTransport(workers ...Worker) *LocalTransport {
	return &LocalTransport{Workers: workers}
}

// NumWorkers returns len(l.Workers).
func (l *LocalTransport) NumWorkers() int {
	return len(l.Workers)
}

// Dispatch starts every worker's local computation.
//
// If a previous round is still running, it is canceled
// and waited for first, so a worker never runs two rounds
// at once.
func (l *LocalTransport) Dispatch(ctx context.Context, r *RoundState) error {
	l.lock.Lock()
	defer l.lock.Unlock()

	if l.pending != nil {
		l.pending.cancel()
		<-l.pending.done
		l.pending = nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	roundCtx, cancel := context.WithCancel(context.Background())
	round := &localRound{
		id:      r.ID,
		cancel:  cancel,
		done:    make(chan struct{}),
		updates: make([]*Update, len(l.Workers)),
	}
	g, groupCtx := errgroup.WithContext(roundCtx)
	for i, w := range l.Workers {
		i, w := i, w
		g.Go(func() error {
			u, err := w.ComputeLocalUpdate(groupCtx)
			if err != nil {
				return errors.Wrapf(err, "worker %d", i)
			}
			round.updates[i] = u
			return nil
		})
	}
	go func() {
		round.err = g.Wait()
		close(round.done)
	}()
	l.pending = round
	return nil
}

// Await waits for the round started by Dispatch.
func (l *LocalTransport) Await(ctx context.Context, r *RoundState) error {
	l.lock.Lock()
	round := l.pending
	l.lock.Unlock()
	if round == nil || round.id != r.ID {
		return errors.Errorf("round %s was not dispatched", r.ID)
	}

	select {
	case <-round.done:
	case <-ctx.Done():
		round.cancel()
		return ctx.Err()
	}

	l.lock.Lock()
	if l.pending == round {
		l.pending = nil
	}
	l.lock.Unlock()
	round.cancel()

	if round.err != nil {
		return round.err
	}
	r.Updates = round.updates
	return nil
}

// Broadcast applies the aggregate to each worker in turn.
// It does not stop when ctx ends, since every worker must
// leave a round with the same parameters.
func (l *LocalTransport) Broadcast(ctx context.Context, r *RoundState, u *Update) error {
	for i, w := range l.Workers {
		if err := w.ApplyBroadcast(u); err != nil {
			return errors.Wrapf(err, "worker %d", i)
		}
	}
	return nil
}
