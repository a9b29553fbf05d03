package iterreduce

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/winstonquock/deeplearning4j/simulator"
	"github.com/winstonquock/deeplearning4j/vecio"
)

// driftWorker adds a fixed offset to its parameters every
// round, so the average of a group of them moves by the
// mean offset per round.
type driftWorker struct {
	lock    sync.Mutex
	params  []float64
	offset  float64
	applied int

	// If set, ComputeLocalUpdate blocks until its context
	// ends in the given round.
	hangRound int
	rounds    int

	err error

	// onApply runs inside ApplyBroadcast. A non-nil
	// applyErr rejects the broadcast.
	onApply  func()
	applyErr error
}

func (d *driftWorker) ComputeLocalUpdate(ctx context.Context) (*Update, error) {
	d.lock.Lock()
	d.rounds++
	round := d.rounds
	d.lock.Unlock()

	if d.hangRound == round {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if d.err != nil {
		return nil, d.err
	}

	d.lock.Lock()
	defer d.lock.Unlock()
	u := &Update{Params: make([]float64, len(d.params)), Weight: 1}
	for i, x := range d.params {
		u.Params[i] = x + d.offset
	}
	return u, nil
}

func (d *driftWorker) ApplyBroadcast(u *Update) error {
	if d.onApply != nil {
		d.onApply()
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.applyErr != nil {
		return d.applyErr
	}
	if len(u.Params) != len(d.params) {
		return &ConfigurationError{Want: len(d.params), Got: len(u.Params)}
	}
	copy(d.params, u.Params)
	d.applied++
	return nil
}

func (d *driftWorker) Result() *Update {
	d.lock.Lock()
	defer d.lock.Unlock()
	return &Update{Params: append([]float64{}, d.params...), Weight: 1}
}

func TestCoordinatorRun(t *testing.T) {
	w1 := &driftWorker{params: []float64{0, 10}, offset: 1}
	w2 := &driftWorker{params: []float64{0, 10}, offset: 3}

	var states []State
	c := &Coordinator{
		Transport: NewLocalTransport(w1, w2),
		Master:    &AveragingMaster{},
		Rounds:    2,
		OnState: func(s State) {
			states = append(states, s)
		},
	}
	var buf bytes.Buffer
	require.NoError(t, c.Run(context.Background(), &buf))

	assert.Equal(t, 2, c.Round())
	assert.Equal(t, Terminated, c.State())
	assert.Equal(t, []State{
		Dispatching, AwaitingUpdates, Aggregating, Broadcasting,
		Dispatching, AwaitingUpdates, Aggregating, Broadcasting,
		Terminated,
	}, states)

	for _, w := range []*driftWorker{w1, w2} {
		assert.Equal(t, 2, w.applied)
		assert.InDeltaSlice(t, []float64{4, 14}, w.Result().Params, 1e-12)
	}
	vec, err := vecio.ReadVector(&buf)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{4, 14}, vec, 1e-12)
}

func TestCoordinatorTimeout(t *testing.T) {
	w1 := &driftWorker{params: []float64{0}, offset: 1}
	w2 := &driftWorker{params: []float64{0}, offset: 1, hangRound: 2}
	c := &Coordinator{
		Transport:    NewLocalTransport(w1, w2),
		Master:       &AveragingMaster{},
		Rounds:       3,
		RoundTimeout: 50 * time.Millisecond,
	}
	err := c.Run(context.Background(), &bytes.Buffer{})
	assert.ErrorIs(t, err, ErrWorkerTimeout)
	assert.Equal(t, 1, c.Round())
	assert.Equal(t, Idle, c.State())
	assert.Equal(t, 1, w1.applied)

	// The hung round is discarded, and the next attempt
	// picks up from the last completed round.
	var buf bytes.Buffer
	require.NoError(t, c.Run(context.Background(), &buf))
	assert.Equal(t, 3, c.Round())
	vec, err := vecio.ReadVector(&buf)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{3}, vec, 1e-12)
}

func TestCoordinatorCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w1 := &driftWorker{params: []float64{0}, hangRound: 1}
	c := &Coordinator{
		Transport: NewLocalTransport(w1),
		Master:    &AveragingMaster{},
		Rounds:    1,
		OnState: func(s State) {
			if s == AwaitingUpdates {
				cancel()
			}
		},
	}
	err := c.Run(ctx, &bytes.Buffer{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrWorkerTimeout)
	assert.Equal(t, 0, c.Round())
}

func TestCoordinatorWorkerError(t *testing.T) {
	boom := errors.New("boom")
	c := &Coordinator{
		Transport: NewLocalTransport(
			&driftWorker{params: []float64{0}},
			&driftWorker{params: []float64{0}, err: boom},
		),
		Master: &AveragingMaster{},
		Rounds: 1,
	}
	err := c.Run(context.Background(), &bytes.Buffer{})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Round())
}

func TestCoordinatorLengthMismatch(t *testing.T) {
	c := &Coordinator{
		Transport: NewLocalTransport(
			&driftWorker{params: []float64{0, 1}},
			&driftWorker{params: []float64{0}},
		),
		Master: &AveragingMaster{},
		Rounds: 1,
	}
	err := c.Run(context.Background(), &bytes.Buffer{})
	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, 0, cfgErr.Round)
	assert.Equal(t, 0, c.Round())
}

func TestSimTransport(t *testing.T) {
	w1 := &driftWorker{params: []float64{0, 0, 0}, offset: 1}
	w2 := &driftWorker{params: []float64{0, 0, 0}, offset: 3}
	network := simulator.NewOrderedNetwork(1e3, 0.01, 1)
	transport := NewSimTransport(network, 5, w1, w2)

	ctx := context.Background()
	c := &Coordinator{
		Transport: transport,
		Master:    &AveragingMaster{},
		Rounds:    1,
	}
	require.NoError(t, c.Run(ctx, &bytes.Buffer{}))
	assert.Equal(t, 1, c.Round())
	assert.Greater(t, transport.Time(), 0.0)
	assert.Less(t, transport.Time(), 5.0)

	require.NoError(t, transport.SetDown(ctx, 1, true))
	c.Rounds = 2
	before := transport.Time()
	err := c.Run(ctx, &bytes.Buffer{})
	assert.ErrorIs(t, err, ErrWorkerTimeout)
	assert.Contains(t, err.Error(), "worker 1 (1 dropped, down)")
	assert.Equal(t, 1, c.Round())
	assert.InDelta(t, 5.0, transport.Time()-before, 0.1)

	stats, err := transport.Stats(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failures)
	assert.Equal(t, 1, stats.Dropped)

	require.NoError(t, transport.SetDown(ctx, 1, false))
	var buf bytes.Buffer
	require.NoError(t, c.Run(ctx, &buf))
	assert.Equal(t, 2, c.Round())

	vec, err := vecio.ReadVector(&buf)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{4, 4, 4}, vec, 1e-12)

	require.NoError(t, transport.Close())
	assert.ErrorIs(t, transport.SetDown(ctx, 0, true), ErrTransportClosed)
}

func TestSimTransportCancel(t *testing.T) {
	w1 := &driftWorker{params: []float64{0}, offset: 1}
	w2 := &driftWorker{params: []float64{0}, offset: 3, hangRound: 1}
	transport := NewSimTransport(simulator.NewOrderedNetwork(1e3, 0.01, 1), 0, w1, w2)
	defer transport.Close()

	c := &Coordinator{
		Transport: transport,
		Master:    &AveragingMaster{},
		Rounds:    1,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx, &bytes.Buffer{})
	}()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(5 * time.Second):
		t.Fatalf("Run still blocked after its context ended (state %s)", c.State())
	}
	assert.Equal(t, 0, c.Round())
	assert.Equal(t, Idle, c.State())

	// The canceled round's late reply must not leak into
	// the next round.
	var buf bytes.Buffer
	require.NoError(t, c.Run(context.Background(), &buf))
	vec, err := vecio.ReadVector(&buf)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{2}, vec, 1e-12)
}

func TestCoordinatorCancelDuringBroadcast(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w1 := &driftWorker{params: []float64{0}, offset: 1, onApply: cancel}
	w2 := &driftWorker{params: []float64{0}, offset: 3}
	c := &Coordinator{
		Transport: NewLocalTransport(w1, w2),
		Master:    &AveragingMaster{},
		Rounds:    2,
	}
	err := c.Run(ctx, &bytes.Buffer{})
	assert.ErrorIs(t, err, context.Canceled)

	// The aggregate reached every worker, so the round
	// counts and the workers agree.
	assert.Equal(t, 1, c.Round())
	assert.Equal(t, []float64{2}, w1.Result().Params)
	assert.Equal(t, []float64{2}, w2.Result().Params)

	w1.onApply = nil
	var buf bytes.Buffer
	require.NoError(t, c.Run(context.Background(), &buf))
	vec, err := vecio.ReadVector(&buf)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{4}, vec, 1e-12)
}

func TestCoordinatorBroadcastFailure(t *testing.T) {
	rejected := errors.New("read-only parameters")
	w2 := &driftWorker{params: []float64{0}, offset: 3, applyErr: rejected}
	c := &Coordinator{
		Transport: NewLocalTransport(&driftWorker{params: []float64{0}, offset: 1}, w2),
		Master:    &AveragingMaster{},
		Rounds:    2,
	}
	err := c.Run(context.Background(), &bytes.Buffer{})
	assert.ErrorIs(t, err, rejected)
	assert.Equal(t, 0, c.Round())

	// Workers no longer share a starting point, so the
	// run cannot be resumed.
	w2.applyErr = nil
	err = c.Run(context.Background(), &bytes.Buffer{})
	assert.ErrorIs(t, err, ErrWorkersDiverged)
	assert.Equal(t, 0, c.Round())
}
