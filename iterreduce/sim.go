package iterreduce

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/winstonquock/deeplearning4j/simulator"
)

// FlopTime is the amount of virtual time it takes to
// perform a single floating-point operation.
const FlopTime = 1e-9

// SimTransport runs workers as nodes on a simulated
// network.
//
// The master and every worker get their own Goroutine on
// an EventLoop. Parameter vectors take virtual time to
// cross the network in proportion to their size, and
// local training takes virtual time in proportion to
// the update's size and weight.
//
// Timeouts are measured in virtual time, so a Coordinator
// using a SimTransport should rely on the transport's
// timeout rather than RoundTimeout.
type SimTransport struct {
	timeout float64

	loop    *simulator.EventLoop
	network *simulator.OrderedNetwork
	workers []Worker

	masterPort  *simulator.Port
	workerPorts []*simulator.Port
	quit        []*simulator.EventStream

	ctx    context.Context
	cancel context.CancelFunc

	roundLock   sync.Mutex
	cancelRound context.CancelFunc

	calls     chan *simCall
	closing   chan struct{}
	closeOnce sync.Once
	done      chan struct{}
	runErr    error
}

type simCall struct {
	f    func(h *simulator.Handle) error
	done chan error
}

type simStart struct {
	RoundID string

	// Ctx ends when the round is aborted. Local
	// computation is real time, so only cancellation can
	// stop a worker that never finishes.
	Ctx context.Context
}

type simUpdate struct {
	RoundID string
	Worker  int
	Update  *Update
	Err     error
}

type simBroadcast struct {
	RoundID string
	Update  *Update
}

type simAck struct {
	RoundID string
	Worker  int
	Err     error
}

// NewSimTransport starts a simulation with one node per
// worker plus a master node.
//
// The timeout bounds, in virtual time, how long the
// master waits for replies in Await and Broadcast.
// A non-positive timeout waits forever.
//
// The caller must call Close when finished.
func NewSimTransport(network *simulator.OrderedNetwork, timeout float64,
	workers ...Worker) *SimTransport {
	loop := simulator.NewEventLoop()
	ctx, cancel := context.WithCancel(context.Background())
	s := &SimTransport{
		timeout:    timeout,
		loop:       loop,
		network:    network,
		workers:    workers,
		masterPort: simulator.NewNode("master").Port(loop),
		ctx:        ctx,
		cancel:     cancel,
		calls:      make(chan *simCall),
		closing:    make(chan struct{}),
		done:       make(chan struct{}),
	}
	for i := range workers {
		node := simulator.NewNode(fmt.Sprintf("worker %d", i))
		s.workerPorts = append(s.workerPorts, node.Port(loop))
		s.quit = append(s.quit, loop.Stream())
	}

	loop.Go(s.runMaster)
	for i := range workers {
		i := i
		loop.Go(func(h *simulator.Handle) {
			s.runWorker(h, i)
		})
	}
	go func() {
		s.runErr = loop.Run()
		close(s.done)
	}()
	return s
}

// NumWorkers returns the number of worker nodes.
func (s *SimTransport) NumWorkers() int {
	return len(s.workers)
}

// Time returns the current virtual time.
func (s *SimTransport) Time() float64 {
	return s.loop.Time()
}

// SetDown takes a worker's node off the network, or
// brings it back.
//
// Messages to and from a downed worker are dropped,
// including those already in flight.
func (s *SimTransport) SetDown(ctx context.Context, worker int, down bool) error {
	return s.do(ctx, func(h *simulator.Handle) error {
		s.network.SetDown(h, s.workerPorts[worker].Node, down)
		return nil
	})
}

// Stats returns the traffic counters of a worker's node.
func (s *SimTransport) Stats(ctx context.Context, worker int) (simulator.NodeStats, error) {
	var res simulator.NodeStats
	err := s.do(ctx, func(h *simulator.Handle) error {
		res = s.network.Stats(h.Time(), s.workerPorts[worker].Node)
		return nil
	})
	return res, err
}

// Dispatch sends a start message to every worker.
//
// Any earlier round's computation is canceled.
func (s *SimTransport) Dispatch(ctx context.Context, r *RoundState) error {
	roundCtx := s.startRound()
	return s.do(ctx, func(h *simulator.Handle) error {
		msgs := make([]*simulator.Message, len(s.workerPorts))
		for i, port := range s.workerPorts {
			msgs[i] = &simulator.Message{
				Source:  s.masterPort,
				Dest:    port,
				Message: &simStart{RoundID: r.ID, Ctx: roundCtx},
				Size:    float64(len(r.ID)),
			}
		}
		s.network.Send(h, msgs...)
		return nil
	})
}

// Await receives one update from every worker.
//
// Replies from earlier rounds are ignored. If ctx ends
// first, the round's local computations are canceled.
func (s *SimTransport) Await(ctx context.Context, r *RoundState) error {
	return s.do(ctx, func(h *simulator.Handle) error {
		updates := make([]*Update, len(s.workers))
		err := s.collect(h, len(s.workers), func(msg any) (int, bool, error) {
			body, ok := msg.(*simUpdate)
			if !ok || body.RoundID != r.ID || updates[body.Worker] != nil {
				return 0, false, nil
			}
			if body.Err != nil {
				return 0, false, errors.Wrapf(body.Err, "worker %d", body.Worker)
			}
			updates[body.Worker] = body.Update
			return body.Worker, true, nil
		})
		if err != nil {
			return err
		}
		r.Updates = updates
		return nil
	})
}

// Broadcast sends the aggregate to every worker and waits
// for each to acknowledge it.
func (s *SimTransport) Broadcast(ctx context.Context, r *RoundState, u *Update) error {
	return s.do(ctx, func(h *simulator.Handle) error {
		msgs := make([]*simulator.Message, len(s.workerPorts))
		for i, port := range s.workerPorts {
			msgs[i] = &simulator.Message{
				Source:  s.masterPort,
				Dest:    port,
				Message: &simBroadcast{RoundID: r.ID, Update: u},
				Size:    float64(len(u.Params) * 8),
			}
		}
		s.network.Send(h, msgs...)

		acked := make([]bool, len(s.workers))
		return s.collect(h, len(s.workers), func(msg any) (int, bool, error) {
			body, ok := msg.(*simAck)
			if !ok || body.RoundID != r.ID || acked[body.Worker] {
				return 0, false, nil
			}
			if body.Err != nil {
				return 0, false, errors.Wrapf(body.Err, "worker %d", body.Worker)
			}
			acked[body.Worker] = true
			return body.Worker, true, nil
		})
	})
}

// Close stops the simulation.
//
// It returns an error if the simulation deadlocked.
func (s *SimTransport) Close() error {
	s.closeOnce.Do(func() {
		s.abortRound()
		s.cancel()
		close(s.closing)
	})
	<-s.done
	return s.runErr
}

// collect receives messages on the master port until
// accept has reported n distinct workers, or the virtual
// round deadline passes.
func (s *SimTransport) collect(h *simulator.Handle, n int,
	accept func(msg any) (worker int, ok bool, err error)) error {
	received := make([]bool, n)
	var numReceived int
	deadline := h.Time() + s.timeout
	for numReceived < n {
		var msg *simulator.Message
		if s.timeout > 0 {
			msg = s.masterPort.RecvUntil(h, deadline)
			if msg == nil {
				return errors.Wrap(ErrWorkerTimeout, s.describeMissing(h, received))
			}
		} else {
			msg = s.masterPort.Recv(h)
		}
		worker, ok, err := accept(msg.Message)
		if err != nil {
			return err
		}
		if ok {
			received[worker] = true
			numReceived++
		}
	}
	return nil
}

func (s *SimTransport) describeMissing(h *simulator.Handle, received []bool) string {
	var parts []string
	for i, ok := range received {
		if ok {
			continue
		}
		node := s.workerPorts[i].Node
		stats := s.network.Stats(h.Time(), node)
		desc := fmt.Sprintf("%s (%d dropped", node.Name, stats.Dropped)
		if s.network.IsDown(node) {
			desc += ", down"
		}
		parts = append(parts, desc+")")
	}
	return "no reply from " + strings.Join(parts, ", ")
}

func (s *SimTransport) startRound() context.Context {
	s.roundLock.Lock()
	defer s.roundLock.Unlock()
	if s.cancelRound != nil {
		s.cancelRound()
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.cancelRound = cancel
	return ctx
}

func (s *SimTransport) abortRound() {
	s.roundLock.Lock()
	defer s.roundLock.Unlock()
	if s.cancelRound != nil {
		s.cancelRound()
	}
}

// do runs f on the master's Goroutine.
func (s *SimTransport) do(ctx context.Context, f func(h *simulator.Handle) error) error {
	call := &simCall{f: f, done: make(chan error, 1)}
	select {
	case s.calls <- call:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.closing:
		return ErrTransportClosed
	case <-s.done:
		return s.loopErr()
	}
	select {
	case err := <-call.done:
		return err
	case <-ctx.Done():
		// The master finishes f in the background. Stale
		// replies are told apart by round ID.
		s.abortRound()
		return ctx.Err()
	case <-s.done:
		return s.loopErr()
	}
}

func (s *SimTransport) loopErr() error {
	if s.runErr != nil {
		return errors.Wrap(s.runErr, "simulation")
	}
	return ErrTransportClosed
}

func (s *SimTransport) runMaster(h *simulator.Handle) {
	defer func() {
		for _, q := range s.quit {
			h.Schedule(q, nil, 0)
		}
	}()
	for {
		select {
		case call := <-s.calls:
			call.done <- call.f(h)
		case <-s.closing:
			return
		}
	}
}

func (s *SimTransport) runWorker(h *simulator.Handle, idx int) {
	port := s.workerPorts[idx]
	worker := s.workers[idx]
	for {
		event := h.Poll(s.quit[idx], port.Incoming)
		if event.Stream == s.quit[idx] {
			return
		}
		msg := event.Message.(*simulator.Message)
		switch body := msg.Message.(type) {
		case *simStart:
			u, err := worker.ComputeLocalUpdate(body.Ctx)
			size := 8.0
			if err == nil {
				h.Sleep(FlopTime * float64(len(u.Params)) * max(1, u.Weight))
				size = float64(len(u.Params) * 8)
			}
			s.network.Send(h, &simulator.Message{
				Source:  port,
				Dest:    s.masterPort,
				Message: &simUpdate{RoundID: body.RoundID, Worker: idx, Update: u, Err: err},
				Size:    size,
			})
		case *simBroadcast:
			err := worker.ApplyBroadcast(body.Update)
			s.network.Send(h, &simulator.Message{
				Source:  port,
				Dest:    s.masterPort,
				Message: &simAck{RoundID: body.RoundID, Worker: idx, Err: err},
				Size:    8,
			})
		}
	}
}
