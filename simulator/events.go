// Package simulator runs simulated machines against a
// shared virtual clock.
//
// Each machine is a Goroutine holding a Handle. The clock
// only moves while every machine is blocked waiting for an
// event, so real computation is free in virtual time and
// runs are reproducible: timers with equal deadlines fire
// in the order they were scheduled, and an event goes to
// the earliest-started machine waiting on its stream.
package simulator

import (
	"container/heap"
	"fmt"
	"math"
	"sync"

	"github.com/pkg/errors"
	"github.com/unixpickle/essentials"
)

// ErrDeadlock is returned by EventLoop.Run when every
// machine is waiting and no timer is left to wake them.
var ErrDeadlock = errors.New("simulator: deadlock")

// An EventStream is a queue of events for one EventLoop.
type EventStream struct {
	loop    *EventLoop
	pending []any
}

// An Event is a message received on some EventStream.
type Event struct {
	Message any
	Stream  *EventStream
}

// A Timer is a pending delivery of an Event.
type Timer struct {
	time  float64
	seq   uint64
	index int
	event *Event
}

// Time gets the virtual time when the timer fires.
func (t *Timer) Time() float64 {
	return t.time
}

// timerQueue orders timers by deadline, then by the order
// they were scheduled in.
type timerQueue []*Timer

func (q timerQueue) Len() int { return len(q) }

func (q timerQueue) Less(i, j int) bool {
	if q[i].time != q[j].time {
		return q[i].time < q[j].time
	}
	return q[i].seq < q[j].seq
}

func (q timerQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *timerQueue) Push(x any) {
	t := x.(*Timer)
	t.index = len(*q)
	*q = append(*q, t)
}

func (q *timerQueue) Pop() any {
	old := *q
	t := old[len(old)-1]
	old[len(old)-1] = nil
	*q = old[:len(old)-1]
	t.index = -1
	return t
}

// A Handle is one machine's connection to an EventLoop.
// A Handle must not be shared between Goroutines.
type Handle struct {
	*EventLoop

	// Non-nil only while blocked in Poll.
	waiting []*EventStream
	wake    chan *Event
}

// Poll blocks until an event arrives on one of the
// streams. Queued events are taken in stream order.
func (h *Handle) Poll(streams ...*EventStream) *Event {
	wake := make(chan *Event, 1)
	h.modifyHandles(func() {
		if h.waiting != nil {
			panic("simulator: Handle used from two Goroutines")
		}
		for _, s := range streams {
			if len(s.pending) > 0 {
				msg := s.pending[0]
				essentials.OrderedDelete(&s.pending, 0)
				wake <- &Event{Message: msg, Stream: s}
				return
			}
		}
		h.waiting = streams
		h.wake = wake
	})
	return <-wake
}

// PollUntil is like Poll, but returns nil once the clock
// reaches deadline without an event.
//
// A deadline that has already passed only returns events
// that are queued.
func (h *Handle) PollUntil(deadline float64, streams ...*EventStream) *Event {
	expired := h.Stream()
	timer := h.Schedule(expired, nil, math.Max(0, deadline-h.Time()))
	defer h.Cancel(timer)

	// expired goes last so queued events win a tie.
	event := h.Poll(append(append([]*EventStream{}, streams...), expired)...)
	if event.Stream == expired {
		return nil
	}
	return event
}

// Schedule delivers msg to stream after delay units of
// virtual time.
func (h *Handle) Schedule(stream *EventStream, msg any, delay float64) *Timer {
	if stream.loop != h.EventLoop {
		panic("simulator: EventStream belongs to another EventLoop")
	}
	if delay < 0 || math.IsInf(delay, 0) || math.IsNaN(delay) {
		panic(fmt.Sprintf("simulator: invalid delay %f", delay))
	}
	var t *Timer
	h.modify(func() {
		h.seq++
		t = &Timer{
			time:  h.time + delay,
			seq:   h.seq,
			event: &Event{Message: msg, Stream: stream},
		}
		heap.Push(&h.timers, t)
	})
	return t
}

// Cancel stops a timer that has not fired yet.
func (h *Handle) Cancel(t *Timer) {
	h.modify(func() {
		if t.index >= 0 && t.index < len(h.timers) && h.timers[t.index] == t {
			heap.Remove(&h.timers, t.index)
		}
	})
}

// Sleep waits for delay units of virtual time.
func (h *Handle) Sleep(delay float64) {
	s := h.Stream()
	h.Schedule(s, nil, delay)
	h.Poll(s)
}

// An EventLoop owns the virtual clock for a set of
// machines. Every Goroutine that touches the loop must be
// started with Go.
type EventLoop struct {
	lock    sync.Mutex
	timers  timerQueue
	seq     uint64
	handles []*Handle
	time    float64

	running bool
	wakeup  chan struct{}
}

// NewEventLoop creates an event loop with its clock at 0.
func NewEventLoop() *EventLoop {
	return &EventLoop{wakeup: make(chan struct{}, 1)}
}

// Stream creates a new EventStream.
func (e *EventLoop) Stream() *EventStream {
	return &EventStream{loop: e}
}

// Go runs f in a Goroutine with a fresh Handle.
func (e *EventLoop) Go(f func(h *Handle)) {
	h := &Handle{EventLoop: e}
	e.lock.Lock()
	e.handles = append(e.handles, h)
	e.lock.Unlock()
	go func() {
		defer e.modifyHandles(func() {
			for i, other := range e.handles {
				if other == h {
					essentials.OrderedDelete(&e.handles, i)
					return
				}
			}
		})
		f(h)
	}()
}

// Run advances the clock until every Goroutine started
// with Go has returned, or returns ErrDeadlock.
func (e *EventLoop) Run() error {
	e.lock.Lock()
	if e.running {
		e.lock.Unlock()
		panic("simulator: EventLoop is already running")
	}
	e.running = true
	e.lock.Unlock()

	defer func() {
		e.lock.Lock()
		e.running = false
		e.lock.Unlock()
	}()

	for range e.wakeup {
		if done, err := e.advance(); done {
			return err
		}
	}
	panic("unreachable")
}

// Time gets the current virtual time.
func (e *EventLoop) Time() float64 {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.time
}

func (e *EventLoop) modify(f func()) {
	e.lock.Lock()
	defer e.lock.Unlock()
	f()
}

// modifyHandles is like modify, but also wakes up Run
// since a Handle may have started or stopped waiting.
func (e *EventLoop) modifyHandles(f func()) {
	e.lock.Lock()
	defer func() {
		e.lock.Unlock()
		select {
		case e.wakeup <- struct{}{}:
		default:
		}
	}()
	f()
}

// advance fires timers until one wakes a Handle. It
// reports done once no Handles remain, or on deadlock.
func (e *EventLoop) advance() (done bool, err error) {
	e.lock.Lock()
	defer e.lock.Unlock()

	if len(e.handles) == 0 {
		return true, nil
	}
	for _, h := range e.handles {
		if h.waiting == nil {
			return false, nil
		}
	}
	for e.timers.Len() > 0 {
		t := heap.Pop(&e.timers).(*Timer)
		e.time = math.Max(e.time, t.time)
		if e.deliver(t.event) {
			return false, nil
		}
	}
	return true, errors.Wrapf(ErrDeadlock, "%d machines waiting at time %f", len(e.handles), e.time)
}

func (e *EventLoop) deliver(event *Event) bool {
	for _, h := range e.handles {
		for _, s := range h.waiting {
			if s == event.Stream {
				h.wake <- event
				h.waiting = nil
				h.wake = nil
				return true
			}
		}
	}
	event.Stream.pending = append(event.Stream.pending, event.Message)
	return false
}
