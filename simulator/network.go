package simulator

import (
	"math/rand"
	"sync"
)

// A Node is a machine on a simulated network.
type Node struct {
	// Name is only used for diagnostics.
	Name string
}

// NewNode creates a new, unique Node.
func NewNode(name string) *Node {
	return &Node{Name: name}
}

// Port creates an endpoint on the Node.
func (n *Node) Port(loop *EventLoop) *Port {
	return &Port{Node: n, Incoming: loop.Stream()}
}

// A Port is an endpoint on a Node.
// Messages are sent from Ports and received on Ports.
type Port struct {
	Node *Node

	// Incoming carries *Message values.
	Incoming *EventStream
}

// Recv receives the next message.
func (p *Port) Recv(h *Handle) *Message {
	return h.Poll(p.Incoming).Message.(*Message)
}

// RecvUntil receives the next message, or returns nil if
// none arrives before the virtual deadline.
func (p *Port) RecvUntil(h *Handle, deadline float64) *Message {
	event := h.PollUntil(deadline, p.Incoming)
	if event == nil {
		return nil
	}
	return event.Message.(*Message)
}

// A Message is a chunk of data sent between Ports.
//
// Size is in bytes and sets how long the message spends
// on the wire.
type Message struct {
	Source  *Port
	Dest    *Port
	Message any
	Size    float64
}

// NodeStats counts what happened to a Node's traffic.
type NodeStats struct {
	Sent      int
	Delivered int

	// Dropped counts messages to or from the Node that
	// were lost because either end was down, including
	// messages cut off in flight.
	Dropped int

	// Failures counts how often the Node was taken down.
	Failures int
}

type flight struct {
	timer    *Timer
	src, dst *Node
}

// An OrderedNetwork delivers each Node's incoming messages
// in the order they were sent. A message takes Size/Rate
// plus a random latency below MaxRandomLatency, and waits
// behind earlier messages to the same Node.
//
// Nodes can be taken down, which drops their traffic.
type OrderedNetwork struct {
	Rate             float64
	MaxRandomLatency float64

	lock     sync.Mutex
	rng      *rand.Rand
	busy     map[*Node]float64
	down     map[*Node]bool
	inFlight []flight
	stats    map[*Node]*NodeStats
}

// NewOrderedNetwork creates an OrderedNetwork with the
// given rate (bytes per unit time) and latency bound.
//
// Latencies come from a source seeded with seed, so a
// simulation repeats exactly for a given seed.
func NewOrderedNetwork(rate, maxRandomLatency float64, seed int64) *OrderedNetwork {
	return &OrderedNetwork{
		Rate:             rate,
		MaxRandomLatency: maxRandomLatency,
		rng:              rand.New(rand.NewSource(seed)),
		busy:             map[*Node]float64{},
		down:             map[*Node]bool{},
		stats:            map[*Node]*NodeStats{},
	}
}

// Send schedules the messages for delivery.
// It does not block.
func (o *OrderedNetwork) Send(h *Handle, msgs ...*Message) {
	o.lock.Lock()
	defer o.lock.Unlock()

	now := h.Time()
	o.settle(now)
	for _, msg := range msgs {
		src, dst := msg.Source.Node, msg.Dest.Node
		o.statsFor(src).Sent++
		if o.down[src] || o.down[dst] {
			o.statsFor(src).Dropped++
			if dst != src {
				o.statsFor(dst).Dropped++
			}
			continue
		}
		arrival := now + o.rng.Float64()*o.MaxRandomLatency + msg.Size/o.Rate
		if t := o.busy[dst]; t > now {
			arrival += t - now
		}
		o.busy[dst] = arrival
		o.inFlight = append(o.inFlight, flight{
			timer: h.Schedule(msg.Dest.Incoming, msg, arrival-now),
			src:   src,
			dst:   dst,
		})
	}
}

// SetDown takes a Node down or brings it back up.
// Taking a Node down cancels its traffic in flight.
func (o *OrderedNetwork) SetDown(h *Handle, node *Node, down bool) {
	o.lock.Lock()
	defer o.lock.Unlock()

	if o.down[node] == down {
		return
	}
	o.down[node] = down
	if !down {
		return
	}
	o.statsFor(node).Failures++
	delete(o.busy, node)

	o.settle(h.Time())
	kept := o.inFlight[:0]
	for _, f := range o.inFlight {
		if f.src != node && f.dst != node {
			kept = append(kept, f)
			continue
		}
		h.Cancel(f.timer)
		o.statsFor(f.src).Dropped++
		if f.dst != f.src {
			o.statsFor(f.dst).Dropped++
		}
	}
	o.inFlight = kept
}

// IsDown checks if a Node is currently down.
func (o *OrderedNetwork) IsDown(node *Node) bool {
	o.lock.Lock()
	defer o.lock.Unlock()
	return o.down[node]
}

// Stats returns the traffic counters for a Node as of
// virtual time now.
func (o *OrderedNetwork) Stats(now float64, node *Node) NodeStats {
	o.lock.Lock()
	defer o.lock.Unlock()
	o.settle(now)
	return *o.statsFor(node)
}

// settle moves messages that have arrived by now out of
// the in-flight list.
func (o *OrderedNetwork) settle(now float64) {
	kept := o.inFlight[:0]
	for _, f := range o.inFlight {
		if f.timer.Time() > now {
			kept = append(kept, f)
		} else {
			o.statsFor(f.dst).Delivered++
		}
	}
	o.inFlight = kept
}

func (o *OrderedNetwork) statsFor(node *Node) *NodeStats {
	s, ok := o.stats[node]
	if !ok {
		s = &NodeStats{}
		o.stats[node] = s
	}
	return s
}
