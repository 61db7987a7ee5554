// Package virtual provides an in-process CAN bus.
//
// Every frame written by one node is delivered to all other attached nodes,
// as on a real broadcast bus. A Filter can drop, duplicate or rewrite frames
// in flight, which the tests use to model a lossy link.
package virtual

import (
	"sync"
	"time"

	"github.com/muurk/bamload/internal/bus"
)

// QueueSize is the receive queue depth of each node. Frames arriving at a
// full queue are dropped, as a controller would overrun.
const QueueSize = 256

// Filter decides what is delivered for a frame written by from. It returns
// the frames to deliver; nil drops the frame.
type Filter func(from *Node, f bus.Frame) []bus.Frame

// Bus is an in-memory broadcast bus.
type Bus struct {
	mu     sync.Mutex
	nodes  []*Node
	filter Filter
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{}
}

// SetFilter installs f for all subsequent writes. A nil filter delivers
// frames unchanged.
func (b *Bus) SetFilter(f Filter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.filter = f
}

// Attach adds a node to the bus. name is only used in diagnostics.
func (b *Bus) Attach(name string) *Node {
	n := &Node{
		name:  name,
		bus:   b,
		queue: make(chan bus.Frame, QueueSize),
		done:  make(chan struct{}),
	}
	b.mu.Lock()
	b.nodes = append(b.nodes, n)
	b.mu.Unlock()
	return n
}

func (b *Bus) detach(n *Node) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, other := range b.nodes {
		if other == n {
			b.nodes = append(b.nodes[:i], b.nodes[i+1:]...)
			return
		}
	}
}

func (b *Bus) broadcast(from *Node, f bus.Frame) {
	b.mu.Lock()
	filter := b.filter
	targets := make([]*Node, 0, len(b.nodes))
	for _, n := range b.nodes {
		if n != from {
			targets = append(targets, n)
		}
	}
	b.mu.Unlock()

	deliver := []bus.Frame{f}
	if filter != nil {
		deliver = filter(from, f)
	}
	for _, df := range deliver {
		for _, n := range targets {
			n.enqueue(df)
		}
	}
}

// Node is one station on the bus. It implements bus.Port.
type Node struct {
	name  string
	bus   *Bus
	queue chan bus.Frame

	closeOnce sync.Once
	done      chan struct{}
}

// Name returns the name given to Attach.
func (n *Node) Name() string {
	return n.name
}

// WriteFrame broadcasts f to every other node.
func (n *Node) WriteFrame(f bus.Frame) error {
	select {
	case <-n.done:
		return bus.ErrClosed
	default:
	}
	if err := f.Validate(); err != nil {
		return err
	}
	n.bus.broadcast(n, f)
	return nil
}

// ReadFrame returns the next frame delivered to this node.
func (n *Node) ReadFrame(timeout time.Duration) (bus.Frame, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case f := <-n.queue:
		return f, nil
	case <-n.done:
		return bus.Frame{}, bus.ErrClosed
	case <-timer.C:
		return bus.Frame{}, bus.ErrTimeout
	}
}

// Pending returns the number of queued frames.
func (n *Node) Pending() int {
	return len(n.queue)
}

// Close detaches the node. Blocked reads return bus.ErrClosed.
func (n *Node) Close() error {
	n.closeOnce.Do(func() {
		close(n.done)
		n.bus.detach(n)
	})
	return nil
}

func (n *Node) enqueue(f bus.Frame) {
	select {
	case <-n.done:
	case n.queue <- f:
	default:
	}
}
