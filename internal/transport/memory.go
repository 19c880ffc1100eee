package transport

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/senutpal/synod/internal/paxos"
)

// Network is an in-process message hub. Nodes register a Handler and send
// through their Endpoint. Links can be cut, nodes isolated, and messages
// dropped or delayed to exercise the protocol under failure.
type Network struct {
	mu       sync.Mutex
	handlers map[paxos.NodeID]Handler
	isolated map[paxos.NodeID]bool
	cut      map[[2]paxos.NodeID]bool
	loss     float64
	delay    time.Duration
	rnd      *rand.Rand
}

func NewNetwork() *Network {
	return &Network{
		handlers: make(map[paxos.NodeID]Handler),
		isolated: make(map[paxos.NodeID]bool),
		cut:      make(map[[2]paxos.NodeID]bool),
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Register attaches h as node id's inbound handler and returns the
// endpoint id sends through.
func (n *Network) Register(id paxos.NodeID, h Handler) *Endpoint {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[id] = h
	return &Endpoint{net: n, self: id}
}

// Endpoint returns the sending side of node id without registering a
// handler.
func (n *Network) Endpoint(id paxos.NodeID) *Endpoint {
	return &Endpoint{net: n, self: id}
}

func (n *Network) Unregister(id paxos.NodeID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.handlers, id)
}

// Isolate cuts node id off from every other node.
func (n *Network) Isolate(id paxos.NodeID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.isolated[id] = true
}

func (n *Network) Rejoin(id paxos.NodeID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.isolated, id)
}

// Partition cuts the link between a and b in both directions.
func (n *Network) Partition(a, b paxos.NodeID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cut[link(a, b)] = true
}

func (n *Network) Heal(a, b paxos.NodeID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.cut, link(a, b))
}

// HealAll restores every link and node and stops message loss.
func (n *Network) HealAll() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.isolated = make(map[paxos.NodeID]bool)
	n.cut = make(map[[2]paxos.NodeID]bool)
	n.loss = 0
}

// SetMessageLoss drops each request, and each reply, with probability p.
func (n *Network) SetMessageLoss(p float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.loss = p
}

// SetDelay delays every delivery by d.
func (n *Network) SetDelay(d time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.delay = d
}

func link(a, b paxos.NodeID) [2]paxos.NodeID {
	if a > b {
		a, b = b, a
	}
	return [2]paxos.NodeID{a, b}
}

func (n *Network) lost() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.loss > 0 && n.rnd.Float64() < n.loss
}

func (n *Network) route(from, to paxos.NodeID) (Handler, time.Duration, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	h, ok := n.handlers[to]
	if !ok {
		return nil, 0, fmt.Errorf("%w: node %d not registered", ErrUnreachable, to)
	}
	if n.isolated[from] || n.isolated[to] || n.cut[link(from, to)] {
		return nil, 0, fmt.Errorf("%w: %d -> %d partitioned", ErrUnreachable, from, to)
	}
	return h, n.delay, nil
}

func (n *Network) send(ctx context.Context, from, to paxos.NodeID, m *paxos.Message) (*paxos.Reply, error) {
	h, delay, err := n.route(from, to)
	if err != nil {
		return nil, err
	}
	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		}
	}
	if n.lost() {
		return nil, fmt.Errorf("%w: request %d -> %d lost", ErrTimeout, from, to)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	req := *m
	req.Value = append(paxos.Value(nil), m.Value...)
	r, err := h.Handle(ctx, &req)
	if err != nil {
		return nil, fmt.Errorf("%w: node %d did not acknowledge: %v", ErrNoReply, to, err)
	}
	if n.lost() {
		return nil, fmt.Errorf("%w: reply %d -> %d lost", ErrTimeout, to, from)
	}
	return r, nil
}

// Endpoint is one node's view of the Network.
type Endpoint struct {
	net  *Network
	self paxos.NodeID
}

func (e *Endpoint) Send(ctx context.Context, to paxos.NodeID, m *paxos.Message) (*paxos.Reply, error) {
	return e.net.send(ctx, e.self, to, m)
}
