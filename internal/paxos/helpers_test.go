package paxos

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"
)

var (
	errDown = errors.New("node unreachable")
	errDisk = errors.New("disk full")
)

// memStore keeps the last saved state and can be told to fail.
type memStore struct {
	mu    sync.Mutex
	state AcceptorState
	fail  bool
	saves int
}

func (s *memStore) Load() (AcceptorState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone(), nil
}

func (s *memStore) Save(st AcceptorState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errDisk
	}
	s.state = st.Clone()
	s.saves++
	return nil
}

func (s *memStore) setFail(v bool) {
	s.mu.Lock()
	s.fail = v
	s.mu.Unlock()
}

// testNet routes messages straight to acceptors.
type testNet struct {
	mu    sync.Mutex
	nodes map[NodeID]*Acceptor
	down  map[NodeID]bool
	hung  map[NodeID]chan struct{}
	drop  float64
	rnd   *rand.Rand
}

func newTestNet() *testNet {
	return &testNet{
		nodes: make(map[NodeID]*Acceptor),
		down:  make(map[NodeID]bool),
		hung:  make(map[NodeID]chan struct{}),
		rnd:   rand.New(rand.NewSource(1)),
	}
}

func (n *testNet) setDown(id NodeID, down bool) {
	n.mu.Lock()
	n.down[id] = down
	n.mu.Unlock()
}

// hang makes every request to id block, whatever its context says, until
// the returned function is called.
func (n *testNet) hang(id NodeID) (release func()) {
	ch := make(chan struct{})
	n.mu.Lock()
	n.hung[id] = ch
	n.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.hung, id)
			n.mu.Unlock()
			close(ch)
		})
	}
}

func (n *testNet) Send(ctx context.Context, to NodeID, m *Message) (*Reply, error) {
	n.mu.Lock()
	a := n.nodes[to]
	lost := n.down[to] || (n.drop > 0 && n.rnd.Float64() < n.drop)
	stuck := n.hung[to]
	n.mu.Unlock()
	if stuck != nil {
		<-stuck
		return nil, errDown
	}
	if a == nil || lost {
		return nil, errDown
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return a.Handle(ctx, m)
}

type testCluster struct {
	net       *testNet
	stores    []*memStore
	acceptors []*Acceptor
	proposers []*Proposer
	learners  []*Learner
}

func testConfig(self NodeID, size int) Config {
	return Config{
		Self:         self,
		Size:         size,
		MaxAttempts:  5,
		CallTimeout:  100 * time.Millisecond,
		PhaseTimeout: 500 * time.Millisecond,
		BackoffMin:   time.Millisecond,
		BackoffMax:   5 * time.Millisecond,
	}
}

func newTestCluster(t *testing.T, size int) *testCluster {
	t.Helper()
	c := &testCluster{net: newTestNet()}
	for i := 0; i < size; i++ {
		id := NodeID(i)
		s := &memStore{}
		a, err := NewAcceptor(id, s)
		if err != nil {
			t.Fatalf("NewAcceptor(%d): %v", i, err)
		}
		cfg := testConfig(id, size)
		l := NewLearner(cfg, a, c.net)
		c.stores = append(c.stores, s)
		c.acceptors = append(c.acceptors, a)
		c.learners = append(c.learners, l)
		c.proposers = append(c.proposers, NewProposer(cfg, a, l, c.net))
		c.net.nodes[id] = a
	}
	return c
}

// committedValues collects the distinct committed values on every node.
func (c *testCluster) committedValues() map[string]bool {
	values := make(map[string]bool)
	for _, a := range c.acceptors {
		for _, p := range a.Snapshot().Committed {
			values[string(p.Value)] = true
		}
	}
	return values
}
