package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/senutpal/synod/internal/config"
	"github.com/senutpal/synod/internal/paxos"
	"github.com/senutpal/synod/internal/storage"
	"github.com/senutpal/synod/internal/transport"
)

func testConfig(size int) config.Config {
	c := config.Default()
	c.Nodes = nil
	for i := 0; i < size; i++ {
		c.Nodes = append(c.Nodes, config.Address{Host: "127.0.0.1", Port: 9000 + i})
	}
	c.CallTimeout = config.Duration(200 * time.Millisecond)
	c.PhaseTimeout = config.Duration(time.Second)
	c.BackoffMin = config.Duration(time.Millisecond)
	c.BackoffMax = config.Duration(10 * time.Millisecond)
	return c
}

type memCluster struct {
	net    *transport.Network
	nodes  []*Node
	stores []*storage.MemoryStore
}

func newMemCluster(t *testing.T, size int) *memCluster {
	t.Helper()
	cfg := testConfig(size)
	c := &memCluster{net: transport.NewNetwork()}
	for i := 0; i < size; i++ {
		id := paxos.NodeID(i)
		s := storage.NewMemoryStore()
		n, err := New(cfg, id, s, c.net.Endpoint(id))
		if err != nil {
			t.Fatal(err)
		}
		c.net.Register(id, n)
		c.nodes = append(c.nodes, n)
		c.stores = append(c.stores, s)
	}
	return c
}

func (c *memCluster) submit(t *testing.T, id int, v string) *paxos.Reply {
	t.Helper()
	r, err := c.net.Endpoint(-1).Send(context.Background(), paxos.NodeID(id),
		&paxos.Message{Type: paxos.MsgSubmit, Value: paxos.Value(v)})
	if err != nil {
		t.Fatalf("submit to node %d: %v", id, err)
	}
	return r
}

func (c *memCluster) prints() []string {
	out := make([]string, len(c.nodes))
	for i, n := range c.nodes {
		out[i] = n.Print()
	}
	return out
}

func TestScenarioSingleProposer(t *testing.T) {
	c := newMemCluster(t, 3)
	r := c.submit(t, 1, "Same value")
	if r.Status != paxos.StatusCommitted || r.Message != paxos.SubmitCommittedText {
		t.Fatalf("unexpected reply %+v", r)
	}

	p, ok := c.nodes[1].Chosen()
	if !ok {
		t.Fatal("proposer did not learn its own decision")
	}
	for i, line := range c.prints() {
		want := fmt.Sprintf("Node %d: Same value (proposal num %d)", i, p.Number)
		if line != want {
			t.Errorf("got %q, want %q", line, want)
		}
	}
}

func TestScenarioTwoProposers(t *testing.T) {
	c := newMemCluster(t, 3)
	if r := c.submit(t, 2, "B's value"); r.Status != paxos.StatusCommitted {
		t.Fatalf("first submit: %+v", r)
	}
	time.Sleep(200 * time.Millisecond)
	if r := c.submit(t, 1, "A's value"); r.Status != paxos.StatusCommitted {
		t.Fatalf("second submit: %+v", r)
	}

	// node 1 runs later, with higher numbers, and must carry the decided
	// value forward rather than replace it
	var number paxos.ProposalNumber
	for i, n := range c.nodes {
		p, ok := n.Chosen()
		if !ok {
			t.Fatalf("node %d learnt nothing", i)
		}
		if string(p.Value) != "B's value" {
			t.Errorf("node %d holds %q", i, p.Value)
		}
		if i == 0 {
			number = p.Number
		} else if p.Number != number {
			t.Errorf("node %d holds proposal %d, node 0 holds %d", i, p.Number, number)
		}
		if p.Number.Proposer(3) != 1 {
			t.Errorf("latest decision should come from node 1, got %d", p.Number.Proposer(3))
		}
	}
}

func TestScenarioMinorityPartition(t *testing.T) {
	c := newMemCluster(t, 3)
	c.net.Isolate(1)
	c.net.Isolate(2)

	r, err := c.nodes[0].Handle(context.Background(), &paxos.Message{Type: paxos.MsgSubmit, Value: paxos.Value("alone")})
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != paxos.StatusFailed || r.Message != paxos.SubmitFailedText {
		t.Errorf("unexpected reply %+v", r)
	}
	for i, line := range c.prints() {
		if want := fmt.Sprintf("Node %d: ", i); line != want {
			t.Errorf("got %q, want %q", line, want)
		}
	}

	// once healed the same node gets through
	c.net.HealAll()
	if _, err := c.nodes[0].Submit(context.Background(), paxos.Value("together")); err != nil {
		t.Fatalf("after heal: %v", err)
	}
}

func TestOneNodeDown(t *testing.T) {
	c := newMemCluster(t, 3)
	c.net.Isolate(2)
	p, err := c.nodes[0].Submit(context.Background(), paxos.Value("v"))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.nodes[2].Chosen(); ok {
		t.Error("isolated node should not have learnt")
	}

	// the isolated node comes back and picks the value up through its own
	// proposal
	c.net.Rejoin(2)
	q, err := c.nodes[2].Submit(context.Background(), paxos.Value("other"))
	if err != nil {
		t.Fatal(err)
	}
	if !q.Value.Equal(p.Value) {
		t.Errorf("rejoined node decided %q, cluster decided %q", q.Value, p.Value)
	}
}

func TestSafetyUnderLossAndContention(t *testing.T) {
	for trial := 0; trial < 10; trial++ {
		c := newMemCluster(t, 5)
		c.net.SetMessageLoss(0.15)

		var wg sync.WaitGroup
		for i := range c.nodes {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				c.nodes[i].Submit(context.Background(), paxos.Value(fmt.Sprintf("v%d", i)))
			}(i)
		}
		wg.Wait()

		values := make(map[string]bool)
		for _, n := range c.nodes {
			for _, p := range n.State().Committed {
				values[string(p.Value)] = true
			}
		}
		if len(values) > 1 {
			t.Fatalf("trial %d: committed values %v", trial, values)
		}
	}
}

func TestUnacknowledgedWhenStoreFails(t *testing.T) {
	c := newMemCluster(t, 3)
	c.stores[1].FailSaves(errors.New("disk gone"))

	_, err := c.net.Endpoint(0).Send(context.Background(), 1,
		&paxos.Message{Type: paxos.MsgPrepare, ProposalNumber: 4})
	if !errors.Is(err, transport.ErrNoReply) {
		t.Errorf("expected ErrNoReply, got %v", err)
	}
	if got := c.nodes[1].State().HighestPromised; got != 0 {
		t.Errorf("promise %d recorded despite failed save", got)
	}
}

func TestHandleRejectsUnknownType(t *testing.T) {
	c := newMemCluster(t, 3)
	if _, err := c.nodes[0].Handle(context.Background(), &paxos.Message{Type: "gossip"}); !errors.Is(err, paxos.ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
}

func TestNewRejectsUnknownNode(t *testing.T) {
	_, err := New(testConfig(3), 3, storage.NewMemoryStore(), transport.NewNetwork().Endpoint(3))
	if !errors.Is(err, config.ErrInvalid) {
		t.Errorf("expected config.ErrInvalid, got %v", err)
	}
}

func TestRestartKeepsDecision(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(3)
	hub := transport.NewNetwork()
	var files []*storage.FileStore
	var nodes []*Node
	for i := 0; i < 3; i++ {
		id := paxos.NodeID(i)
		s, err := storage.OpenNode(dir, id)
		if err != nil {
			t.Fatal(err)
		}
		files = append(files, s)
		n, err := New(cfg, id, s, hub.Endpoint(id))
		if err != nil {
			t.Fatal(err)
		}
		hub.Register(id, n)
		nodes = append(nodes, n)
	}
	p, err := nodes[0].Submit(context.Background(), paxos.Value("persisted"))
	if err != nil {
		t.Fatal(err)
	}

	// restart node 1 from disk
	files[1].Close()
	s, err := storage.OpenNode(dir, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	restarted, err := New(cfg, 1, s, hub.Endpoint(1))
	if err != nil {
		t.Fatal(err)
	}
	hub.Register(1, restarted)
	got, ok := restarted.Chosen()
	if !ok || got.Number != p.Number || !got.Value.Equal(p.Value) {
		t.Errorf("restarted node holds %v, %v", got, ok)
	}
	for i, f := range files {
		if i != 1 {
			f.Close()
		}
	}
}

// TCP end to end: three nodes on loopback listeners.
func TestClusterOverTCP(t *testing.T) {
	cfg := testConfig(3)
	var lns []net.Listener
	for i := range cfg.Nodes {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatal(err)
		}
		lns = append(lns, ln)
		cfg.Nodes[i].Port = ln.Addr().(*net.TCPAddr).Port
	}
	addrs := make([]string, cfg.Size())
	for i := range addrs {
		addrs[i] = cfg.Addr(i)
	}

	var nodes []*Node
	for i := range cfg.Nodes {
		n, err := New(cfg, paxos.NodeID(i), storage.NewMemoryStore(),
			transport.NewClient(addrs, time.Duration(cfg.CallTimeout)))
		if err != nil {
			t.Fatal(err)
		}
		if err := n.Start(lns[i]); err != nil {
			t.Fatal(err)
		}
		nodes = append(nodes, n)
	}
	defer func() {
		for _, n := range nodes {
			n.Stop()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	r, err := transport.Call(ctx, addrs[1], &paxos.Message{Type: paxos.MsgSubmit, Value: paxos.Value("Same value")})
	if err != nil {
		t.Fatal(err)
	}
	if r.Message != paxos.SubmitCommittedText {
		t.Fatalf("unexpected reply %+v", r)
	}

	var first string
	for i := range nodes {
		r, err := transport.Call(ctx, addrs[i], &paxos.Message{Type: paxos.MsgPrint})
		if err != nil {
			t.Fatal(err)
		}
		line := strings.TrimPrefix(r.Message, fmt.Sprintf("Node %d: ", i))
		if !strings.HasPrefix(line, "Same value (proposal num ") {
			t.Errorf("node %d printed %q", i, r.Message)
		}
		if i == 0 {
			first = line
		} else if line != first {
			t.Errorf("node %d printed %q, node 0 printed %q", i, line, first)
		}
	}

	// stop one node: the other two still commit, the stopped one is a
	// no vote
	nodes[2].Stop()
	if _, err := nodes[0].Submit(ctx, paxos.Value("again")); err != nil {
		t.Errorf("two of three nodes should still commit: %v", err)
	}
}
