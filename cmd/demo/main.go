// =============================================================================
// DEMO RUNNER - Single-Decree Paxos in one process
// =============================================================================
//
// Runs three nodes over the in-memory network and replays three scenarios,
// each on a fresh cluster:
//
//   A  single proposer     node 1 submits "Same value"
//   B  two proposers       node 2 submits "B's value", then node 1 submits
//                          "A's value"; node 1 carries B's decision forward
//   C  minority partition  nodes 1 and 2 are cut off, node 0 gives up
//
// Run with: go run ./cmd/demo
// Set VERBOSE=1 to trace every protocol message.
//
// =============================================================================

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/senutpal/synod/internal/config"
	"github.com/senutpal/synod/internal/node"
	"github.com/senutpal/synod/internal/paxos"
	"github.com/senutpal/synod/internal/storage"
	"github.com/senutpal/synod/internal/transport"
)

type cluster struct {
	net   *transport.Network
	nodes []*node.Node
}

func newCluster(cfg config.Config) (*cluster, error) {
	c := &cluster{net: transport.NewNetwork()}
	for i := 0; i < cfg.Size(); i++ {
		id := paxos.NodeID(i)
		n, err := node.New(cfg, id, storage.NewMemoryStore(), c.net.Endpoint(id))
		if err != nil {
			return nil, err
		}
		c.net.Register(id, n)
		c.nodes = append(c.nodes, n)
	}
	return c, nil
}

func (c *cluster) submit(id int, value string) {
	r, err := c.nodes[id].Handle(context.Background(), &paxos.Message{Type: paxos.MsgSubmit, Value: paxos.Value(value)})
	if err != nil {
		fmt.Printf("Node %d: %v\n", id, err)
		return
	}
	fmt.Printf("Node %d: %s\n", id, r.Message)
}

// printAll prints every node and reports whether they agree.
func (c *cluster) printAll() bool {
	values := make(map[string]bool)
	for _, n := range c.nodes {
		fmt.Println(n.Print())
		if p, ok := n.Chosen(); ok {
			values[string(p.Value)] = true
		}
	}
	fmt.Println()
	return len(values) <= 1
}

func main() {
	cfg := config.Default()
	cfg.BackoffMin = config.Duration(5 * time.Millisecond)
	cfg.BackoffMax = config.Duration(50 * time.Millisecond)

	fmt.Printf("Starting Paxos cluster with %d nodes...\n", cfg.Size())
	fmt.Printf("Quorum size: %d\n\n", paxos.Threshold(cfg.Size()))

	scenarios := []struct {
		name string
		run  func(*cluster)
	}{
		{"A: single proposer", func(c *cluster) {
			c.submit(1, "Same value")
		}},
		{"B: two proposers, the later one", func(c *cluster) {
			c.submit(2, "B's value")
			time.Sleep(200 * time.Millisecond)
			c.submit(1, "A's value")
		}},
		{"C: minority partition", func(c *cluster) {
			c.net.Isolate(1)
			c.net.Isolate(2)
			c.submit(0, "Lonely value")
		}},
	}

	ok := true
	for _, s := range scenarios {
		c, err := newCluster(cfg)
		if err != nil {
			log.Fatalf("cluster: %v", err)
		}
		fmt.Printf("== Scenario %s\n", s.name)
		s.run(c)
		if !c.printAll() {
			fmt.Println("NODES DISAGREE")
			ok = false
		}
	}

	if !ok {
		os.Exit(1)
	}
	fmt.Println("Consensus held in every scenario.")
}
