// Command synodd runs one node of a single-decree Paxos cluster.
//
//	synodd -id 0 -config cluster.json
//
// Without a config file the node joins the three node localhost cluster on
// ports 8001-8003. Acceptor state is kept in <data>/node-<id>.wal.
package main

import (
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/senutpal/synod/internal/config"
	"github.com/senutpal/synod/internal/logger"
	"github.com/senutpal/synod/internal/node"
	"github.com/senutpal/synod/internal/paxos"
	"github.com/senutpal/synod/internal/storage"
	"github.com/senutpal/synod/internal/transport"
)

func main() {
	id := flag.Int("id", -1, "index of this node in the cluster table")
	cfgPath := flag.String("config", "cluster.json", "cluster config file")
	dataDir := flag.String("data", "", "directory for acceptor state (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if !cfg.Valid(*id) {
		log.Fatalf("-id must be in [0, %d)", cfg.Size())
	}
	self := paxos.NodeID(*id)

	store, err := storage.OpenNode(cfg.DataDir, self)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer store.Close()

	addrs := make([]string, cfg.Size())
	for i := range addrs {
		addrs[i] = cfg.Addr(i)
	}
	client := transport.NewClient(addrs, time.Duration(cfg.CallTimeout))

	n, err := node.New(cfg, self, store, client)
	if err != nil {
		log.Fatalf("node: %v", err)
	}

	listenAddr := net.JoinHostPort("0.0.0.0", strconv.Itoa(cfg.Nodes[*id].Port))
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	if err := n.Start(ln); err != nil {
		log.Fatalf("start: %v", err)
	}
	log.Printf("Node %d listening on %s (cluster of %d, quorum %d)", *id, listenAddr, cfg.Size(), paxos.Threshold(cfg.Size()))
	if logger.DebugEnabled() {
		log.Printf("Node %d tracing protocol messages (VERBOSE=%d)", *id, logger.Verbosity())
	}
	if p, ok := n.Chosen(); ok {
		log.Printf("Node %d recovered decision: %s", *id, p)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Printf("Node %d shutting down", *id)
	if err := n.Stop(); err != nil {
		log.Printf("stop: %v", err)
	}
}
