// =============================================================================
// NODE - Wiring the Paxos roles together
// =============================================================================
//
// A node plays all three roles:
//
//   ┌──────────────────────────────────────────────┐
//   │                     NODE                     │
//   │  ┌──────────┐   ┌──────────┐   ┌──────────┐  │
//   │  │ PROPOSER │──▶│ ACCEPTOR │◀──│ LEARNER  │  │
//   │  └────┬─────┘   └────┬─────┘   └────┬─────┘  │
//   │       │         ┌────┴─────┐        │        │
//   │       │         │  STORE   │        │        │
//   │       │         └──────────┘        │        │
//   │       └──────────┬──────────────────┘        │
//   │            ┌─────┴─────┐                     │
//   │            │ TRANSPORT │                     │
//   │            └───────────┘                     │
//   └──────────────────────────────────────────────┘
//
// Inbound requests are routed by type:
//
//   prepare, accept, update  -> acceptor
//   SubmitValue              -> proposer (blocks until commit or failure)
//   print                    -> committed record dump
//
// =============================================================================

package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/senutpal/synod/internal/config"
	"github.com/senutpal/synod/internal/logger"
	"github.com/senutpal/synod/internal/paxos"
	"github.com/senutpal/synod/internal/transport"
)

type Node struct {
	id       paxos.NodeID
	cfg      config.Config
	acceptor *paxos.Acceptor
	proposer *paxos.Proposer
	learner  *paxos.Learner
	log      logger.Logger

	mu      sync.Mutex
	server  *transport.Server
	serveWG sync.WaitGroup
}

// New builds node id of cfg on top of store and t.
func New(cfg config.Config, id paxos.NodeID, store paxos.Store, t paxos.Transport) (*Node, error) {
	if !cfg.Valid(int(id)) {
		return nil, fmt.Errorf("%w: node %d not in a cluster of %d", config.ErrInvalid, id, cfg.Size())
	}
	acceptor, err := paxos.NewAcceptor(id, store)
	if err != nil {
		return nil, err
	}
	pc := ProtocolConfig(cfg, id)
	learner := paxos.NewLearner(pc, acceptor, t)
	return &Node{
		id:       id,
		cfg:      cfg,
		acceptor: acceptor,
		learner:  learner,
		proposer: paxos.NewProposer(pc, acceptor, learner, t),
		log:      logger.New(int(id)),
	}, nil
}

// ProtocolConfig extracts what the protocol roles need from cfg.
func ProtocolConfig(cfg config.Config, id paxos.NodeID) paxos.Config {
	return paxos.Config{
		Self:         id,
		Size:         cfg.Size(),
		MaxAttempts:  cfg.MaxAttempts,
		CallTimeout:  time.Duration(cfg.CallTimeout),
		PhaseTimeout: time.Duration(cfg.PhaseTimeout),
		BackoffMin:   time.Duration(cfg.BackoffMin),
		BackoffMax:   time.Duration(cfg.BackoffMax),
	}
}

func (n *Node) ID() paxos.NodeID {
	return n.id
}

// Handle routes one inbound request. Errors mean "do not acknowledge".
func (n *Node) Handle(ctx context.Context, m *paxos.Message) (*paxos.Reply, error) {
	switch m.Type {
	case paxos.MsgPrepare, paxos.MsgAccept, paxos.MsgLearn:
		r, err := n.acceptor.Handle(ctx, m)
		if err != nil {
			n.log.Debug(logger.DError, "%s: %v", m.String(), err)
		}
		return r, err

	case paxos.MsgSubmit:
		n.log.Debug(logger.DClient, "submit %q", m.Value)
		if _, err := n.Submit(ctx, m.Value); err != nil {
			return &paxos.Reply{Status: paxos.StatusFailed, Message: paxos.SubmitFailedText}, nil
		}
		return &paxos.Reply{Status: paxos.StatusCommitted, Message: paxos.SubmitCommittedText}, nil

	case paxos.MsgPrint:
		return &paxos.Reply{Status: paxos.StatusOK, Message: n.Print()}, nil
	}
	return nil, fmt.Errorf("%w: %q", paxos.ErrUnsupported, m.Type)
}

// Submit runs a consensus round for value. The decided proposal may carry
// a value other than the one submitted if the cluster had already
// accepted one.
func (n *Node) Submit(ctx context.Context, value paxos.Value) (paxos.Proposal, error) {
	p, err := n.proposer.Run(ctx, value)
	if err != nil {
		if errors.Is(err, paxos.ErrNotCommitted) {
			n.log.Debug(logger.DClient, "gave up on %q after %d attempts", value, n.cfg.MaxAttempts)
		} else {
			n.log.Debug(logger.DError, "submit %q: %v", value, err)
		}
		return p, err
	}
	return p, nil
}

// Print renders the node's committed record the way the print request
// reports it.
func (n *Node) Print() string {
	p, ok := n.acceptor.Committed()
	if !ok {
		return fmt.Sprintf("Node %d: ", n.id)
	}
	return fmt.Sprintf("Node %d: %s", n.id, p)
}

func (n *Node) State() paxos.AcceptorState {
	return n.acceptor.Snapshot()
}

func (n *Node) Chosen() (paxos.Proposal, bool) {
	return n.learner.Chosen()
}

func (n *Node) WaitForChosen(ctx context.Context) (paxos.Proposal, error) {
	return n.learner.Wait(ctx)
}

// Start serves the wire protocol on ln in the background.
func (n *Node) Start(ln net.Listener) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.server != nil {
		return errors.New("node already started")
	}
	n.server = transport.NewServer(n, n.cfg.MaxConns, n.log)
	n.server.SetIdleTimeout(time.Duration(n.cfg.IdleTimeout))
	n.serveWG.Add(1)
	go func() {
		defer n.serveWG.Done()
		if err := n.server.Serve(ln); err != nil {
			n.log.Debug(logger.DError, "serve: %v", err)
		}
	}()
	n.log.Debug(logger.DInfo, "listening on %v", ln.Addr())
	return nil
}

// Stop closes the listener and every open connection.
func (n *Node) Stop() error {
	n.mu.Lock()
	s := n.server
	n.server = nil
	n.mu.Unlock()
	if s == nil {
		return nil
	}
	err := s.Close()
	n.serveWG.Wait()
	return err
}
