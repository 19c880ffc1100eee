package paxos

import (
	"context"
	"time"

	"github.com/senutpal/synod/internal/logger"
)

// Transport delivers one request to a peer and waits for its reply. Any
// error (timeout, refused, unreachable) is treated as an abstention.
type Transport interface {
	Send(ctx context.Context, to NodeID, m *Message) (*Reply, error)
}

// Config is the part of the cluster configuration the protocol roles need.
type Config struct {
	Self NodeID
	Size int

	MaxAttempts  int
	CallTimeout  time.Duration
	PhaseTimeout time.Duration
	BackoffMin   time.Duration
	BackoffMax   time.Duration
}

const DefaultMaxAttempts = 5

func (c Config) peers() []NodeID {
	peers := make([]NodeID, 0, c.Size)
	for i := 0; i < c.Size; i++ {
		if NodeID(i) != c.Self {
			peers = append(peers, NodeID(i))
		}
	}
	return peers
}

type response struct {
	from  NodeID
	reply *Reply
	err   error
}

// fanout sends one message to every peer in parallel.
type fanout struct {
	peers        []NodeID
	transport    Transport
	callTimeout  time.Duration
	phaseTimeout time.Duration
	log          logger.Logger
}

func newFanout(cfg Config, t Transport, log logger.Logger) *fanout {
	return &fanout{
		peers:        cfg.peers(),
		transport:    t,
		callTimeout:  cfg.CallTimeout,
		phaseTimeout: cfg.PhaseTimeout,
		log:          log,
	}
}

// broadcast returns the replies that arrived before the phase deadline.
// Peers that failed or did not answer in time are left out.
func (f *fanout) broadcast(ctx context.Context, m *Message) []response {
	ctx, cancel := withTimeout(ctx, f.phaseTimeout)
	defer cancel()

	ch := make(chan response, len(f.peers))
	for _, peer := range f.peers {
		go func(peer NodeID) {
			cctx, ccancel := withTimeout(ctx, f.callTimeout)
			defer ccancel()
			r, err := f.transport.Send(cctx, peer, m)
			ch <- response{from: peer, reply: r, err: err}
		}(peer)
	}

	replies := make([]response, 0, len(f.peers))
	for range f.peers {
		select {
		case r := <-ch:
			if r.err != nil || r.reply == nil {
				f.log.Debug(logger.DNetwork, "%s to %d: no vote (%v)", m.Type, r.from, r.err)
				continue
			}
			replies = append(replies, r)
		case <-ctx.Done():
			f.log.Debug(logger.DNetwork, "%s: phase deadline with %d/%d replies", m.Type, len(replies), len(f.peers))
			return replies
		}
	}
	return replies
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
