// =============================================================================
// LEARNER
// =============================================================================
//
// Once a proposer has a majority in phase two the value is chosen. The
// learner makes that known: it records the decision on the local node first
// and then sends update(n, v) to every peer.
//
// Dissemination is best effort. A peer that misses the update still holds
// the accepted proposal from phase two, or will surface it in a later
// prepare and see it re-decided with the same value.
//
// =============================================================================

package paxos

import (
	"context"
	"fmt"

	"github.com/senutpal/synod/internal/logger"
)

type Learner struct {
	local *Acceptor
	out   *fanout
	log   logger.Logger
}

func NewLearner(cfg Config, local *Acceptor, t Transport) *Learner {
	log := logger.New(int(cfg.Self))
	return &Learner{
		local: local,
		out:   newFanout(cfg, t, log),
		log:   log,
	}
}

// Commit learns p locally and disseminates it. Only the local write can
// fail; peers that do not acknowledge are logged and skipped.
func (l *Learner) Commit(ctx context.Context, p Proposal) error {
	if err := l.local.Learn(p.Number, p.Value); err != nil {
		return fmt.Errorf("record decision %d: %w", p.Number, err)
	}

	m := &Message{Type: MsgLearn, From: l.local.ID(), ProposalNumber: p.Number, Value: p.Value}
	acks := 0
	for _, r := range l.out.broadcast(ctx, m) {
		if r.reply.Status == StatusAck {
			acks++
		}
	}
	if acks < len(l.out.peers) {
		l.log.Debug(logger.DLearner, "update %d reached %d/%d peers", p.Number, acks, len(l.out.peers))
	}
	return nil
}

// Chosen returns the decision this node knows about, if any.
func (l *Learner) Chosen() (Proposal, bool) {
	return l.local.Committed()
}

// Wait blocks until this node learns a decision or ctx ends.
func (l *Learner) Wait(ctx context.Context) (Proposal, error) {
	select {
	case <-l.local.Decided():
		p, _ := l.local.Committed()
		return p, nil
	case <-ctx.Done():
		return Proposal{}, ctx.Err()
	}
}
