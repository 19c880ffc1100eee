// =============================================================================
// PROPOSER
// =============================================================================
//
// One attempt:
//
//   1. n = next proposal number
//   2. PHASE ONE   prepare(n) to everyone, count promises
//                  adopt the value of the highest-numbered accepted proposal
//                  among the promises, else keep the client's value
//   3. PHASE TWO   accept(n, value) to everyone, count acceptances
//   4. COMMIT      learn locally, then update(n, value) to everyone
//
// A phase without a majority ends the attempt; the next attempt waits a
// random backoff and uses a higher number. Run gives up after MaxAttempts.
//
// The proposer's own vote comes from the local acceptor, called directly
// rather than over the transport. It is counted once, and only when that
// acceptor actually agrees.
//
// =============================================================================

package paxos

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/senutpal/synod/internal/logger"
)

var ErrNotCommitted = errors.New("failed to commit value")

type Proposer struct {
	cfg     Config
	local   *Acceptor
	learner *Learner
	out     *fanout
	log     logger.Logger

	mu    sync.Mutex
	round uint64
}

func NewProposer(cfg Config, local *Acceptor, learner *Learner, t Transport) *Proposer {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	log := logger.New(int(cfg.Self))
	return &Proposer{
		cfg:     cfg,
		local:   local,
		learner: learner,
		out:     newFanout(cfg, t, log),
		log:     log,
	}
}

// GenerateProposalNumber advances the round counter and returns a number
// no other node can produce.
func (p *Proposer) GenerateProposalNumber() ProposalNumber {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.round++
	return MakeProposalNumber(p.round, p.cfg.Self, p.cfg.Size)
}

// observe moves the round counter past a number some acceptor has already
// promised, so the next attempt outbids it.
func (p *Proposer) observe(seen ProposalNumber) {
	r := seen.Round(p.cfg.Size)
	p.mu.Lock()
	defer p.mu.Unlock()
	if r > p.round {
		p.round = r
	}
}

// Run drives value, or a value the cluster already accepted, to a decision.
// It returns the decided proposal, or ErrNotCommitted once every attempt
// failed to gather a majority.
func (p *Proposer) Run(ctx context.Context, value Value) (Proposal, error) {
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Proposal{}, err
		}

		n := p.GenerateProposalNumber()
		p.log.Debug(logger.DProposer, "attempt %d: phase one with proposal %d", attempt, n)

		resolved, ok := p.phaseOne(ctx, n, value)
		if !ok {
			p.log.Debug(logger.DProposer, "no majority in phase one for proposal %d", n)
		} else {
			p.log.Debug(logger.DProposer, "phase two with proposal %d and value %q", n, resolved)
			if p.phaseTwo(ctx, n, resolved) {
				decided := Proposal{Number: n, Value: resolved}
				p.log.Debug(logger.DProposer, "committed %q with proposal %d", resolved, n)
				return decided, p.learner.Commit(ctx, decided)
			}
			p.log.Debug(logger.DProposer, "no majority in phase two for proposal %d", n)
		}

		if attempt < p.cfg.MaxAttempts {
			if err := p.backoff(ctx); err != nil {
				return Proposal{}, err
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return Proposal{}, err
	}
	return Proposal{}, ErrNotCommitted
}

// phaseOne returns the value to propose in phase two and whether a
// majority promised n.
func (p *Proposer) phaseOne(ctx context.Context, n ProposalNumber, value Value) (Value, bool) {
	var (
		votes   int
		highest *Proposal
	)
	consider := func(acc Proposal) {
		if highest == nil || acc.Number > highest.Number {
			a := acc
			highest = &a
		}
	}

	self, err := p.local.Prepare(n)
	switch {
	case err != nil:
		p.log.Debug(logger.DWarn, "local prepare %d: %v", n, err)
	case self.OK:
		votes++
		if self.Accepted != nil {
			consider(*self.Accepted)
		}
	default:
		p.observe(self.HighestPromised)
	}

	m := &Message{Type: MsgPrepare, From: p.cfg.Self, ProposalNumber: n}
	for _, r := range p.out.broadcast(ctx, m) {
		switch r.reply.Status {
		case StatusPromise:
			votes++
			if acc, ok := r.reply.AcceptedProposal(); ok {
				consider(acc)
			}
		case StatusReject:
			p.observe(r.reply.HighestPromised)
		}
	}

	if !HasQuorum(votes, p.cfg.Size) {
		return nil, false
	}
	if highest != nil {
		if !highest.Value.Equal(value) {
			p.log.Debug(logger.DProposer, "adopting %q accepted under proposal %d", highest.Value, highest.Number)
		}
		return highest.Value, true
	}
	return value, true
}

func (p *Proposer) phaseTwo(ctx context.Context, n ProposalNumber, v Value) bool {
	votes := 0

	ok, promised, err := p.local.Accept(n, v)
	switch {
	case err != nil:
		p.log.Debug(logger.DWarn, "local accept %d: %v", n, err)
	case ok:
		votes++
	default:
		p.observe(promised)
	}

	m := &Message{Type: MsgAccept, From: p.cfg.Self, ProposalNumber: n, Value: v}
	for _, r := range p.out.broadcast(ctx, m) {
		switch r.reply.Status {
		case StatusAccepted:
			votes++
		case StatusReject:
			p.observe(r.reply.HighestPromised)
		}
	}
	return HasQuorum(votes, p.cfg.Size)
}

func (p *Proposer) backoff(ctx context.Context) error {
	d := p.cfg.BackoffMin
	if spread := p.cfg.BackoffMax - p.cfg.BackoffMin; spread > 0 {
		d += time.Duration(rand.Int63n(int64(spread) + 1))
	}
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
