// =============================================================================
// ACCEPTOR
// =============================================================================
//
// The acceptor owns one node's promised/accepted state. Its two rules:
//
//   PROMISE RULE:    once n is promised, reject Prepare(m) for m <= n and
//                    Accept(m) for m < n.
//   ACCEPTANCE RULE: accept (n, v) only if nothing higher was promised, and
//                    remember both n and v.
//
// Learn is different: it arrives only after a majority accepted (n, v), so
// it is applied unconditionally. Gating it on the promise would let a node
// that promised a higher number to a losing proposer miss the decision.
//
// Every change is written to the Store before the caller sees a result. A
// mutation is prepared on a copy of the state and installed only after Save
// succeeds, so a failed Save leaves the acceptor exactly as it was.
//
// =============================================================================

package paxos

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/senutpal/synod/internal/logger"
)

var ErrUnsupported = errors.New("unsupported message type")

// Store is the durable slot holding an acceptor's state. Load returns the
// zero state when nothing was saved yet.
type Store interface {
	Load() (AcceptorState, error)
	Save(AcceptorState) error
}

type Acceptor struct {
	id    NodeID
	store Store
	log   logger.Logger

	mu      sync.RWMutex
	state   AcceptorState
	decided chan struct{}
}

func NewAcceptor(id NodeID, store Store) (*Acceptor, error) {
	state, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load acceptor state: %w", err)
	}
	a := &Acceptor{
		id:      id,
		store:   store,
		log:     logger.New(int(id)),
		state:   state,
		decided: make(chan struct{}),
	}
	if len(state.Committed) > 0 {
		close(a.decided)
	}
	return a, nil
}

func (a *Acceptor) ID() NodeID {
	return a.id
}

func (a *Acceptor) Prepare(n ProposalNumber) (Promise, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n <= a.state.HighestPromised {
		a.log.Debug(logger.DAcceptor, "reject prepare %d, promised %d", n, a.state.HighestPromised)
		return Promise{HighestPromised: a.state.HighestPromised}, nil
	}

	next := a.state.Clone()
	next.HighestPromised = n
	if err := a.install(next); err != nil {
		return Promise{}, err
	}

	p := Promise{OK: true, HighestPromised: n}
	if a.state.Accepted != nil {
		acc := a.state.Accepted.clone()
		p.Accepted = &acc
	}
	a.log.Debug(logger.DAcceptor, "promise %d, accepted %v", n, p.Accepted)
	return p, nil
}

// Accept reports whether (n, v) was accepted, and the promise in force
// afterwards.
func (a *Acceptor) Accept(n ProposalNumber, v Value) (bool, ProposalNumber, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n < a.state.HighestPromised {
		a.log.Debug(logger.DAcceptor, "reject accept %d, promised %d", n, a.state.HighestPromised)
		return false, a.state.HighestPromised, nil
	}

	next := a.state.Clone()
	next.HighestPromised = n
	next.Accepted = &Proposal{Number: n, Value: v.clone()}
	if err := a.install(next); err != nil {
		return false, a.state.HighestPromised, err
	}
	a.log.Debug(logger.DAcceptor, "accepted %d %q", n, v)
	return true, n, nil
}

// Learn records (n, v) as decided. Applying the same Learn twice leaves the
// state unchanged.
func (a *Acceptor) Learn(n ProposalNumber, v Value) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	decided := Proposal{Number: n, Value: v.clone()}
	if a.holds(decided) {
		return nil
	}

	next := a.state.Clone()
	if next.HighestPromised < n {
		next.HighestPromised = n
	}
	acc := decided.clone()
	next.Accepted = &acc
	if last, ok := next.LastCommitted(); !ok || last.Number != n || !last.Value.Equal(v) {
		next.Committed = append(next.Committed, decided)
	}
	if err := a.install(next); err != nil {
		return err
	}

	if last, ok := a.state.LastCommitted(); ok && len(a.state.Committed) > 1 {
		prev := a.state.Committed[len(a.state.Committed)-2]
		if !prev.Value.Equal(last.Value) {
			a.log.Debug(logger.DError, "learnt %v after %v", last, prev)
		}
	}
	a.log.Debug(logger.DLearner, "learnt %d %q", n, v)

	select {
	case <-a.decided:
	default:
		close(a.decided)
	}
	return nil
}

// holds reports whether p is already promised, accepted and the latest
// committed record.
func (a *Acceptor) holds(p Proposal) bool {
	s := a.state
	if s.HighestPromised < p.Number || s.Accepted == nil {
		return false
	}
	if s.Accepted.Number != p.Number || !s.Accepted.Value.Equal(p.Value) {
		return false
	}
	last, ok := s.LastCommitted()
	return ok && last.Number == p.Number && last.Value.Equal(p.Value)
}

// install persists next and makes it current. Callers hold a.mu.
func (a *Acceptor) install(next AcceptorState) error {
	if err := a.store.Save(next); err != nil {
		a.log.Debug(logger.DPersist, "save failed: %v", err)
		return fmt.Errorf("persist acceptor state: %w", err)
	}
	a.state = next
	return nil
}

// Snapshot returns a consistent copy of the current state.
func (a *Acceptor) Snapshot() AcceptorState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state.Clone()
}

// Committed returns the latest decision this node learnt.
func (a *Acceptor) Committed() (Proposal, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.state.LastCommitted()
	if !ok {
		return Proposal{}, false
	}
	return p.clone(), true
}

// Decided is closed once this node has learnt a decision.
func (a *Acceptor) Decided() <-chan struct{} {
	return a.decided
}

// Handle answers the acceptor's share of the wire protocol: prepare,
// accept and update. A non-nil error means the request must not be
// acknowledged.
func (a *Acceptor) Handle(_ context.Context, m *Message) (*Reply, error) {
	switch m.Type {
	case MsgPrepare:
		p, err := a.Prepare(m.ProposalNumber)
		if err != nil {
			return nil, err
		}
		return p.Reply(), nil

	case MsgAccept:
		ok, promised, err := a.Accept(m.ProposalNumber, m.Value)
		if err != nil {
			return nil, err
		}
		if !ok {
			return &Reply{Status: StatusReject, HighestPromised: promised}, nil
		}
		return &Reply{Status: StatusAccepted, HighestPromised: promised}, nil

	case MsgLearn:
		if err := a.Learn(m.ProposalNumber, m.Value); err != nil {
			return nil, err
		}
		return &Reply{Status: StatusAck}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupported, m.Type)
}
