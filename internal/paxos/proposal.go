// =============================================================================
// PROPOSAL NUMBERS AND ACCEPTOR STATE
// =============================================================================
//
// A proposal number packs (round, proposer) into one integer:
//
//   n = round*N + proposer + 1
//
// With N nodes, proposer p only ever produces numbers congruent to p+1
// modulo N, so two nodes can never produce the same number, and a node's
// numbers strictly increase with its round counter. Zero is never produced
// and stands for "nothing promised yet".
//
//   N = 3
//   round 1:  node0 -> 4   node1 -> 5   node2 -> 6
//   round 2:  node0 -> 7   node1 -> 8   node2 -> 9
//
// =============================================================================

package paxos

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type NodeID int

type ProposalNumber uint64

// MakeProposalNumber encodes (round, proposer) for a cluster of n nodes.
func MakeProposalNumber(round uint64, proposer NodeID, n int) ProposalNumber {
	return ProposalNumber(round*uint64(n) + uint64(proposer) + 1)
}

// Round recovers the round counter that produced p.
func (p ProposalNumber) Round(n int) uint64 {
	if p == 0 {
		return 0
	}
	return uint64(p-1) / uint64(n)
}

// Proposer recovers the node that produced p.
func (p ProposalNumber) Proposer(n int) NodeID {
	if p == 0 {
		return -1
	}
	return NodeID(uint64(p-1) % uint64(n))
}

func (p ProposalNumber) IsZero() bool {
	return p == 0
}

// Value is the payload being agreed on. It travels as a plain JSON string,
// so it is expected to be UTF-8 text.
type Value []byte

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(v))
}

func (v *Value) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*v = nil
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("value must be a string: %w", err)
	}
	if s == "" {
		*v = nil
		return nil
	}
	*v = Value(s)
	return nil
}

func (v Value) Equal(o Value) bool {
	return bytes.Equal(v, o)
}

func (v Value) String() string {
	return string(v)
}

func (v Value) clone() Value {
	if v == nil {
		return nil
	}
	c := make(Value, len(v))
	copy(c, v)
	return c
}

type Proposal struct {
	Number ProposalNumber `json:"number"`
	Value  Value          `json:"value"`
}

func (p Proposal) String() string {
	return fmt.Sprintf("%s (proposal num %d)", p.Value, p.Number)
}

func (p Proposal) clone() Proposal {
	return Proposal{Number: p.Number, Value: p.Value.clone()}
}

// AcceptorState is one node's durable consensus state.
type AcceptorState struct {
	HighestPromised ProposalNumber `json:"highest_promised"`
	// Accepted is nil until the node accepts or learns a proposal.
	Accepted *Proposal `json:"accepted,omitempty"`
	// Committed records every decision this node learnt, oldest first.
	// Consecutive duplicates are never stored.
	Committed []Proposal `json:"committed,omitempty"`
}

// LastCommitted returns the most recent committed record.
func (s AcceptorState) LastCommitted() (Proposal, bool) {
	if len(s.Committed) == 0 {
		return Proposal{}, false
	}
	return s.Committed[len(s.Committed)-1], true
}

// Clone returns a deep copy that shares no memory with s.
func (s AcceptorState) Clone() AcceptorState {
	c := AcceptorState{HighestPromised: s.HighestPromised}
	if s.Accepted != nil {
		a := s.Accepted.clone()
		c.Accepted = &a
	}
	if s.Committed != nil {
		c.Committed = make([]Proposal, len(s.Committed))
		for i, p := range s.Committed {
			c.Committed[i] = p.clone()
		}
	}
	return c
}
