// =============================================================================
// WIRE MESSAGES
// =============================================================================
//
// Every request is a Message tagged with a type, every response a Reply
// tagged with a status. One request gets exactly one reply.
//
//   type          request fields              reply status
//   -----------   -------------------------   -------------------------
//   prepare       proposal_number             promise | reject
//   accept        proposal_number, value      accepted | reject
//   update        proposal_number, value      ack
//   SubmitValue   value                       committed | failed
//   print         -                           ok
//
// A promise carries accepted_proposal_number/accepted_value only when the
// acceptor holds an accepted proposal. A reject carries highest_promised so
// the proposer can skip ahead.
//
// =============================================================================

package paxos

import "fmt"

type MessageType string

const (
	MsgPrepare MessageType = "prepare"
	MsgAccept  MessageType = "accept"
	MsgLearn   MessageType = "update"
	MsgSubmit  MessageType = "SubmitValue"
	MsgPrint   MessageType = "print"
)

func (t MessageType) Valid() bool {
	switch t {
	case MsgPrepare, MsgAccept, MsgLearn, MsgSubmit, MsgPrint:
		return true
	}
	return false
}

type Status string

const (
	StatusPromise   Status = "promise"
	StatusAccepted  Status = "accepted"
	StatusReject    Status = "reject"
	StatusAck       Status = "ack"
	StatusCommitted Status = "committed"
	StatusFailed    Status = "failed"
	StatusOK        Status = "ok"
)

const (
	SubmitCommittedText = "Value successfully committed."
	SubmitFailedText    = "Failed to commit value."
)

type Message struct {
	Type           MessageType    `json:"type"`
	From           NodeID         `json:"from"`
	ProposalNumber ProposalNumber `json:"proposal_number,omitempty"`
	Value          Value          `json:"value,omitempty"`
}

func (m *Message) String() string {
	switch m.Type {
	case MsgPrepare:
		return fmt.Sprintf("prepare(%d) from %d", m.ProposalNumber, m.From)
	case MsgAccept, MsgLearn:
		return fmt.Sprintf("%s(%d, %q) from %d", m.Type, m.ProposalNumber, m.Value, m.From)
	case MsgSubmit:
		return fmt.Sprintf("%s(%q)", m.Type, m.Value)
	}
	return string(m.Type)
}

type Reply struct {
	Status                 Status         `json:"status"`
	AcceptedProposalNumber ProposalNumber `json:"accepted_proposal_number,omitempty"`
	AcceptedValue          Value          `json:"accepted_value,omitempty"`
	HighestPromised        ProposalNumber `json:"highest_promised,omitempty"`
	Message                string         `json:"message,omitempty"`
}

// AcceptedProposal unpacks the accepted proposal a promise carries.
func (r *Reply) AcceptedProposal() (Proposal, bool) {
	if r.AcceptedProposalNumber.IsZero() {
		return Proposal{}, false
	}
	return Proposal{Number: r.AcceptedProposalNumber, Value: r.AcceptedValue}, true
}

// Promise is an acceptor's answer to Prepare.
type Promise struct {
	OK bool
	// Accepted is the acceptor's accepted proposal, nil if it has none.
	Accepted *Proposal
	// HighestPromised is the acceptor's promise after handling the request.
	HighestPromised ProposalNumber
}

func (p Promise) Reply() *Reply {
	if !p.OK {
		return &Reply{Status: StatusReject, HighestPromised: p.HighestPromised}
	}
	r := &Reply{Status: StatusPromise, HighestPromised: p.HighestPromised}
	if p.Accepted != nil {
		r.AcceptedProposalNumber = p.Accepted.Number
		r.AcceptedValue = p.Accepted.Value
	}
	return r
}
