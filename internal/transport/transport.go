// =============================================================================
// TRANSPORT
// =============================================================================
//
// Paxos tolerates lost, delayed and duplicated messages, so the transport
// promises little: one request, at most one reply, within a deadline.
// Everything that goes wrong on the way is an error the proposer counts as
// "no vote".
//
// Two implementations of paxos.Transport live here:
//
//   Client    TCP, one length-prefixed JSON frame per request and reply
//   Network   in-process hub with partitions and message loss, for tests
//             and the demo
//
// Server is the inbound side of Client: it accepts connections, decodes
// frames and hands each request to a Handler.
//
// =============================================================================

package transport

import (
	"context"
	"errors"

	"github.com/senutpal/synod/internal/paxos"
)

var (
	ErrUnreachable   = errors.New("peer unreachable")
	ErrTimeout       = errors.New("request timed out")
	ErrClosed        = errors.New("transport closed")
	ErrFrameTooLarge = errors.New("frame too large")
	ErrMalformed     = errors.New("malformed message")
	ErrNoReply       = errors.New("peer closed connection without reply")
)

// Handler answers one request. A non-nil error means the request is not
// acknowledged: the server drops the connection instead of replying.
type Handler interface {
	Handle(ctx context.Context, m *paxos.Message) (*paxos.Reply, error)
}

type HandlerFunc func(ctx context.Context, m *paxos.Message) (*paxos.Reply, error)

func (f HandlerFunc) Handle(ctx context.Context, m *paxos.Message) (*paxos.Reply, error) {
	return f(ctx, m)
}

var (
	_ paxos.Transport = (*Client)(nil)
	_ paxos.Transport = (*Endpoint)(nil)
)
