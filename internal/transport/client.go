package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/senutpal/synod/internal/paxos"
)

// DefaultCallTimeout applies when the caller's context has no deadline.
const DefaultCallTimeout = 2 * time.Second

// Client sends requests to cluster peers over TCP, one connection per
// request.
type Client struct {
	addrs   map[paxos.NodeID]string
	timeout time.Duration
}

// NewClient addresses node i at addrs[i].
func NewClient(addrs []string, timeout time.Duration) *Client {
	m := make(map[paxos.NodeID]string, len(addrs))
	for i, a := range addrs {
		m[paxos.NodeID(i)] = a
	}
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &Client{addrs: m, timeout: timeout}
}

func (c *Client) Send(ctx context.Context, to paxos.NodeID, m *paxos.Message) (*paxos.Reply, error) {
	addr, ok := c.addrs[to]
	if !ok {
		return nil, fmt.Errorf("%w: no address for node %d", ErrUnreachable, to)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return Call(ctx, addr, m)
}

// Call dials addr, sends m and waits for the reply. The context bounds the
// whole exchange.
func Call(ctx context.Context, addr string, m *paxos.Message) (*paxos.Reply, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: dial %s: %v", ErrTimeout, addr, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer conn.Close()

	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl)
	}
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := WriteFrame(conn, m); err != nil {
		return nil, callError(ctx, addr, err)
	}
	var r paxos.Reply
	if err := ReadFrame(conn, &r); err != nil {
		return nil, callError(ctx, addr, err)
	}
	return &r, nil
}

func callError(ctx context.Context, addr string, err error) error {
	var ne net.Error
	switch {
	case ctx.Err() != nil, errors.As(err, &ne) && ne.Timeout():
		return fmt.Errorf("%w: %s", ErrTimeout, addr)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("%w: %s", ErrNoReply, addr)
	}
	return fmt.Errorf("%s: %w", addr, err)
}
