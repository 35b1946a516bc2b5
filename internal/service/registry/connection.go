package registry

import (
	"context"
	"fmt"
	"group_chat/internal/protocol/envelope"
	"sync"
)

// Transport abstracts the duplex channel behind a connection. Reads are
// owned by the connection's worker and are not part of this interface.
type Transport interface {
	Write(ctx context.Context, data []byte) error
	Close() error
	RemoteAddr() string
}

type Connection struct {
	id        string
	transport Transport

	// serializes writes; a websocket allows a single concurrent writer
	writeMu sync.Mutex
}

func NewConnection(t Transport) *Connection {
	return &Connection{
		id:        envelope.NewID(),
		transport: t,
	}
}

func (c *Connection) ID() string {
	return c.id
}

func (c *Connection) RemoteAddr() string {
	return c.transport.RemoteAddr()
}

// Send encodes env and writes it to the transport.
func (c *Connection) Send(ctx context.Context, env envelope.ServerEnvelope) error {
	data, err := envelope.EncodeServer(env)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.transport.Write(ctx, data); err != nil {
		return fmt.Errorf("write %s to %s: %w", env.Package.ServerHeader(), c.id, err)
	}
	return nil
}

func (c *Connection) Close() error {
	return c.transport.Close()
}
