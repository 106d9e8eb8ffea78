package session

import (
	"errors"
	"sync"
	"time"
)

// fakeFrame is one recorded outbound write.
type fakeFrame struct {
	messageType int
	data        []byte
}

// fakeConn is an in-memory Conn double: inbound frames are fed through
// a queue, outbound frames land in a recorder a test can inspect.
type fakeConn struct {
	mu      sync.Mutex
	inbound []fakeFrame
	closed  bool

	written []fakeFrame
}

func newFakeConn(inbound ...fakeFrame) *fakeConn {
	return &fakeConn{inbound: inbound}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.inbound) == 0 {
		return 0, nil, errors.New("fakeConn: no more inbound frames")
	}
	f := c.inbound[0]
	c.inbound = c.inbound[1:]
	return f.messageType, f.data, nil
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("fakeConn: write on closed conn")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.written = append(c.written, fakeFrame{messageType: messageType, data: cp})
	return nil
}

func (c *fakeConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	return c.WriteMessage(messageType, data)
}

func (c *fakeConn) SetReadDeadline(t time.Time) error { return nil }
func (c *fakeConn) SetReadLimit(limit int64)          {}
func (c *fakeConn) SetPongHandler(h func(string) error) {}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) frames() []fakeFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]fakeFrame, len(c.written))
	copy(out, c.written)
	return out
}
