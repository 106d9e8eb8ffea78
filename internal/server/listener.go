package server

import "net"

// NoDelayListener wraps a net.Listener so every accepted connection has
// TCP_NODELAY set, matching the acceptor contract: relay frames are
// latency-sensitive and small, so Nagle's algorithm should stay off.
type NoDelayListener struct {
	net.Listener
}

// Listen opens a TCP listener on addr with TCP_NODELAY enabled on every
// accepted connection.
func Listen(addr string) (net.Listener, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return NoDelayListener{Listener: l}, nil
}

// Accept sets TCP_NODELAY on the accepted connection before returning
// it, when the underlying transport is TCP.
func (l NoDelayListener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	if tc, ok := c.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return c, nil
}
