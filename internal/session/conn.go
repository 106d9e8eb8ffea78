package session

import "time"

// Message type constants, matching gorilla/websocket's values so a
// *websocket.Conn satisfies Conn without any translation layer.
const (
	TextMessage   = 1
	BinaryMessage = 2
	CloseMessage  = 8
	PingMessage   = 9
	PongMessage   = 10
)

// Conn is the minimal duplex WebSocket surface a Session needs. It is
// satisfied directly by *gorilla/websocket.Conn; tests substitute a
// fake that never touches the network.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}
