// Package session implements the per-connection relay state machine:
// the only code that reads or writes a peer's cached room membership,
// and the sole owner of that peer's outbound sink.
package session

import (
	"sync"
	"time"

	"github.com/ephemeral-relay/relay/internal/metrics"
	"github.com/ephemeral-relay/relay/internal/protocol"
	"github.com/ephemeral-relay/relay/internal/room"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Broadcast is the data-plane sentinel address byte.
const Broadcast = 255

// Session is one connection's state machine. It implements room.Peer
// by identity (pointer equality), so the registry can track membership
// without ever importing this package.
type Session struct {
	conn     Conn
	registry *room.Registry
	log      *zap.Logger
	msgLimit *rate.Limiter // nil disables per-connection message throttling

	writeMu sync.Mutex // serializes all writes to conn

	mu     sync.Mutex // guards roomID/closed below
	roomID string     // "" means Unjoined
	closed bool
}

func (s *Session) peerMarker() {}

var _ room.Peer = (*Session)(nil)

// New constructs a Session bound to conn. log may be nil (a no-op
// logger is substituted); msgLimiter may be nil to disable per-message
// rate limiting.
func New(conn Conn, registry *room.Registry, log *zap.Logger, msgLimiter *rate.Limiter) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{
		conn:     conn,
		registry: registry,
		log:      log,
		msgLimit: msgLimiter,
	}
}

// Serve configures the connection, runs the heartbeat ticker, and
// blocks reading frames until the transport closes or errors. It
// always runs the leave/cleanup effect exactly once before returning,
// even after the read loop exits with an error. maxMessageSize <= 0
// disables the read-size limit; heartbeat <= 0 disables pinging.
func (s *Session) Serve(maxMessageSize int64, heartbeat time.Duration, readTimeout time.Duration) {
	metrics.ConnectionsTotal.Inc()

	if maxMessageSize > 0 {
		s.conn.SetReadLimit(maxMessageSize)
	}
	if readTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(readTimeout))
		s.conn.SetPongHandler(func(string) error {
			_ = s.conn.SetReadDeadline(time.Now().Add(readTimeout))
			return nil
		})
	}

	stopPing := make(chan struct{})
	if heartbeat > 0 {
		go s.pingLoop(heartbeat, stopPing)
	}

	s.readLoop()

	close(stopPing)
	s.leave()
}

func (s *Session) pingLoop(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(PingMessage, nil, time.Now().Add(interval))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (s *Session) readLoop() {
	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if s.msgLimit != nil && !s.msgLimit.Allow() {
			continue
		}
		switch mt {
		case TextMessage:
			s.handleText(data)
		case BinaryMessage:
			s.handleBinary(data)
		case CloseMessage:
			return
		}
	}
}

// handleText dispatches a decoded control packet. Parse failures are
// dropped silently, per the protocol's tolerance for malformed input.
func (s *Session) handleText(raw []byte) {
	in, err := protocol.Decode(raw)
	if err != nil {
		return
	}

	switch {
	case in.Create != nil:
		s.handleCreate(in.Create)
	case in.Join != nil:
		s.handleJoin(in.Join)
	case in.Leave != nil:
		s.handleLeave()
	}
}

func (s *Session) handleCreate(req *protocol.CreateRequest) {
	result, ok, err := s.registry.CreateRoom(s, req.Size)
	if err != nil {
		s.emitError(err.Error())
		return
	}
	if !ok {
		return // already a member of a room: silent no-op
	}

	s.setRoomID(result.RoomID)
	metrics.RoomsCreatedTotal.Inc()
	s.updateRoomGauges()

	if frame, err := protocol.EncodeCreateAck(result.RoomID); err == nil {
		s.writeFrame(frame)
	}
}

func (s *Session) handleJoin(req *protocol.JoinRequest) {
	result, ok, err := s.registry.JoinRoom(s, req.ID)
	if err != nil {
		s.emitError(err.Error())
		return
	}
	if !ok {
		return // already a member of a room: silent no-op
	}

	s.setRoomID(result.RoomID)
	s.updateRoomGauges()
	s.notifyJoin(result)
}

// notifyJoin sends the joiner its {size: index} frame and every other
// peer its size-omitted frame, in ascending room-index order.
func (s *Session) notifyJoin(result room.JoinResult) {
	joinerIdx := result.Index
	for i, p := range result.Peers {
		var frame []byte
		var err error
		if i == joinerIdx {
			idx := i
			frame, err = protocol.EncodeJoinNotify(&idx)
		} else {
			frame, err = protocol.EncodeJoinNotify(nil)
		}
		if err != nil {
			continue
		}
		writeTo(p, frame, s.log)
	}
}

func (s *Session) handleLeave() {
	roomID := s.getRoomID()
	result, ok := s.registry.LeaveRoom(s, roomID)
	if !ok {
		return
	}
	s.setRoomID("")
	s.onRoomLeft(result)
}

// leave runs the same effect as an explicit leave request, but is
// idempotent and safe to call unconditionally on connection teardown;
// it never emits anything back to this (closing) peer.
func (s *Session) leave() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	roomID := s.roomID
	s.roomID = ""
	s.mu.Unlock()

	result, ok := s.registry.LeaveRoom(s, roomID)
	if !ok {
		return
	}
	s.onRoomLeft(result)
}

func (s *Session) onRoomLeft(result room.LeaveResult) {
	if len(result.Peers) == 0 {
		metrics.RoomsDestroyedTotal.Inc()
	}
	s.updateRoomGauges()

	frame, err := protocol.EncodeLeaveNotify(result.Index)
	if err != nil {
		return
	}
	for _, p := range result.Peers {
		writeTo(p, frame, s.log)
	}
}

// handleBinary implements the data-plane address rewrite described by
// the wire protocol: byte 0 carries the destination on the way in and
// the rewritten source on the way out.
func (s *Session) handleBinary(payload []byte) {
	if len(payload) == 0 {
		return
	}

	roomID := s.getRoomID()
	if roomID == "" {
		return
	}

	peers, i, ok := s.registry.SnapshotWithPosition(s, roomID)
	if !ok {
		return
	}
	n := len(peers)

	dest := int(payload[0])
	payload[0] = byte(i)

	switch {
	case dest == Broadcast:
		metrics.MessagesRelayedTotal.WithLabelValues("broadcast").Inc()
		for idx, p := range peers {
			if idx == i {
				continue
			}
			writeBinaryTo(p, payload, s.log)
		}
	case dest < n:
		metrics.MessagesRelayedTotal.WithLabelValues("unicast").Inc()
		writeBinaryTo(peers[dest], payload, s.log)
	default:
		// dest >= n and dest != Broadcast: drop silently.
	}
}

func (s *Session) emitError(message string) {
	metrics.ProtocolErrorsTotal.WithLabelValues(message).Inc()
	frame, err := protocol.EncodeError(message)
	if err != nil {
		return
	}
	s.writeFrame(frame)
}

func (s *Session) writeFrame(data []byte) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(TextMessage, data); err != nil {
		s.log.Warn("write failed", zap.Error(err))
	}
}

func (s *Session) setRoomID(id string) {
	s.mu.Lock()
	s.roomID = id
	s.mu.Unlock()
}

func (s *Session) getRoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

func (s *Session) updateRoomGauges() {
	metrics.SetRooms(s.registry.RoomCount())
	metrics.SetPeers(s.registry.TotalOccupancy())
}

// writeTo delivers a text frame to any room.Peer, which in practice is
// always a *Session. A write failure is logged and otherwise ignored:
// it never removes the peer from its room (only that peer's own close
// does) and never propagates to the sender of the frame that triggered
// the notification burst.
func writeTo(p room.Peer, data []byte, log *zap.Logger) {
	target, ok := p.(*Session)
	if !ok {
		return
	}
	target.writeMu.Lock()
	err := target.conn.WriteMessage(TextMessage, data)
	target.writeMu.Unlock()
	if err != nil {
		log.Warn("notify write failed", zap.Error(err))
	}
}

func writeBinaryTo(p room.Peer, data []byte, log *zap.Logger) {
	target, ok := p.(*Session)
	if !ok {
		return
	}
	target.writeMu.Lock()
	err := target.conn.WriteMessage(BinaryMessage, data)
	target.writeMu.Unlock()
	if err != nil {
		log.Warn("relay write failed", zap.Error(err))
	}
}
