package net

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/oilytop/server/internal/protocol"
)

// ConnHandler receives session lifecycle events and inbound frames.
// HandleFrame is invoked synchronously on the session's read goroutine, so
// per-connection inbound order is preserved.
type ConnHandler interface {
	HandleOpen(s *Session)
	HandleFrame(s *Session, frame []byte)
	HandleClose(s *Session)
}

// Session represents a single client connection. Network I/O runs in
// dedicated goroutines: the read pump dispatches frames inline, the write
// pump drains OutQueue FIFO. Shared state is atomic; the conn is only
// written by the write pump.
type Session struct {
	ID   uint64
	IP   string
	conn *websocket.Conn

	state    atomic.Int32 // protocol.SessionState
	playerID atomic.Int32 // 0 until bound
	lastSeen atomic.Int64 // unix nano of last inbound frame

	// OutQueue is drained by the write pump. Enqueue never blocks: on a
	// full queue the oldest frame is dropped.
	OutQueue   chan []byte
	dropStreak atomic.Int32 // consecutive Enqueue calls that dropped a frame

	writeTimeout time.Duration

	closeCh   chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	log *zap.Logger
}

// NewSession wraps an upgraded connection. conn may be nil in tests that
// only exercise queueing and state transitions.
func NewSession(conn *websocket.Conn, id uint64, outSize int, writeTimeout time.Duration, log *zap.Logger) *Session {
	s := &Session{
		ID:           id,
		conn:         conn,
		OutQueue:     make(chan []byte, outSize),
		writeTimeout: writeTimeout,
		closeCh:      make(chan struct{}),
		log:          log.With(zap.Uint64("session", id)),
	}
	if conn != nil {
		s.IP = conn.RemoteAddr().String()
	}
	s.state.Store(int32(protocol.StateConnecting))
	s.Touch()
	return s
}

func (s *Session) State() protocol.SessionState {
	return protocol.SessionState(s.state.Load())
}

func (s *Session) SetState(st protocol.SessionState) {
	s.state.Store(int32(st))
}

// PlayerID returns the bound player id, or 0 while Connecting.
func (s *Session) PlayerID() int32 {
	return s.playerID.Load()
}

func (s *Session) SetPlayerID(id int32) {
	s.playerID.Store(id)
}

// Touch refreshes the liveness timestamp. Called for every inbound frame.
func (s *Session) Touch() {
	s.lastSeen.Store(time.Now().UnixNano())
}

// LastSeen returns the time of the last inbound frame.
func (s *Session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

// Enqueue queues a frame for the write pump without blocking the caller.
// When the queue is full the oldest queued frame is discarded — stale
// positions and chat are acceptable to lose; blocking the broadcaster or
// growing memory is not. Returns false when the session is already closed.
func (s *Session) Enqueue(frame []byte) bool {
	if s.closed.Load() {
		return false
	}
	dropped := false
	for {
		select {
		case s.OutQueue <- frame:
			if dropped {
				s.dropStreak.Add(1)
			} else {
				s.dropStreak.Store(0)
			}
			return true
		default:
		}
		// Queue full: discard the oldest frame and retry.
		select {
		case <-s.OutQueue:
			dropped = true
		default:
		}
	}
}

// DropStreak reports how many consecutive Enqueue calls had to discard a
// frame. The broadcast engine terminates sessions whose streak exceeds the
// configured saturation limit.
func (s *Session) DropStreak() int32 {
	return s.dropStreak.Load()
}

// MarkActive transitions Connecting to Active. Returns false if the
// session has already left Connecting, so a bind racing a terminate
// loses cleanly instead of resurrecting a closed session.
func (s *Session) MarkActive() bool {
	return s.state.CompareAndSwap(int32(protocol.StateConnecting), int32(protocol.StateActive))
}

// MarkClosing transitions the lifecycle state to Closing. Returns false if
// the session is already Closing or Closed, so concurrent terminate calls
// collapse to one effect.
func (s *Session) MarkClosing() bool {
	for {
		st := s.state.Load()
		if st >= int32(protocol.StateClosing) {
			return false
		}
		if s.state.CompareAndSwap(st, int32(protocol.StateClosing)) {
			return true
		}
	}
}

// Close shuts the transport down. Idempotent; safe from any goroutine.
// Lifecycle bookkeeping (store removal, leave broadcast) is the session
// manager's job, not ours.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.closeCh)
		if s.conn != nil {
			deadline := time.Now().Add(time.Second)
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			_ = s.conn.Close()
		}
	})
}

func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// readLoop runs on the connection's HTTP goroutine. It reads text frames
// and hands them to the ConnHandler synchronously. Binary frames are logged
// and skipped; the connection stays open.
func (s *Session) readLoop(h ConnHandler, readLimit int64) {
	defer func() {
		s.Close()
		h.HandleClose(s)
	}()

	if readLimit > 0 {
		s.conn.SetReadLimit(readLimit)
	}
	for {
		msgType, payload, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closed.Load() {
				s.log.Debug("讀取錯誤", zap.Error(err))
			}
			return
		}
		if msgType != websocket.TextMessage {
			s.log.Warn("忽略非文字幀", zap.Int("type", msgType))
			continue
		}
		s.Touch()
		h.HandleFrame(s, payload)
	}
}

// writeLoop runs in its own goroutine, draining OutQueue to the websocket.
// A write failure is fatal to this connection only.
func (s *Session) writeLoop() {
	defer s.Close()
	for {
		select {
		case frame := <-s.OutQueue:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				if !s.closed.Load() {
					s.log.Debug("寫入錯誤", zap.Error(err))
				}
				return
			}
		case <-s.closeCh:
			return
		}
	}
}
