package broadcast

import (
	"go.uber.org/zap"

	gamenet "github.com/oilytop/server/internal/net"
	"github.com/oilytop/server/internal/protocol"
)

// SessionSource yields the current fan-out target set.
type SessionSource interface {
	ActiveSessions() []*gamenet.Session
}

// Engine fans state-change events out to interested sessions. Each event is
// encoded once and enqueued onto every target's bounded outbound queue;
// a slow consumer never blocks the caller.
type Engine struct {
	sessions        SessionSource
	saturationLimit int32
	terminate       func(*gamenet.Session)
	log             *zap.Logger
}

// NewEngine creates the engine. saturationLimit is the number of
// consecutive dropped frames after which a target is treated as a slow or
// dead consumer (0 disables the check).
func NewEngine(sessions SessionSource, saturationLimit int, log *zap.Logger) *Engine {
	return &Engine{
		sessions:        sessions,
		saturationLimit: int32(saturationLimit),
		log:             log,
	}
}

// SetTerminator installs the callback used to close slow consumers. Wired
// to the session manager's Terminate at startup.
func (e *Engine) SetTerminator(fn func(*gamenet.Session)) {
	e.terminate = fn
}

// PlayerJoin notifies every active session except the joining player's own.
func (e *Engine) PlayerJoin(originID uint64, join protocol.PlayerJoin) {
	e.deliver(protocol.MustEncode(protocol.MsgPlayerJoin, join), originID)
}

// PlayerMove echoes a position update to every active session except the
// mover — never back to the sender, to avoid echo storms.
func (e *Engine) PlayerMove(originID uint64, move protocol.PlayerMove) {
	e.deliver(protocol.MustEncode(protocol.MsgPlayerMove, move), originID)
}

// PlayerLeave notifies every active session.
func (e *Engine) PlayerLeave(playerID int32) {
	e.deliver(protocol.MustEncode(protocol.MsgPlayerLeave, protocol.PlayerLeave{PlayerID: playerID}), 0)
}

// Chat rebroadcasts a chat line to every active session, sender included.
func (e *Engine) Chat(msg protocol.ChatMessage) {
	e.deliver(protocol.MustEncode(protocol.MsgChatMessage, msg), 0)
}

// deliver enqueues an encoded frame on every active session except the one
// with excludeID (0 excludes nobody). Targets whose queues stay saturated
// past the limit are terminated.
func (e *Engine) deliver(frame []byte, excludeID uint64) {
	for _, sess := range e.sessions.ActiveSessions() {
		if excludeID != 0 && sess.ID == excludeID {
			continue
		}
		sess.Enqueue(frame)
		if e.saturationLimit > 0 && sess.DropStreak() >= e.saturationLimit && e.terminate != nil {
			e.log.Warn("輸出佇列持續飽和，斷開慢速連線",
				zap.Uint64("session", sess.ID),
				zap.Int32("streak", sess.DropStreak()),
			)
			e.terminate(sess)
		}
	}
}
