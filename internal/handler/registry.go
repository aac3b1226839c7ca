package handler

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	gamenet "github.com/oilytop/server/internal/net"
	"github.com/oilytop/server/internal/protocol"
)

// HandlerFunc is the callback signature for message handlers. msg is the
// decoded payload pointer for the registered type code.
type HandlerFunc func(sess *gamenet.Session, msg any, deps *Deps)

type handlerEntry struct {
	fn            HandlerFunc
	allowedStates map[protocol.SessionState]bool
}

// Registry maps envelope type codes to handlers with state-based access
// control. Dispatch runs on the owning session's read goroutine, so
// handlers never race on the same player.
type Registry struct {
	handlers map[int]*handlerEntry
	deps     *Deps
	log      *zap.Logger
}

func NewRegistry(deps *Deps) *Registry {
	return &Registry{
		handlers: make(map[int]*handlerEntry),
		deps:     deps,
		log:      deps.Log,
	}
}

// Register maps a type code to a handler, restricted to the given states.
func (reg *Registry) Register(msgType int, states []protocol.SessionState, fn HandlerFunc) {
	allowed := make(map[protocol.SessionState]bool, len(states))
	for _, s := range states {
		allowed[s] = true
	}
	reg.handlers[msgType] = &handlerEntry{fn: fn, allowedStates: allowed}
}

// Dispatch decodes one inbound frame and routes it by type code. Every
// failure mode here is recoverable per message: malformed or unknown frames
// are answered with an Error frame, disallowed states likewise, and handler
// panics are recovered. Only the transport closing ends the connection.
func (reg *Registry) Dispatch(sess *gamenet.Session, frame []byte) {
	msgType, payload, err := protocol.Decode(frame)
	if err != nil {
		switch {
		case errors.Is(err, protocol.ErrUnknownType):
			reg.log.Debug("未知訊息類型", zap.Int("type", msgType), zap.Uint64("session", sess.ID))
			SendError(sess, "unknown message type")
		default:
			reg.log.Debug("訊息格式錯誤", zap.Uint64("session", sess.ID), zap.Error(err))
			SendError(sess, "malformed message")
		}
		return
	}

	entry, ok := reg.handlers[msgType]
	if !ok {
		// Decodable but server→client only; clients must not send it.
		reg.log.Debug("用戶端不可傳送此訊息類型", zap.Int("type", msgType))
		SendError(sess, "unsupported message type")
		return
	}

	state := sess.State()
	if !entry.allowedStates[state] {
		reg.log.Warn("訊息在此狀態下不允許",
			zap.Int("type", msgType),
			zap.String("state", state.String()),
			zap.Uint64("session", sess.ID),
		)
		SendError(sess, fmt.Sprintf("message type %d not allowed in state %s", msgType, state))
		return
	}

	reg.safeCall(entry.fn, sess, payload, msgType)
}

// safeCall executes a handler with panic recovery so a single bad message
// can never take down the connection or the process.
func (reg *Registry) safeCall(fn HandlerFunc, sess *gamenet.Session, msg any, msgType int) {
	defer func() {
		if rec := recover(); rec != nil {
			reg.log.Error("處理器 panic 已恢復",
				zap.Int("type", msgType),
				zap.Uint64("session", sess.ID),
				zap.Any("panic", rec),
			)
		}
	}()
	fn(sess, msg, reg.deps)
}
