package handler

import (
	"errors"

	"go.uber.org/zap"

	"github.com/oilytop/server/internal/broadcast"
	"github.com/oilytop/server/internal/config"
	gamenet "github.com/oilytop/server/internal/net"
	"github.com/oilytop/server/internal/persist"
	"github.com/oilytop/server/internal/protocol"
	"github.com/oilytop/server/internal/session"
	"github.com/oilytop/server/internal/world"
)

// ErrUnauthorized reports a message naming a playerId other than the
// session's bound id. The message is dropped; the session stays open.
var ErrUnauthorized = errors.New("player id does not match session binding")

// Deps holds shared dependencies injected into all message handlers.
type Deps struct {
	World     *world.Store
	Sessions  *session.Manager
	Broadcast *broadcast.Engine
	Config    *config.Config
	Log       *zap.Logger

	// Profiles are persisted records loaded at startup, keyed by
	// normalized name. A returning player gets their level and
	// experience back on connect. Nil when running memory-only.
	Profiles map[string]persist.PlayerRow
}

// RegisterAll registers all message handlers into the registry.
func RegisterAll(reg *Registry) {
	reg.Register(protocol.MsgConnectRequest,
		[]protocol.SessionState{protocol.StateConnecting},
		HandleConnect,
	)

	activeOnly := []protocol.SessionState{protocol.StateActive}
	reg.Register(protocol.MsgPlayerMove, activeOnly, HandleMove)
	reg.Register(protocol.MsgChatMessage, activeOnly, HandleChat)
	reg.Register(protocol.MsgHeartbeat, activeOnly, HandleHeartbeat)
}

// authorize enforces the per-player single-writer discipline: only the
// session bound to a player may act for it.
func authorize(sess *gamenet.Session, playerID int32, deps *Deps) error {
	if playerID != sess.PlayerID() {
		deps.Log.Warn("越權操作已丟棄",
			zap.Uint64("session", sess.ID),
			zap.Int32("bound", sess.PlayerID()),
			zap.Int32("claimed", playerID),
		)
		return ErrUnauthorized
	}
	return nil
}

// SendError enqueues an Error frame (type 999) on the session.
func SendError(sess *gamenet.Session, text string) {
	sess.Enqueue(protocol.MustEncode(protocol.MsgError, protocol.ErrorMessage{Error: text}))
}
