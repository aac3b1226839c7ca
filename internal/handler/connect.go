package handler

import (
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	gamenet "github.com/oilytop/server/internal/net"
	"github.com/oilytop/server/internal/protocol"
	"github.com/oilytop/server/internal/session"
	"github.com/oilytop/server/internal/world"
)

// defaultNameSeq feeds generated names for blank connect requests.
// A counter never collides, unlike a wall-clock suffix.
var defaultNameSeq atomic.Int64

// HandleConnect processes ConnectRequest (type 1) — the handshake.
// Creates the player, binds the session, replies ConnectResponse, announces
// PlayerJoin to everyone else, then sends a WorldState snapshot (including
// the caller, so the client's own entry is authoritative).
func HandleConnect(sess *gamenet.Session, msg any, deps *Deps) {
	req := msg.(*protocol.ConnectRequest)

	name := deps.World.NormalizeName(req.PlayerName)
	if name == "" {
		name = fmt.Sprintf("玩家%d", defaultNameSeq.Add(1))
	}

	p, err := deps.World.CreatePlayer(name)
	if err != nil {
		switch {
		case errors.Is(err, world.ErrDuplicateName):
			SendError(sess, "player name already in use")
		case errors.Is(err, world.ErrInvalidName):
			SendError(sess, "invalid player name")
		default:
			SendError(sess, "connect failed")
		}
		return // session stays Connecting; client may retry
	}

	if row, ok := deps.Profiles[p.Name]; ok {
		if err := deps.World.SetProgress(p.ID, row.Level, row.Exp); err == nil {
			p.Level = row.Level
			p.Exp = row.Exp
		}
	}

	if err := deps.Sessions.Bind(sess, p.ID); err != nil {
		// A sweep or shutdown can terminate the session between the
		// create and the bind. Roll the player back so it never sits in
		// the store without an owning session.
		_, _ = deps.World.Remove(p.ID)
		if errors.Is(err, session.ErrAlreadyBound) {
			SendError(sess, "session already bound")
		} else {
			SendError(sess, "connect failed")
		}
		return
	}

	deps.Log.Info(fmt.Sprintf("玩家連線完成  session=%d  玩家=%s(%d)", sess.ID, p.Name, p.ID),
		zap.Float64("x", p.X), zap.Float64("y", p.Y))

	sess.Enqueue(protocol.MustEncode(protocol.MsgConnectResponse, protocol.ConnectResponse{
		PlayerID: p.ID,
		X:        p.X,
		Y:        p.Y,
	}))

	deps.Broadcast.PlayerJoin(sess.ID, protocol.PlayerJoin{
		ID:        p.ID,
		Name:      p.Name,
		X:         p.X,
		Y:         p.Y,
		Direction: p.Direction,
	})

	sess.Enqueue(protocol.MustEncode(protocol.MsgWorldState, worldStateOf(deps.World)))
}

// worldStateOf builds a WorldState payload from a point-in-time snapshot,
// in insertion order.
func worldStateOf(store *world.Store) protocol.WorldState {
	snap := store.Snapshot()
	players := make([]protocol.PlayerData, 0, len(snap))
	for _, p := range snap {
		players = append(players, protocol.PlayerData{
			ID:        p.ID,
			Name:      p.Name,
			X:         p.X,
			Y:         p.Y,
			Direction: p.Direction,
		})
	}
	return protocol.WorldState{Players: players}
}
