package handler

import (
	"go.uber.org/zap"

	gamenet "github.com/oilytop/server/internal/net"
	"github.com/oilytop/server/internal/protocol"
)

// HandleMove processes PlayerMove (type 3). Writes the store through the
// single-writer path and fans the authoritative position out to all other
// active sessions — never back to the sender.
func HandleMove(sess *gamenet.Session, msg any, deps *Deps) {
	mv := msg.(*protocol.PlayerMove)
	if authorize(sess, mv.PlayerID, deps) != nil {
		return
	}

	if err := deps.World.UpdatePosition(mv.PlayerID, mv.X, mv.Y, mv.Direction); err != nil {
		// Stale id during disconnect — drop, the session is on its way out.
		deps.Log.Debug("移動目標不存在", zap.Int32("player", mv.PlayerID))
		return
	}

	// Re-read so the fan-out carries the clamped, normalized values.
	p, err := deps.World.Get(mv.PlayerID)
	if err != nil {
		return
	}
	dir := p.Direction
	deps.Broadcast.PlayerMove(sess.ID, protocol.PlayerMove{
		PlayerID:  p.ID,
		X:         p.X,
		Y:         p.Y,
		Direction: &dir,
	})
}
