package handler

import (
	gamenet "github.com/oilytop/server/internal/net"
	"github.com/oilytop/server/internal/protocol"
)

// HandleHeartbeat processes Heartbeat (type 99). The payload is echoed back
// to the sender only, timestamp unchanged. Liveness was already refreshed
// by the read pump — every inbound frame counts, not just heartbeats.
func HandleHeartbeat(sess *gamenet.Session, msg any, deps *Deps) {
	hb := msg.(*protocol.Heartbeat)
	if authorize(sess, hb.PlayerID, deps) != nil {
		return
	}
	sess.Enqueue(protocol.MustEncode(protocol.MsgHeartbeat, hb))
}
