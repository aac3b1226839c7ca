package handler

import (
	"strings"

	"go.uber.org/zap"

	gamenet "github.com/oilytop/server/internal/net"
	"github.com/oilytop/server/internal/protocol"
)

// HandleChat processes ChatMessage (type 7). Rebroadcasts to all active
// sessions including the sender — chat echo is fine, unlike position echo.
func HandleChat(sess *gamenet.Session, msg any, deps *Deps) {
	cm := msg.(*protocol.ChatMessage)
	if authorize(sess, cm.PlayerID, deps) != nil {
		return
	}

	text := strings.TrimSpace(cm.Message)
	if text == "" {
		return
	}
	if max := deps.Config.World.MaxChatLen; max > 0 {
		if runes := []rune(text); len(runes) > max {
			text = string(runes[:max])
		}
	}

	p, err := deps.World.Get(cm.PlayerID)
	if err != nil {
		return
	}
	deps.Log.Info("聊天", zap.String("player", p.Name), zap.String("text", text))

	deps.Broadcast.Chat(protocol.ChatMessage{
		PlayerID: cm.PlayerID,
		Message:  text,
	})
}
