package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Message type codes carried in the envelope "type" field.
const (
	MsgConnectRequest  = 1
	MsgConnectResponse = 2
	MsgPlayerMove      = 3
	MsgPlayerJoin      = 4
	MsgPlayerLeave     = 5
	MsgWorldState      = 6
	MsgChatMessage     = 7
	MsgHeartbeat       = 99
	MsgError           = 999
)

var (
	// ErrMalformedEnvelope reports a frame that is not a well-formed
	// {type, data} envelope. Recoverable per message.
	ErrMalformedEnvelope = errors.New("malformed envelope")

	// ErrUnknownType reports an envelope with an unrecognized type code.
	// Recoverable per message.
	ErrUnknownType = errors.New("unknown message type")
)

// envelope is the wire shape of every frame: {"type": <int>, "data": ...}.
type envelope struct {
	Type int             `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ConnectRequest (type 1, client→server). PlayerName is optional; the
// server generates a default name when it is blank or absent.
type ConnectRequest struct {
	PlayerName string `json:"playerName,omitempty"`
}

// ConnectResponse (type 2, server→client). Sent once after a successful
// handshake with the assigned player id and spawn position.
type ConnectResponse struct {
	PlayerID int32   `json:"playerId"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

// PlayerMove (type 3). Client→server position report, echoed server→others.
// Direction is in degrees, [0, 360), and is omitted when the client did not
// send one.
type PlayerMove struct {
	PlayerID  int32    `json:"playerId"`
	X         float64  `json:"x"`
	Y         float64  `json:"y"`
	Direction *float64 `json:"direction,omitempty"`
}

// PlayerData is one player entry inside WorldState and PlayerJoin.
// Direction is in degrees, [0, 360).
type PlayerData struct {
	ID        int32   `json:"id"`
	Name      string  `json:"name"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Direction float64 `json:"direction"`
}

// PlayerJoin (type 4, server→client broadcast). Same fields as PlayerData.
type PlayerJoin PlayerData

// PlayerLeave (type 5, server→client broadcast).
type PlayerLeave struct {
	PlayerID int32 `json:"playerId"`
}

// WorldState (type 6, server→client). Players are in insertion order.
type WorldState struct {
	Players []PlayerData `json:"players"`
}

// ChatMessage (type 7). Client→server, rebroadcast to all active sessions
// including the sender.
type ChatMessage struct {
	PlayerID int32  `json:"playerId"`
	Message  string `json:"message"`
}

// Heartbeat (type 99, bidirectional). Timestamp is echoed back unchanged.
type Heartbeat struct {
	PlayerID  int32 `json:"playerId"`
	Timestamp int64 `json:"timestamp"`
}

// ErrorMessage (type 999, server→client).
type ErrorMessage struct {
	Error string `json:"error"`
}

// Encode wraps a payload in the {type, data} envelope and marshals it to a
// text frame. Absent optional fields are omitted, never emitted as null.
func Encode(msgType int, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode payload type=%d: %w", msgType, err)
	}
	return json.Marshal(envelope{Type: msgType, Data: raw})
}

// MustEncode is Encode for payloads built by the server itself, where a
// marshal failure is a programming error.
func MustEncode(msgType int, data any) []byte {
	b, err := Encode(msgType, data)
	if err != nil {
		panic(err)
	}
	return b
}

// Decode parses a text frame into its type code and typed payload.
// The payload is returned as a pointer to one of the structs above,
// selected exhaustively by type code. Returns ErrMalformedEnvelope for
// frames that are not valid envelopes and ErrUnknownType for unrecognized
// codes; both are recoverable per message.
func Decode(frame []byte) (int, any, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	var payload any
	switch env.Type {
	case MsgConnectRequest:
		payload = &ConnectRequest{}
	case MsgConnectResponse:
		payload = &ConnectResponse{}
	case MsgPlayerMove:
		payload = &PlayerMove{}
	case MsgPlayerJoin:
		payload = &PlayerJoin{}
	case MsgPlayerLeave:
		payload = &PlayerLeave{}
	case MsgWorldState:
		payload = &WorldState{}
	case MsgChatMessage:
		payload = &ChatMessage{}
	case MsgHeartbeat:
		payload = &Heartbeat{}
	case MsgError:
		payload = &ErrorMessage{}
	default:
		return env.Type, nil, fmt.Errorf("%w: %d", ErrUnknownType, env.Type)
	}

	// Absent data is tolerated — all-optional payloads decode from nothing.
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, payload); err != nil {
			return env.Type, nil, fmt.Errorf("%w: bad payload for type %d: %v",
				ErrMalformedEnvelope, env.Type, err)
		}
	}
	return env.Type, payload, nil
}
