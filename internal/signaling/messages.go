package signaling

import (
	"encoding/json"
	"fmt"
)

// ClientMessageType enumerates the inbound message types a client may send.
type ClientMessageType string

const (
	ClientMessageJoin       ClientMessageType = "join"
	ClientMessageOffer      ClientMessageType = "offer"
	ClientMessageAnswer     ClientMessageType = "answer"
	ClientMessageCandidate  ClientMessageType = "icecandidate"
	ClientMessageDisconnect ClientMessageType = "disconnect"
)

// ClientMessage is the inbound wire envelope.
//
// Data carries the opaque SDP/ICE payload for offer/answer/icecandidate. The
// relay validates its outer shape (a JSON object or array) and nothing else.
type ClientMessage struct {
	Type ClientMessageType `json:"type"`
	ID   string            `json:"id"`
	Data json.RawMessage   `json:"data,omitempty"`
}

// ParseClientMessage decodes and validates an inbound envelope.
func ParseClientMessage(data []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ClientMessage{}, err
	}
	switch msg.Type {
	case ClientMessageJoin, ClientMessageOffer, ClientMessageAnswer,
		ClientMessageCandidate, ClientMessageDisconnect:
		return msg, nil
	default:
		return ClientMessage{}, fmt.Errorf("unsupported message type %q", msg.Type)
	}
}

// ServerMessageType enumerates the outbound message types.
type ServerMessageType string

const (
	ServerMessageError         ServerMessageType = "error"
	ServerMessageSuccess       ServerMessageType = "success"
	ServerMessageRequestOffer  ServerMessageType = "request offer"
	ServerMessageRequestAnswer ServerMessageType = "request answer"
	ServerMessageSDPAnswer     ServerMessageType = "sdp answer"
	ServerMessageCandidate     ServerMessageType = "icecandidate"
)

// Status strings carried in the message field of outbound envelopes.
const (
	StatusUndefinedID         = "undefined id"
	StatusIDNotFound          = "id not found"
	StatusRoomFull            = "room is full"
	StatusWaitingOther        = "waiting other"
	StatusConnectionStarted   = "connection started"
	StatusNoWaitingOffer      = "no waiting offer"
	StatusNoWaitingAnswer     = "no waiting answer"
	StatusNoWaitingCandidate  = "no waiting candidate"
	StatusPermissionDenied    = "permission denied"
	StatusInvalidOffer        = "invalid offer"
	StatusInvalidAnswer       = "invalid answer"
	StatusInvalidMessage      = "invalid message"
	StatusConnectedPeerServer = "connected peer server"
)

// ServerMessage is the outbound wire envelope. Message is null for plain
// success acknowledgements, a status string for errors and join outcomes, or
// the opaque relayed payload.
type ServerMessage struct {
	Type    ServerMessageType `json:"type"`
	Message any               `json:"message"`
	ID      string            `json:"id,omitempty"`
}

func statusMessage(t ServerMessageType, status, roomID string) ServerMessage {
	return ServerMessage{Type: t, Message: status, ID: roomID}
}

func errorMessage(status, roomID string) ServerMessage {
	return statusMessage(ServerMessageError, status, roomID)
}

func successAck(roomID string) ServerMessage {
	return ServerMessage{Type: ServerMessageSuccess, ID: roomID}
}

func payloadMessage(t ServerMessageType, payload json.RawMessage, roomID string) ServerMessage {
	// A missing payload still marshals as an explicit null.
	var body any
	if len(payload) != 0 {
		body = payload
	}
	return ServerMessage{Type: t, Message: body, ID: roomID}
}
