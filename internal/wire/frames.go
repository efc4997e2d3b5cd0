// ABOUTME: Socket frame encoding and decoding for the live chat protocol.
// ABOUTME: Tagged variants per event type, validated at the boundary.

package wire

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/voltdesk/chatsync/internal/chat"
)

// Event names on the wire. Client-to-server events manage room membership;
// chat:new-message is the only server-to-client event in scope.
const (
	EventConversationJoin  = "conversation:join"
	EventConversationLeave = "conversation:leave"
	EventNewMessage        = "chat:new-message"
)

// Decode errors.
var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownEvent   = errors.New("unknown event")
)

// frame is the envelope every socket message travels in.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// roomPayload carries the conversation id for join/leave events.
type roomPayload struct {
	ConversationID string `json:"conversationId"`
}

// ServerEvent is a decoded, validated server-to-client frame.
type ServerEvent interface {
	serverEvent()
}

// NewMessage is a chat:new-message push.
type NewMessage struct {
	Message chat.Message
}

func (NewMessage) serverEvent() {}

// DecodeServerFrame parses a raw frame from the socket into a tagged variant.
// Frames that do not parse, carry an unknown event name, or fail entity
// validation are rejected here so downstream merge logic never sees them.
func DecodeServerFrame(data []byte) (ServerEvent, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch f.Event {
	case EventNewMessage:
		var msg chat.Message
		if err := json.Unmarshal(f.Data, &msg); err != nil {
			return nil, fmt.Errorf("%w: %s payload: %v", ErrMalformedFrame, f.Event, err)
		}
		if err := msg.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %s payload: %v", ErrMalformedFrame, f.Event, err)
		}
		if msg.ConversationID == "" {
			return nil, fmt.Errorf("%w: %s payload: missing conversationId", ErrMalformedFrame, f.Event)
		}
		// Anything pushed by the server has been delivered by definition.
		msg.Delivery = chat.DeliverySent
		return NewMessage{Message: msg}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, f.Event)
	}
}

// EncodeJoin builds a conversation:join frame.
func EncodeJoin(conversationID string) ([]byte, error) {
	return encodeRoomFrame(EventConversationJoin, conversationID)
}

// EncodeLeave builds a conversation:leave frame.
func EncodeLeave(conversationID string) ([]byte, error) {
	return encodeRoomFrame(EventConversationLeave, conversationID)
}

func encodeRoomFrame(event, conversationID string) ([]byte, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("encoding %s: conversation id is empty", event)
	}
	data, err := json.Marshal(roomPayload{ConversationID: conversationID})
	if err != nil {
		return nil, err
	}
	return json.Marshal(frame{Event: event, Data: data})
}
