// ABOUTME: Tests for socket frame encoding and decoding.
// ABOUTME: Covers round-trips, boundary validation, and rejection of unknown events.

package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltdesk/chatsync/internal/chat"
)

func TestDecodeServerFrame_NewMessage(t *testing.T) {
	raw := []byte(`{
		"event": "chat:new-message",
		"data": {
			"id": "msg-1",
			"conversationId": "conv-1",
			"sender": {"userId": "u-2", "displayName": "Dana", "role": "staff"},
			"body": "your car is ready",
			"sentAt": "2026-08-30T10:15:00Z"
		}
	}`)

	ev, err := DecodeServerFrame(raw)
	require.NoError(t, err)

	nm, ok := ev.(NewMessage)
	require.True(t, ok, "expected NewMessage variant")
	assert.Equal(t, "msg-1", nm.Message.ID)
	assert.Equal(t, "conv-1", nm.Message.ConversationID)
	assert.Equal(t, "u-2", nm.Message.Sender.UserID)
	assert.Equal(t, chat.DeliverySent, nm.Message.Delivery)
}

func TestDecodeServerFrame_UnknownEvent(t *testing.T) {
	_, err := DecodeServerFrame([]byte(`{"event": "chat:typing", "data": {}}`))
	require.ErrorIs(t, err, ErrUnknownEvent)
}

func TestDecodeServerFrame_MalformedJSON(t *testing.T) {
	_, err := DecodeServerFrame([]byte(`{not json`))
	require.ErrorIs(t, err, ErrMalformedFrame)
}

func TestDecodeServerFrame_MissingMessageID(t *testing.T) {
	raw := []byte(`{
		"event": "chat:new-message",
		"data": {"conversationId": "conv-1", "body": "hi", "sentAt": "2026-08-30T10:15:00Z"}
	}`)

	_, err := DecodeServerFrame(raw)
	require.ErrorIs(t, err, ErrMalformedFrame)
}

func TestDecodeServerFrame_MissingConversationID(t *testing.T) {
	raw := []byte(`{
		"event": "chat:new-message",
		"data": {"id": "msg-1", "body": "hi", "sentAt": "2026-08-30T10:15:00Z"}
	}`)

	_, err := DecodeServerFrame(raw)
	require.ErrorIs(t, err, ErrMalformedFrame)
}

func TestEncodeJoin_RoundTrip(t *testing.T) {
	data, err := EncodeJoin("conv-7")
	require.NoError(t, err)

	var f struct {
		Event string `json:"event"`
		Data  struct {
			ConversationID string `json:"conversationId"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &f))
	assert.Equal(t, EventConversationJoin, f.Event)
	assert.Equal(t, "conv-7", f.Data.ConversationID)
}

func TestEncodeLeave_EmptyID(t *testing.T) {
	_, err := EncodeLeave("")
	require.Error(t, err)
}
