// ABOUTME: Tests for room subscription reconciliation.
// ABOUTME: Covers desired-set diffing, reconnect resubscribe, and duplicate-join suppression.

package rooms

import (
	"encoding/json"
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSender records sent frames and can simulate a dead transport.
type fakeSender struct {
	frames []sentFrame
	err    error
}

type sentFrame struct {
	Event string
	Room  string
}

func (f *fakeSender) Send(data []byte) error {
	if f.err != nil {
		return f.err
	}
	var frame struct {
		Event string `json:"event"`
		Data  struct {
			ConversationID string `json:"conversationId"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		return err
	}
	f.frames = append(f.frames, sentFrame{Event: frame.Event, Room: frame.Data.ConversationID})
	return nil
}

func (f *fakeSender) joins() []string {
	var out []string
	for _, fr := range f.frames {
		if fr.Event == "conversation:join" {
			out = append(out, fr.Room)
		}
	}
	return out
}

func (f *fakeSender) leaves() []string {
	var out []string
	for _, fr := range f.frames {
		if fr.Event == "conversation:leave" {
			out = append(out, fr.Room)
		}
	}
	return out
}

func TestSetDesiredRooms_JoinsAdditions(t *testing.T) {
	s := &fakeSender{}
	m := NewManager(s, nil)

	m.SetDesiredRooms("conv-1")

	assert.Equal(t, []string{"conv-1"}, s.joins())
	assert.Empty(t, s.leaves())
}

func TestSetDesiredRooms_LeavesRemovals(t *testing.T) {
	s := &fakeSender{}
	m := NewManager(s, nil)

	m.SetDesiredRooms("conv-1")
	m.SetDesiredRooms("conv-2")

	assert.Equal(t, []string{"conv-1", "conv-2"}, s.joins())
	assert.Equal(t, []string{"conv-1"}, s.leaves())
	assert.Equal(t, []string{"conv-2"}, m.JoinedRooms())
}

func TestSetDesiredRooms_NoDuplicateJoinForSameRoom(t *testing.T) {
	s := &fakeSender{}
	m := NewManager(s, nil)

	// Rapid open/close/open of the same conversation.
	m.SetDesiredRooms("conv-1")
	m.SetDesiredRooms("conv-1")
	m.SetDesiredRooms("conv-1")

	assert.Equal(t, []string{"conv-1"}, s.joins(), "repeated declarations must not re-join")
}

func TestHandleConnected_ResubscribesAllDesired(t *testing.T) {
	s := &fakeSender{}
	m := NewManager(s, nil)

	m.SetDesiredRooms("conv-a", "conv-b")
	m.HandleDisconnected()
	assert.Empty(t, m.JoinedRooms())

	m.HandleConnected()

	joined := m.JoinedRooms()
	sort.Strings(joined)
	assert.Equal(t, []string{"conv-a", "conv-b"}, joined)

	// Each room joined exactly once per session: once at declaration,
	// once after reconnect.
	joins := s.joins()
	count := map[string]int{}
	for _, r := range joins {
		count[r]++
	}
	assert.Equal(t, 2, count["conv-a"])
	assert.Equal(t, 2, count["conv-b"])
}

func TestJoin_FailedSendRetriedOnReconnect(t *testing.T) {
	s := &fakeSender{err: errors.New("not connected")}
	m := NewManager(s, nil)

	m.SetDesiredRooms("conv-1")
	assert.Empty(t, m.JoinedRooms(), "failed join must not mark the room joined")

	s.err = nil
	m.HandleConnected()

	require.Equal(t, []string{"conv-1"}, s.joins())
	assert.Equal(t, []string{"conv-1"}, m.JoinedRooms())
}

func TestSetDesiredRooms_IgnoresEmptyIDs(t *testing.T) {
	s := &fakeSender{}
	m := NewManager(s, nil)

	m.SetDesiredRooms("", "conv-1", "")

	assert.Equal(t, []string{"conv-1"}, s.joins())
}
