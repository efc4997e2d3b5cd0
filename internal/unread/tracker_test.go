// ABOUTME: Tests for unread count derivation and marking.
// ABOUTME: Covers foreign vs own messages, markers, markRead semantics, and the global badge.

package unread

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/voltdesk/chatsync/internal/chat"
)

var base = time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)

func foreign(id string, offset time.Duration) chat.Message {
	return chat.Message{ID: id, Sender: chat.Participant{UserID: "other"}, SentAt: base.Add(offset)}
}

func own(id string, offset time.Duration) chat.Message {
	return chat.Message{ID: id, Sender: chat.Participant{UserID: "me"}, SentAt: base.Add(offset)}
}

func TestObserve_CountsOnlyForeignMessages(t *testing.T) {
	tr := NewTracker("me", nil)

	tr.Observe("conv-1", []chat.Message{
		foreign("m1", time.Second),
		own("m2", 2*time.Second),
		foreign("m3", 3*time.Second),
	})

	assert.Equal(t, 2, tr.Count("conv-1"))
	assert.Equal(t, 2, tr.Total())
}

func TestObserve_RespectsLastReadMarker(t *testing.T) {
	tr := NewTracker("me", nil)
	tr.SetLastRead("conv-1", base.Add(2*time.Second))

	tr.Observe("conv-1", []chat.Message{
		foreign("m1", time.Second),     // before marker: read
		foreign("m2", 2*time.Second),   // at marker: read, "after" is strict
		foreign("m3", 3*time.Second),   // after marker: unread
	})

	assert.Equal(t, 1, tr.Count("conv-1"))
}

func TestMarkRead_ZeroesAndStaysZero(t *testing.T) {
	tr := NewTracker("me", nil)
	tr.now = func() time.Time { return base.Add(10 * time.Second) }

	tr.Observe("conv-1", []chat.Message{foreign("m1", time.Second), foreign("m2", 2*time.Second)})
	assert.Equal(t, 2, tr.Count("conv-1"))

	tr.MarkRead("conv-1")
	assert.Equal(t, 0, tr.Count("conv-1"))
	assert.Equal(t, 0, tr.Total())

	// Old messages re-observed after markRead stay read.
	tr.Observe("conv-1", []chat.Message{foreign("m3", 3*time.Second)})
	assert.Equal(t, 0, tr.Count("conv-1"))

	// A genuinely new foreign message counts again.
	tr.Observe("conv-1", []chat.Message{foreign("m4", 20*time.Second)})
	assert.Equal(t, 1, tr.Count("conv-1"))
}

func TestRecompute_FromFullTimeline(t *testing.T) {
	tr := NewTracker("me", nil)
	tr.SetLastRead("conv-1", base.Add(time.Second))

	n := tr.Recompute("conv-1", []chat.Message{
		foreign("m1", 0),
		foreign("m2", 2*time.Second),
		own("m3", 3*time.Second),
		foreign("m4", 4*time.Second),
	})

	assert.Equal(t, 2, n)
	assert.Equal(t, 2, tr.Count("conv-1"))
}

func TestRecompute_ReplacesPreviousCountInTotal(t *testing.T) {
	tr := NewTracker("me", nil)

	tr.Observe("conv-1", []chat.Message{foreign("m1", time.Second)})
	tr.Observe("conv-2", []chat.Message{foreign("m2", time.Second)})
	assert.Equal(t, 2, tr.Total())

	tr.Recompute("conv-1", []chat.Message{foreign("m1", time.Second), foreign("m3", 2*time.Second)})
	assert.Equal(t, 3, tr.Total())
}

func TestSetLastRead_NeverMovesBackwards(t *testing.T) {
	tr := NewTracker("me", nil)
	tr.SetLastRead("conv-1", base.Add(time.Hour))
	tr.SetLastRead("conv-1", base)

	tr.Observe("conv-1", []chat.Message{foreign("m1", time.Minute)})
	assert.Equal(t, 0, tr.Count("conv-1"), "older marker must not resurrect unread state")
}

func TestReset(t *testing.T) {
	tr := NewTracker("me", nil)
	tr.Observe("conv-1", []chat.Message{foreign("m1", time.Second)})

	tr.Reset()

	assert.Equal(t, 0, tr.Count("conv-1"))
	assert.Equal(t, 0, tr.Total())
}
