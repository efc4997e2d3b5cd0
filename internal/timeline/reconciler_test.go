// ABOUTME: Tests for the message reconciler.
// ABOUTME: Covers dual-source merging, replay idempotence, buffering, flush, and expiry.

package timeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltdesk/chatsync/internal/chat"
	"github.com/voltdesk/chatsync/internal/store"
)

var base = time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)

func msg(conv, id string, offset time.Duration) chat.Message {
	return chat.Message{
		ID:             id,
		ConversationID: conv,
		Sender:         chat.Participant{UserID: "other"},
		Body:           "body " + id,
		SentAt:         base.Add(offset),
		Delivery:       chat.DeliverySent,
	}
}

func ids(timeline []chat.Message) []string {
	out := make([]string, len(timeline))
	for i, m := range timeline {
		out[i] = m.ID
	}
	return out
}

type fixture struct {
	store   *store.Store
	rec     *Reconciler
	ensured []string
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{store: store.New(nil)}
	f.rec = NewReconciler(f.store, func(id string) { f.ensured = append(f.ensured, id) }, opts, nil)
	return f
}

func (f *fixture) addConv(id string) {
	f.store.UpsertConversation(chat.Conversation{ID: id})
}

func TestIngestHistoryPage_MergesAndReportsFresh(t *testing.T) {
	f := newFixture(t, Options{})
	f.addConv("conv-1")

	fresh, err := f.rec.IngestHistoryPage("conv-1", []chat.Message{
		msg("conv-1", "m1", time.Second),
		msg("conv-1", "m3", 3*time.Second),
	})
	require.NoError(t, err)
	assert.Len(t, fresh, 2)
}

func TestIngestHistoryPage_ReplayIsNoOp(t *testing.T) {
	f := newFixture(t, Options{})
	f.addConv("conv-1")

	page := []chat.Message{msg("conv-1", "m1", time.Second), msg("conv-1", "m2", 2*time.Second)}

	_, err := f.rec.IngestHistoryPage("conv-1", page)
	require.NoError(t, err)

	fresh, err := f.rec.IngestHistoryPage("conv-1", page)
	require.NoError(t, err)
	assert.Empty(t, fresh, "resending the identical page must change nothing")
	assert.Len(t, f.store.Timeline("conv-1"), 2)
}

func TestSpecScenario_PageFillsGapThenDuplicatePush(t *testing.T) {
	f := newFixture(t, Options{})
	f.addConv("conv-1")

	// Cached [m1@T1, m3@T3].
	_, err := f.rec.IngestHistoryPage("conv-1", []chat.Message{
		msg("conv-1", "m1", time.Second),
		msg("conv-1", "m3", 3*time.Second),
	})
	require.NoError(t, err)

	// REST page returns [m1, m2, m3].
	_, err = f.rec.IngestHistoryPage("conv-1", []chat.Message{
		msg("conv-1", "m1", time.Second),
		msg("conv-1", "m2", 2*time.Second),
		msg("conv-1", "m3", 3*time.Second),
	})
	require.NoError(t, err)

	// Live push delivers m2 again a second later.
	fresh, err := f.rec.IngestLivePush(msg("conv-1", "m2", 2*time.Second))
	require.NoError(t, err)
	assert.Empty(t, fresh)

	assert.Equal(t, []string{"m1", "m2", "m3"}, ids(f.store.Timeline("conv-1")))
}

func TestIngestLivePush_OrderIndependentOfArrival(t *testing.T) {
	f := newFixture(t, Options{})
	f.addConv("conv-1")

	_, err := f.rec.IngestLivePush(msg("conv-1", "m2", 2*time.Second))
	require.NoError(t, err)
	_, err = f.rec.IngestLivePush(msg("conv-1", "m1", time.Second))
	require.NoError(t, err)

	assert.Equal(t, []string{"m1", "m2"}, ids(f.store.Timeline("conv-1")))
}

func TestIngestLivePush_ReconnectReplayDropped(t *testing.T) {
	f := newFixture(t, Options{})
	f.addConv("conv-1")

	push := msg("conv-1", "m1", time.Second)
	fresh, err := f.rec.IngestLivePush(push)
	require.NoError(t, err)
	require.Len(t, fresh, 1)

	fresh, err = f.rec.IngestLivePush(push)
	require.NoError(t, err)
	assert.Empty(t, fresh)
	assert.Len(t, f.store.Timeline("conv-1"), 1)
}

func TestIngestLivePush_UnknownConversationBuffersAndEnsures(t *testing.T) {
	f := newFixture(t, Options{})

	fresh, err := f.rec.IngestLivePush(msg("conv-9", "m1", time.Second))
	require.NoError(t, err)
	assert.Empty(t, fresh)
	assert.Equal(t, 1, f.rec.PendingCount("conv-9"))
	assert.Equal(t, []string{"conv-9"}, f.ensured, "first buffered push must request an ensure fetch")

	// Further pushes buffer without re-requesting.
	_, err = f.rec.IngestLivePush(msg("conv-9", "m2", 2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, []string{"conv-9"}, f.ensured)
	assert.Equal(t, 2, f.rec.PendingCount("conv-9"))
}

func TestConversationResolved_FlushesBufferInOrder(t *testing.T) {
	f := newFixture(t, Options{})

	_, err := f.rec.IngestLivePush(msg("conv-9", "m2", 2*time.Second))
	require.NoError(t, err)
	_, err = f.rec.IngestLivePush(msg("conv-9", "m1", time.Second))
	require.NoError(t, err)

	f.addConv("conv-9")
	fresh, err := f.rec.ConversationResolved("conv-9")
	require.NoError(t, err)
	assert.Len(t, fresh, 2)
	assert.Equal(t, []string{"m1", "m2"}, ids(f.store.Timeline("conv-9")))
	assert.Equal(t, 0, f.rec.PendingCount("conv-9"))
}

func TestBuffer_BoundedPerConversation(t *testing.T) {
	f := newFixture(t, Options{PendingBufferSize: 3})

	for i := 0; i < 5; i++ {
		_, err := f.rec.IngestLivePush(msg("conv-9", string(rune('a'+i)), time.Duration(i)*time.Second))
		require.NoError(t, err)
	}

	assert.Equal(t, 3, f.rec.PendingCount("conv-9"), "buffer keeps only the most recent messages")

	f.addConv("conv-9")
	fresh, err := f.rec.ConversationResolved("conv-9")
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "d", "e"}, ids(fresh))
}

func TestExpirePending_DropsStaleEntries(t *testing.T) {
	f := newFixture(t, Options{PendingBufferTTL: 10 * time.Second})
	now := base
	f.rec.now = func() time.Time { return now }

	_, err := f.rec.IngestLivePush(msg("conv-9", "m1", time.Second))
	require.NoError(t, err)

	now = now.Add(time.Minute)
	dropped := f.rec.ExpirePending()

	assert.Equal(t, 1, dropped)
	assert.Equal(t, 0, f.rec.PendingCount("conv-9"))
}

func TestConversationResolved_SkipsExpiredEntries(t *testing.T) {
	f := newFixture(t, Options{PendingBufferTTL: 10 * time.Second})
	now := base
	f.rec.now = func() time.Time { return now }

	_, err := f.rec.IngestLivePush(msg("conv-9", "m1", time.Second))
	require.NoError(t, err)
	now = now.Add(time.Minute)
	_, err = f.rec.IngestLivePush(msg("conv-9", "m2", 2*time.Second))
	require.NoError(t, err)

	f.addConv("conv-9")
	fresh, err := f.rec.ConversationResolved("conv-9")
	require.NoError(t, err)
	assert.Equal(t, []string{"m2"}, ids(fresh), "entries past the TTL are discarded, not merged")
}

func TestIngestLivePush_RejectsInvalidMessage(t *testing.T) {
	f := newFixture(t, Options{})
	f.addConv("conv-1")

	_, err := f.rec.IngestLivePush(chat.Message{ConversationID: "conv-1", Body: "x"})
	assert.ErrorIs(t, err, chat.ErrEmptyMessageID)
}
