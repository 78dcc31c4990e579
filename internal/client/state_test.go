// ABOUTME: Tests for the merge function and the client state store
// ABOUTME: Push idempotence and summary refresh run against a fake fetcher, no socket

package client

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/courier/internal/event"
)

func TestMerge_AppendsNewMessage(t *testing.T) {
	msgs := []event.Message{{ID: 1, Content: "first"}}

	merged := Merge(msgs, event.Message{ID: 2, Content: "second"})

	require.Len(t, merged, 2)
	assert.Equal(t, int64(2), merged[1].ID)
}

func TestMerge_DuplicateIDLeavesListUnchanged(t *testing.T) {
	msgs := []event.Message{{ID: 1, Content: "first"}, {ID: 2, Content: "second"}}

	merged := Merge(msgs, event.Message{ID: 2, Content: "second again"})

	require.Len(t, merged, 2)
	assert.Equal(t, "second", merged[1].Content)
}

func TestMerge_DoesNotMutateInput(t *testing.T) {
	msgs := []event.Message{{ID: 1, Content: "first"}}

	merged := Merge(msgs, event.Message{ID: 2})
	merged[0].Content = "changed"

	assert.Equal(t, "first", msgs[0].Content)
	assert.Len(t, msgs, 1)
}

func TestMerge_EmptyList(t *testing.T) {
	merged := Merge(nil, event.Message{ID: 1})
	require.Len(t, merged, 1)
}

func TestStateStore_PushIdempotence(t *testing.T) {
	fetcher := newFakeFetcher()
	store := NewStateStore(fetcher, time.Hour, nil)
	defer store.Close()

	require.NoError(t, store.SetActive(context.Background(), 1))

	msg := event.Message{ID: 10, ConversationID: 1, SenderID: 2, Content: "once"}
	assert.True(t, store.Apply(event.NewMessageEvent(msg)))
	assert.False(t, store.Apply(event.NewMessageEvent(msg)), "duplicate push should report no change")

	msgs := store.Messages()
	require.Len(t, msgs, 1, "duplicate push must not produce a second entry")
	assert.Equal(t, "once", msgs[0].Content)
}

func TestStateStore_ActiveConversationAppendsInOrder(t *testing.T) {
	fetcher := newFakeFetcher()
	store := NewStateStore(fetcher, time.Hour, nil)
	defer store.Close()

	require.NoError(t, store.SetActive(context.Background(), 1))

	for i := int64(1); i <= 3; i++ {
		store.Apply(event.NewMessageEvent(event.Message{ID: i, ConversationID: 1}))
	}

	msgs := store.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, int64(1), msgs[0].ID)
	assert.Equal(t, int64(3), msgs[2].ID)
}

func TestStateStore_OtherConversationTriggersSummaryRefresh(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.setSummaries([]Summary{{Conversation: Conversation{ID: 2}}})

	store := NewStateStore(fetcher, time.Hour, nil)
	defer store.Close()

	require.NoError(t, store.SetActive(context.Background(), 1))

	store.Apply(event.NewMessageEvent(event.Message{ID: 50, ConversationID: 2}))

	assert.Eventually(t, func() bool {
		return len(store.Summaries()) == 1
	}, time.Second, 10*time.Millisecond, "a push for another conversation must refresh summaries")

	assert.Empty(t, store.Messages(), "the active list must stay untouched")
}

func TestStateStore_RosterReplacesOnlineSet(t *testing.T) {
	store := NewStateStore(newFakeFetcher(), time.Hour, nil)
	defer store.Close()

	store.Apply(event.NewUserStatus(9, event.StatusOnline))
	store.Apply(event.NewOnlineUsers([]int64{3, 1, 2}))

	assert.Equal(t, []int64{1, 2, 3}, store.Online(), "roster must replace, not merge")
	assert.False(t, store.IsOnline(9))
}

func TestStateStore_UserStatusUpdatesOnlineSet(t *testing.T) {
	store := NewStateStore(newFakeFetcher(), time.Hour, nil)
	defer store.Close()

	store.Apply(event.NewOnlineUsers([]int64{1, 2}))

	assert.True(t, store.Apply(event.NewUserStatus(3, event.StatusOnline)))
	assert.True(t, store.IsOnline(3))
	assert.False(t, store.Apply(event.NewUserStatus(3, event.StatusOnline)),
		"repeated online status should report no change")

	assert.True(t, store.Apply(event.NewUserStatus(2, event.StatusOffline)))
	assert.False(t, store.IsOnline(2))
	assert.Equal(t, []int64{1, 3}, store.Online())
}

func TestStateStore_SetActiveLoadsHistory(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.setMessages(7, []event.Message{{ID: 1, ConversationID: 7}, {ID: 2, ConversationID: 7}})

	store := NewStateStore(fetcher, time.Hour, nil)
	defer store.Close()

	require.NoError(t, store.SetActive(context.Background(), 7))

	assert.Equal(t, int64(7), store.Active())
	assert.Len(t, store.Messages(), 2)
}

func TestStateStore_SetActiveZeroDeselects(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.setMessages(7, []event.Message{{ID: 1, ConversationID: 7}})

	store := NewStateStore(fetcher, time.Hour, nil)
	defer store.Close()

	require.NoError(t, store.SetActive(context.Background(), 7))
	require.NoError(t, store.SetActive(context.Background(), 0))

	assert.Zero(t, store.Active())
	assert.Empty(t, store.Messages())
}

func TestStateStore_PeriodicRefresh(t *testing.T) {
	fetcher := newFakeFetcher()
	store := NewStateStore(fetcher, 20*time.Millisecond, nil)
	defer store.Close()

	assert.Eventually(t, func() bool {
		return fetcher.conversationCalls() >= 2
	}, time.Second, 10*time.Millisecond, "summary list must refresh on the interval")
}

func TestStateStore_CloseIsIdempotent(t *testing.T) {
	store := NewStateStore(newFakeFetcher(), time.Hour, nil)
	store.Close()
	store.Close()
}

// fakeFetcher is an in-memory Fetcher with call counting.
type fakeFetcher struct {
	mu        sync.Mutex
	summaries []Summary
	messages  map[int64][]event.Message
	convCalls int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{messages: make(map[int64][]event.Message)}
}

func (f *fakeFetcher) Conversations(ctx context.Context) ([]Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.convCalls++
	return slices.Clone(f.summaries), nil
}

func (f *fakeFetcher) Messages(ctx context.Context, conversationID int64, limit int) ([]event.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.messages[conversationID]), nil
}

func (f *fakeFetcher) setSummaries(summaries []Summary) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries = summaries
}

func (f *fakeFetcher) setMessages(conversationID int64, msgs []event.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[conversationID] = msgs
}

func (f *fakeFetcher) conversationCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.convCalls
}
