package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"pairchat/config"
	"pairchat/internal/model"
	"pairchat/internal/store"
	"pairchat/internal/store/memstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastSyncConfig() config.SyncConfig {
	return config.SyncConfig{
		BackoffBase: 5 * time.Millisecond,
		BackoffMax:  50 * time.Millisecond,
		EventBuffer: 16,
	}
}

// eventRecorder 线程安全的事件回调记录
type eventRecorder struct {
	mu     sync.Mutex
	events []store.Event
}

func (r *eventRecorder) record(event store.Event) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *eventRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestWatchDeliversRemoteEvents(t *testing.T) {
	gw := memstore.New()
	stream := NewMessageService(gw)
	coord := NewSyncCoordinator(gw, stream, fastSyncConfig())
	defer coord.Close()

	recorder := &eventRecorder{}
	cancel := coord.Watch(context.Background(), "chat-1", recorder.record)
	defer cancel()

	// Give the subscription time to open before writing
	time.Sleep(20 * time.Millisecond)

	// A write from another session
	remote := NewMessageService(gw)
	message, err := remote.Send(context.Background(), "chat-1", "bob", "from elsewhere")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		history := stream.History("chat-1")
		return len(history) == 1 && history[0].ID == message.ID
	}, 2*time.Second, 10*time.Millisecond, "remote message should reach the local view")

	assert.GreaterOrEqual(t, recorder.count(), 1)
}

func TestWatchFiltersOtherChats(t *testing.T) {
	gw := memstore.New()
	stream := NewMessageService(gw)
	coord := NewSyncCoordinator(gw, stream, fastSyncConfig())
	defer coord.Close()

	cancel := coord.Watch(context.Background(), "chat-1", nil)
	defer cancel()
	time.Sleep(20 * time.Millisecond)

	remote := NewMessageService(gw)
	_, err := remote.Send(context.Background(), "chat-2", "bob", "unrelated")
	require.NoError(t, err)
	watched, err := remote.Send(context.Background(), "chat-1", "bob", "relevant")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		history := stream.History("chat-1")
		return len(history) == 1 && history[0].ID == watched.ID
	}, 2*time.Second, 10*time.Millisecond)

	// The other chat never got a local view
	assert.Nil(t, stream.History("chat-2"))
}

func TestWatchReplacesPreviousSubscription(t *testing.T) {
	gw := memstore.New()
	stream := NewMessageService(gw)
	coord := NewSyncCoordinator(gw, stream, fastSyncConfig())
	defer coord.Close()

	first := coord.Watch(context.Background(), "chat-1", nil)
	time.Sleep(20 * time.Millisecond)

	// Switching chats cancels the first subscription
	second := coord.Watch(context.Background(), "chat-2", nil)
	defer second()
	time.Sleep(20 * time.Millisecond)

	remote := NewMessageService(gw)
	_, err := remote.Send(context.Background(), "chat-1", "bob", "to the old chat")
	require.NoError(t, err)
	message, err := remote.Send(context.Background(), "chat-2", "bob", "to the new chat")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		history := stream.History("chat-2")
		return len(history) == 1 && history[0].ID == message.ID
	}, 2*time.Second, 10*time.Millisecond)

	// chat-1 stopped receiving after the switch
	assert.Empty(t, stream.History("chat-1"))

	// The stale handle returns promptly even though the replacement
	// subscription is still running
	done := make(chan struct{})
	go func() {
		first()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stale cancel handle did not return while the new subscription was live")
	}

	// chat-2 keeps receiving after the stale handle was cancelled
	late, err := remote.Send(context.Background(), "chat-2", "bob", "still flowing")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		history := stream.History("chat-2")
		return len(history) == 2 && history[1].ID == late.ID
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatchReconnectsAndResyncs(t *testing.T) {
	gw := memstore.New()
	stream := NewMessageService(gw)
	coord := NewSyncCoordinator(gw, stream, fastSyncConfig())
	defer coord.Close()

	cancel := coord.Watch(context.Background(), "chat-1", nil)
	defer cancel()
	time.Sleep(20 * time.Millisecond)

	// Push channel drops; events written during the gap are missed
	gw.FailSubscriptions()

	remote := NewMessageService(gw)
	missed, err := remote.Send(context.Background(), "chat-1", "bob", "written while offline")
	require.NoError(t, err)

	// Resync-on-reconnect recovers the missed write
	require.Eventually(t, func() bool {
		history := stream.History("chat-1")
		return len(history) == 1 && history[0].ID == missed.ID
	}, 3*time.Second, 10*time.Millisecond, "resync should recover the missed message")

	// And the new subscription is live again
	live, err := remote.Send(context.Background(), "chat-1", "bob", "after reconnect")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(stream.History("chat-1")) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, live.ID, stream.History("chat-1")[1].ID)
}

func TestTwoSessionsConverge(t *testing.T) {
	gw := memstore.New()
	ctx := context.Background()

	// Two friends with one private chat
	relA := NewRelationshipService(gw)
	request, err := relA.SendRequest(ctx, "alice", "bob")
	require.NoError(t, err)
	require.NoError(t, relA.RespondToRequest(ctx, request.ID, model.StatusAccepted))

	chats := NewChatService(gw, relA)
	chat, err := chats.GetOrCreateChat(ctx, "alice", "bob")
	require.NoError(t, err)

	// Each session keeps its own local view and subscription
	streamA := NewMessageService(gw)
	streamB := NewMessageService(gw)
	coordA := NewSyncCoordinator(gw, streamA, fastSyncConfig())
	coordB := NewSyncCoordinator(gw, streamB, fastSyncConfig())
	defer coordA.Close()
	defer coordB.Close()

	cancelA := coordA.Watch(ctx, chat.ID, nil)
	cancelB := coordB.Watch(ctx, chat.ID, nil)
	defer cancelA()
	defer cancelB()
	time.Sleep(30 * time.Millisecond)

	_, err = streamA.Send(ctx, chat.ID, "alice", "hi bob")
	require.NoError(t, err)
	_, err = streamB.Send(ctx, chat.ID, "bob", "hi alice")
	require.NoError(t, err)

	// Both sessions converge on the same two-message sequence
	require.Eventually(t, func() bool {
		a := streamA.History(chat.ID)
		b := streamB.History(chat.ID)
		return len(a) == 2 && len(b) == 2
	}, 3*time.Second, 10*time.Millisecond)

	assert.Equal(t, messageIDs(streamA.History(chat.ID)), messageIDs(streamB.History(chat.ID)))
}

func TestCloseStopsDelivery(t *testing.T) {
	gw := memstore.New()
	stream := NewMessageService(gw)
	coord := NewSyncCoordinator(gw, stream, fastSyncConfig())

	cancel := coord.Watch(context.Background(), "chat-1", nil)
	time.Sleep(20 * time.Millisecond)
	cancel()
	coord.Close()

	remote := NewMessageService(gw)
	_, err := remote.Send(context.Background(), "chat-1", "bob", "after close")
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, stream.History("chat-1"))
}
