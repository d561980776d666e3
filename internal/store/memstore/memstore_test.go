package memstore

import (
	"context"
	"testing"
	"time"

	"pairchat/internal/model"
	"pairchat/internal/store"
	"pairchat/pkg/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertGeneratesIDAndTimestamps(t *testing.T) {
	gw := New()
	ctx := context.Background()

	message := &model.Message{ChatID: "chat-1", SenderID: "alice", Content: "hello"}
	require.NoError(t, gw.Insert(ctx, store.CollectionMessages, message))

	// Generated fields are written back to the caller's row
	assert.NotEmpty(t, message.ID)
	assert.False(t, message.SentAt.IsZero())

	var rows []model.Message
	require.NoError(t, gw.Query(ctx, store.CollectionMessages, store.Filter{"id": message.ID}, store.QueryOptions{}, &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "hello", rows[0].Content)
}

func TestInsertDuplicatePairKeyConflicts(t *testing.T) {
	gw := New()
	ctx := context.Background()

	key := model.PairKey("alice", "bob")
	require.NoError(t, gw.Insert(ctx, store.CollectionChats, &model.Chat{PairKey: key}))

	err := gw.Insert(ctx, store.CollectionChats, &model.Chat{PairKey: key})
	require.Error(t, err)
	assert.True(t, errs.IsConflict(err))
}

func TestInsertDuplicateMemberConflicts(t *testing.T) {
	gw := New()
	ctx := context.Background()

	require.NoError(t, gw.Insert(ctx, store.CollectionChatMembers, &model.ChatMember{ChatID: "chat-1", UserID: "alice"}))
	require.NoError(t, gw.Insert(ctx, store.CollectionChatMembers, &model.ChatMember{ChatID: "chat-1", UserID: "bob"}))

	err := gw.Insert(ctx, store.CollectionChatMembers, &model.ChatMember{ChatID: "chat-1", UserID: "alice"})
	assert.True(t, errs.IsConflict(err))
}

func TestQueryOrderAndLimit(t *testing.T) {
	gw := New()
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"m-c", "m-a", "m-b"} {
		msg := &model.Message{ID: id, ChatID: "chat-1", SenderID: "alice", Content: id, SentAt: base.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, gw.Insert(ctx, store.CollectionMessages, msg))
	}

	var rows []model.Message
	err := gw.Query(ctx, store.CollectionMessages,
		store.Filter{"chat_id": "chat-1"},
		store.QueryOptions{OrderBy: "sent_at DESC", Limit: 2},
		&rows,
	)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "m-b", rows[0].ID)
	assert.Equal(t, "m-a", rows[1].ID)
}

func TestUpdateCountsAffectedRows(t *testing.T) {
	gw := New()
	ctx := context.Background()

	request := &model.FriendRequest{SenderID: "alice", ReceiverID: "bob", Status: model.StatusPending}
	require.NoError(t, gw.Insert(ctx, store.CollectionFriendRequests, request))

	count, err := gw.Update(ctx, store.CollectionFriendRequests,
		store.Filter{"id": request.ID, "status": model.StatusPending},
		map[string]any{"status": model.StatusAccepted},
	)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// The guard no longer matches
	count, err = gw.Update(ctx, store.CollectionFriendRequests,
		store.Filter{"id": request.ID, "status": model.StatusPending},
		map[string]any{"status": model.StatusRejected},
	)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	var rows []model.FriendRequest
	require.NoError(t, gw.Query(ctx, store.CollectionFriendRequests, store.Filter{"id": request.ID}, store.QueryOptions{}, &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, model.StatusAccepted, rows[0].Status)
}

func TestDeleteMissingRowsIsNotAnError(t *testing.T) {
	gw := New()

	count, err := gw.Delete(context.Background(), store.CollectionMessages, store.Filter{"id": "ghost"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestSubscribeFiltersByColumn(t *testing.T) {
	gw := New()
	ctx := context.Background()

	sub, err := gw.Subscribe(ctx, store.CollectionMessages, store.Filter{"chat_id": "chat-1"})
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, gw.Insert(ctx, store.CollectionMessages, &model.Message{ChatID: "chat-2", SenderID: "bob", Content: "elsewhere"}))
	wanted := &model.Message{ChatID: "chat-1", SenderID: "alice", Content: "here"}
	require.NoError(t, gw.Insert(ctx, store.CollectionMessages, wanted))

	select {
	case event := <-sub.Events():
		assert.Equal(t, store.KindInsert, event.Kind)
		row, ok := event.Row.(*model.Message)
		require.True(t, ok)
		assert.Equal(t, wanted.ID, row.ID)
	case <-time.After(time.Second):
		t.Fatal("expected an event for the watched chat")
	}
}

func TestSubscribeSeesUpdateAndDelete(t *testing.T) {
	gw := New()
	ctx := context.Background()

	request := &model.FriendRequest{SenderID: "alice", ReceiverID: "bob", Status: model.StatusPending}
	require.NoError(t, gw.Insert(ctx, store.CollectionFriendRequests, request))

	sub, err := gw.Subscribe(ctx, store.CollectionFriendRequests, nil)
	require.NoError(t, err)
	defer sub.Close()

	_, err = gw.Update(ctx, store.CollectionFriendRequests, store.Filter{"id": request.ID}, map[string]any{"status": model.StatusAccepted})
	require.NoError(t, err)
	_, err = gw.Delete(ctx, store.CollectionFriendRequests, store.Filter{"id": request.ID})
	require.NoError(t, err)

	kinds := []store.Kind{}
	for len(kinds) < 2 {
		select {
		case event := <-sub.Events():
			kinds = append(kinds, event.Kind)
		case <-time.After(time.Second):
			t.Fatalf("timed out, got kinds %v", kinds)
		}
	}
	assert.Equal(t, []store.Kind{store.KindUpdate, store.KindDelete}, kinds)
}

func TestFailSubscriptionsMarksTransient(t *testing.T) {
	gw := New()

	sub, err := gw.Subscribe(context.Background(), store.CollectionMessages, nil)
	require.NoError(t, err)

	gw.FailSubscriptions()

	_, open := <-sub.Events()
	assert.False(t, open, "events channel should be closed")
	assert.True(t, errs.IsTransient(sub.Err()))
}

func TestCloseDuringBroadcastIsSafe(t *testing.T) {
	gw := New()
	ctx := context.Background()

	sub, err := gw.Subscribe(ctx, store.CollectionMessages, nil)
	require.NoError(t, err)

	// Close races with broadcasting writers; late deliveries are
	// dropped, not a panic on a closed channel
	writes := make(chan struct{})
	go func() {
		defer close(writes)
		for i := 0; i < 200; i++ {
			_ = gw.Insert(ctx, store.CollectionMessages, &model.Message{ChatID: "chat-1", SenderID: "alice", Content: "x"})
		}
	}()

	time.Sleep(time.Millisecond)
	sub.Close()
	<-writes

	// The channel is closed; draining terminates
	for range sub.Events() {
	}
	assert.NoError(t, sub.Err())
}

func TestQueryReturnsCopies(t *testing.T) {
	gw := New()
	ctx := context.Background()

	message := &model.Message{ChatID: "chat-1", SenderID: "alice", Content: "original"}
	require.NoError(t, gw.Insert(ctx, store.CollectionMessages, message))

	var rows []model.Message
	require.NoError(t, gw.Query(ctx, store.CollectionMessages, nil, store.QueryOptions{}, &rows))
	require.Len(t, rows, 1)
	rows[0].Content = "mutated"

	var again []model.Message
	require.NoError(t, gw.Query(ctx, store.CollectionMessages, nil, store.QueryOptions{}, &again))
	require.Len(t, again, 1)
	assert.Equal(t, "original", again[0].Content)
}
