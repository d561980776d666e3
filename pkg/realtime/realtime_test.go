package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pairchat/config"
	"pairchat/internal/model"
	"pairchat/internal/store"
	"pairchat/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRelayServer(t *testing.T) (*httptest.Server, *Hub, *token.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := NewHub()
	tokens := token.New(config.RelayConfig{
		TokenSecret: "test-secret",
		TokenIssuer: "pairchat-relay",
		TokenExpire: time.Hour,
	})
	handler := NewHandler(hub, tokens, 50*time.Millisecond)

	router := gin.New()
	router.GET("/ws", handler.ServeWS)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server, hub, tokens
}

func wsURL(server *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/ws" + query
}

func mustToken(t *testing.T, tokens *token.Service, clientID string) string {
	t.Helper()
	signed, err := tokens.Generate(clientID)
	require.NoError(t, err)
	return signed
}

func messageEnvelope(t *testing.T, id string) store.Envelope {
	t.Helper()
	env, err := store.EncodeEnvelope(store.KindInsert, store.CollectionMessages, &model.Message{
		ID: id, ChatID: "chat-1", SenderID: "alice", Content: "hi", SentAt: time.Now(),
	})
	require.NoError(t, err)
	return env
}

func TestServeWSRejectsMissingToken(t *testing.T) {
	server, _, _ := newRelayServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(server, ""), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServeWSRejectsBadToken(t *testing.T) {
	server, _, _ := newRelayServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(server, "?token=garbage"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestPublishReachesSubscribedClient(t *testing.T) {
	server, hub, tokens := newRelayServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(
		wsURL(server, "?token="+mustToken(t, tokens, "session-1")+"&collections=messages"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	sent := messageEnvelope(t, "m-1")
	hub.Publish(sent)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got store.Envelope
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, store.KindInsert, got.Kind)
	assert.Equal(t, store.CollectionMessages, got.Collection)
}

func TestPublishSkipsUnrelatedCollections(t *testing.T) {
	server, hub, tokens := newRelayServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(
		wsURL(server, "?token="+mustToken(t, tokens, "session-1")+"&collections=friend_requests"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	// A messages envelope must not reach a friend_requests-only client
	hub.Publish(messageEnvelope(t, "m-1"))

	wanted, err := store.EncodeEnvelope(store.KindUpdate, store.CollectionFriendRequests,
		&model.FriendRequest{ID: "r-1", SenderID: "alice", ReceiverID: "bob", Status: "accepted"})
	require.NoError(t, err)
	hub.Publish(wanted)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got store.Envelope
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, store.CollectionFriendRequests, got.Collection)
}

func TestClientCountTracksDisconnect(t *testing.T) {
	server, hub, tokens := newRelayServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(
		wsURL(server, "?token="+mustToken(t, tokens, "session-1")), nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestFeedClientSubscribe(t *testing.T) {
	server, hub, tokens := newRelayServer(t)

	feed := NewClient(config.RealtimeConfig{
		URL:   wsURL(server, ""),
		Token: mustToken(t, tokens, "session-1"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := feed.Subscribe(ctx, store.CollectionMessages)
	require.NoError(t, err)
	defer sub.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.Publish(messageEnvelope(t, "m-1"))

	select {
	case env := <-sub.Envelopes():
		assert.Equal(t, store.CollectionMessages, env.Collection)
		row, err := store.DecodeRow(env.Collection, env.Row)
		require.NoError(t, err)
		message, ok := row.(*model.Message)
		require.True(t, ok)
		assert.Equal(t, "m-1", message.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("expected an envelope from the relay")
	}
}

func TestFeedClientCloseOnCancel(t *testing.T) {
	server, hub, tokens := newRelayServer(t)

	feed := NewClient(config.RealtimeConfig{
		URL:   wsURL(server, ""),
		Token: mustToken(t, tokens, "session-1"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := feed.Subscribe(ctx, store.CollectionMessages)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	cancel()

	select {
	case _, open := <-sub.Envelopes():
		assert.False(t, open, "envelope channel should close after cancel")
	case <-time.After(2 * time.Second):
		t.Fatal("envelope channel did not close")
	}
	// A deliberate close is not reported as a failure
	assert.NoError(t, sub.Err())
}

func TestFeedClientRequiresURL(t *testing.T) {
	feed := NewClient(config.RealtimeConfig{})

	_, err := feed.Subscribe(context.Background(), store.CollectionMessages)
	assert.Error(t, err)
}
