package events

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariacore/aria/internal/testutil"
)

// setupLiveStack wires publisher → Postgres NOTIFY → listener → manager
// → WebSocket client against the shared test database, the full path a
// production pod runs.
func setupLiveStack(t *testing.T) (*EventPublisher, *ConnectionManager, *httptest.Server) {
	t.Helper()

	db := testutil.OpenDB(t)
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS events (
		id BIGSERIAL PRIMARY KEY,
		session_id TEXT NOT NULL,
		channel TEXT NOT NULL,
		payload JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = db.Exec(`TRUNCATE events`) })

	manager := NewConnectionManager(NewCatchupStore(db), 5*time.Second)
	listener := NewNotifyListener(testutil.GetBaseConnectionString(t), manager)
	require.NoError(t, listener.Start(context.Background()))
	t.Cleanup(func() { listener.Stop(context.Background()) })
	manager.SetListener(listener)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		manager.HandleConnection(r.Context(), conn)
	}))
	t.Cleanup(server.Close)

	return NewEventPublisher(db), manager, server
}

func TestIntegration_PublishReachesSubscriber(t *testing.T) {
	if testing.Short() {
		t.Skip("requires Postgres")
	}

	publisher, _, server := setupLiveStack(t)
	conn := dialWS(t, server)
	readFrame(t, conn) // connection.established

	subscribeAndConfirm(t, conn, ChatChannel("live-1"))

	ctx := context.Background()
	require.NoError(t, publisher.PublishMessageCreated(ctx, MessageCreatedPayload{
		Type:      EventTypeMessageCreated,
		MessageID: "m-1",
		SessionID: "live-1",
		Role:      "user",
		Status:    "completed",
		Content:   "hello",
		Sequence:  1,
		Timestamp: time.Now().Format(time.RFC3339Nano),
	}))

	msg := readFrame(t, conn)
	assert.Equal(t, EventTypeMessageCreated, msg["type"])
	assert.Equal(t, "hello", msg["content"])
	assert.NotNil(t, msg["cursor"], "NOTIFY copy carries the row id")
}

func TestIntegration_TransientChunkNotPersisted(t *testing.T) {
	if testing.Short() {
		t.Skip("requires Postgres")
	}

	publisher, _, server := setupLiveStack(t)
	conn := dialWS(t, server)
	readFrame(t, conn)

	subscribeAndConfirm(t, conn, ChatChannel("live-2"))

	ctx := context.Background()
	require.NoError(t, publisher.PublishStreamChunk(ctx, StreamChunkPayload{
		Type:      EventTypeStreamChunk,
		SessionID: "live-2",
		Delta:     "par",
		Timestamp: time.Now().Format(time.RFC3339Nano),
	}))

	msg := readFrame(t, conn)
	assert.Equal(t, EventTypeStreamChunk, msg["type"])
	assert.Equal(t, "par", msg["delta"])
	assert.Nil(t, msg["cursor"], "transient events have no catchup position")

	// A second client subscribing now must not see the chunk again.
	late := dialWS(t, server)
	readFrame(t, late)
	subscribeAndConfirm(t, late, ChatChannel("live-2"))

	writeFrame(t, late, ClientMessage{Action: "ping"})
	pong := readFrame(t, late)
	assert.Equal(t, "pong", pong["type"])
}

func TestIntegration_LateSubscriberCatchesUp(t *testing.T) {
	if testing.Short() {
		t.Skip("requires Postgres")
	}

	publisher, _, server := setupLiveStack(t)
	ctx := context.Background()

	for i, content := range []string{"first", "second"} {
		require.NoError(t, publisher.PublishMessageCreated(ctx, MessageCreatedPayload{
			Type:      EventTypeMessageCreated,
			MessageID: "m",
			SessionID: "live-3",
			Role:      "user",
			Status:    "completed",
			Content:   content,
			Sequence:  i + 1,
			Timestamp: time.Now().Format(time.RFC3339Nano),
		}))
	}

	conn := dialWS(t, server)
	readFrame(t, conn)
	subscribeAndConfirm(t, conn, ChatChannel("live-3"))

	first := readFrame(t, conn)
	assert.Equal(t, "first", first["content"])
	second := readFrame(t, conn)
	assert.Equal(t, "second", second["content"])
}
