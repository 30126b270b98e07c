package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"syncbridge/internal/core/domain"
)

func createTestFeed(t *testing.T) (*FeedHub, *httptest.Server) {
	t.Helper()
	hub := NewFeedHub("feed-secret")
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(func() {
		server.Close()
		cancel()
	})
	return hub, server
}

func dial(t *testing.T, server *httptest.Server, secret string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/sync?secret_key=" + secret
	return websocket.DefaultDialer.Dial(url, nil)
}

func readFrame(t *testing.T, conn *websocket.Conn) FeedMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg FeedMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestFeedHub_RejectsWrongSecret(t *testing.T) {
	_, server := createTestFeed(t)

	_, resp, err := dial(t, server, "nope")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestFeedHub_StreamsSyncLogsAndLogLines(t *testing.T) {
	hub, server := createTestFeed(t)

	conn, _, err := dial(t, server, "feed-secret")
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Publish(&domain.SyncLog{
		DirectiveID:    "01HV0000000000000000000000",
		OperationType:  "push_presence",
		TargetPlatform: domain.PlatformRingCentral,
		Status:         domain.SyncFailed,
		Attempt:        3,
	})
	msg := readFrame(t, conn)
	assert.Equal(t, MessageSyncLog, msg.Type)
	require.NotNil(t, msg.SyncLog)
	assert.Equal(t, domain.SyncFailed, msg.SyncLog.Status)
	assert.Equal(t, 3, msg.SyncLog.Attempt)

	line := []byte(`{"level":"INFO","msg":"Agent presence changed"}` + "\n")
	n, err := hub.Write(line)
	require.NoError(t, err)
	assert.Equal(t, len(line), n)
	msg = readFrame(t, conn)
	assert.Equal(t, MessageLog, msg.Type)
	assert.JSONEq(t, `{"level":"INFO","msg":"Agent presence changed"}`, string(msg.Line))

	_, _ = hub.Write([]byte("time=now level=INFO msg=plain\n"))
	msg = readFrame(t, conn)
	assert.Equal(t, "time=now level=INFO msg=plain", msg.Text)
}

func TestFeedHub_WriteNeverBlocks(t *testing.T) {
	hub := NewFeedHub("s") // Run is not started, so nothing drains

	done := make(chan struct{})
	go func() {
		for i := 0; i < broadcastBufferSize*4; i++ {
			_, _ = hub.Write([]byte("line\n"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Write blocked with a full broadcast buffer")
	}
}

func TestFeedHub_StoppedHubDoesNotBlockClients(t *testing.T) {
	hub := NewFeedHub("feed-secret")
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	returned := make(chan struct{})
	go func() {
		assert.False(t, hub.join(&Client{hub: hub, send: make(chan []byte, 1)}))
		hub.leave(&Client{hub: hub})
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("join or leave blocked after Run returned")
	}

	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer server.Close()
	conn, _, err := dial(t, server, "feed-secret")
	require.NoError(t, err)
	defer conn.Close()

	// The server drops the connection instead of hanging on registration
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		assert.False(t, netErr.Timeout(), "connection was left open")
	}
	assert.Zero(t, hub.ClientCount())
}
