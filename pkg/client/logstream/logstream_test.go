package logstream

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{}

// streamServer runs the given script against each websocket connection.
func streamServer(t *testing.T, script func(conn *websocket.Conn, sessionID string)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		script(conn, r.Header.Get(SessionHeader))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestStreamRelaysOutputUntilShutdown(t *testing.T) {
	server := streamServer(t, func(conn *websocket.Conn, sessionID string) {
		require.Equal(t, "session-1", sessionID)
		require.NoError(t, conn.WriteJSON(Event{Kind: EventConnected, Data: sessionID}))
		require.NoError(t, conn.WriteJSON(Event{Kind: EventStdout, Data: "hello\n"}))
		require.NoError(t, conn.WriteJSON(Event{Kind: EventStderr, Data: "warning\n"}))
		require.NoError(t, conn.WriteJSON(Event{Kind: EventShutdown}))
	})

	var stdout, stderr bytes.Buffer
	client := New(server.URL, "session-1", &stdout, &stderr)
	client.Connect(context.Background())
	defer client.Shutdown()

	state := client.Wait(5 * time.Second)

	assert.Equal(t, Closed, state)
	assert.Equal(t, "hello\n", stdout.String())
	assert.Equal(t, "warning\n", stderr.String())
}

func TestStreamPrintsShutdownReason(t *testing.T) {
	server := streamServer(t, func(conn *websocket.Conn, sessionID string) {
		require.NoError(t, conn.WriteJSON(Event{Kind: EventConnected, Data: sessionID}))
		require.NoError(t, conn.WriteJSON(Event{Kind: EventShutdown, Data: "Test run limit reached"}))
	})

	var stdout, stderr bytes.Buffer
	client := New(server.URL, "session-1", &stdout, &stderr)
	client.Connect(context.Background())
	defer client.Shutdown()

	state := client.Wait(5 * time.Second)

	assert.Equal(t, Closed, state)
	assert.Equal(t, "Test run limit reached\n", stdout.String())
}

func TestStreamDetectsSessionMismatch(t *testing.T) {
	server := streamServer(t, func(conn *websocket.Conn, sessionID string) {
		require.NoError(t, conn.WriteJSON(Event{Kind: EventConnected, Data: "someone-else"}))
	})

	var stdout, stderr bytes.Buffer
	client := New(server.URL, "session-1", &stdout, &stderr)
	client.Connect(context.Background())
	defer client.Shutdown()

	state := client.Wait(5 * time.Second)

	assert.Equal(t, SessionMismatch, state)
	assert.Empty(t, stdout.String())
}

func TestStreamTimesOutWithoutAcknowledgment(t *testing.T) {
	// Connection upgrades but no connected event ever arrives.
	server := streamServer(t, func(conn *websocket.Conn, sessionID string) {
		time.Sleep(time.Second)
	})

	var stdout, stderr bytes.Buffer
	client := New(server.URL, "session-1", &stdout, &stderr)
	client.connectTimeout = 50 * time.Millisecond
	client.Connect(context.Background())
	defer client.Shutdown()

	state := client.Wait(5 * time.Second)

	assert.Equal(t, TimedOut, state)
}

func TestStreamTimesOutWhenServerUnreachable(t *testing.T) {
	var stdout, stderr bytes.Buffer
	client := New("ws://127.0.0.1:1/logs", "session-1", &stdout, &stderr)
	client.connectTimeout = 50 * time.Millisecond
	client.Connect(context.Background())
	defer client.Shutdown()

	state := client.Wait(5 * time.Second)

	assert.Equal(t, TimedOut, state)
}

func TestStreamRemoteDisconnectCloses(t *testing.T) {
	server := streamServer(t, func(conn *websocket.Conn, sessionID string) {
		require.NoError(t, conn.WriteJSON(Event{Kind: EventConnected, Data: sessionID}))
	})

	var stdout, stderr bytes.Buffer
	client := New(server.URL, "session-1", &stdout, &stderr)
	client.Connect(context.Background())
	defer client.Shutdown()

	state := client.Wait(5 * time.Second)

	assert.Equal(t, Closed, state)
}

func TestShutdownIsIdempotent(t *testing.T) {
	var stdout, stderr bytes.Buffer
	client := New("ws://127.0.0.1:1/logs", "session-1", &stdout, &stderr)
	client.Connect(context.Background())

	client.Shutdown()
	client.Shutdown()

	assert.Equal(t, Closed, client.Wait(time.Second))
}

func TestBeginShutdownKeepsStreamingUntilRemoteAck(t *testing.T) {
	release := make(chan struct{})
	server := streamServer(t, func(conn *websocket.Conn, sessionID string) {
		require.NoError(t, conn.WriteJSON(Event{Kind: EventConnected, Data: sessionID}))
		<-release
		require.NoError(t, conn.WriteJSON(Event{Kind: EventStdout, Data: "draining\n"}))
		require.NoError(t, conn.WriteJSON(Event{Kind: EventShutdown}))
	})

	var stdout, stderr bytes.Buffer
	client := New(server.URL, "session-1", &stdout, &stderr)
	client.Connect(context.Background())
	defer client.Shutdown()

	require.Eventually(t, func() bool {
		return client.State() == Streaming
	}, 5*time.Second, 10*time.Millisecond)

	client.BeginShutdown()
	assert.Equal(t, ShuttingDown, client.State())
	close(release)

	state := client.Wait(5 * time.Second)

	assert.Equal(t, Closed, state)
	assert.Equal(t, "draining\n", stdout.String())
}

func TestInterruptBeforeConnectReleasesWaiters(t *testing.T) {
	var stdout, stderr bytes.Buffer
	client := New("ws://127.0.0.1:1/logs", "session-1", &stdout, &stderr)
	ctx, cancel := context.WithCancel(context.Background())
	client.Connect(ctx)
	defer client.Shutdown()

	// An interrupt before any connection was established: there is no
	// remote acknowledgment to wait for, so Wait must return promptly
	// instead of running out its timeout.
	cancel()
	client.BeginShutdown()

	start := time.Now()
	state := client.Wait(5 * time.Second)

	assert.Equal(t, Closed, state)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestWaitTimeoutReturnsCurrentState(t *testing.T) {
	var stdout, stderr bytes.Buffer
	client := New("ws://127.0.0.1:1/logs", "session-1", &stdout, &stderr)
	client.Connect(context.Background())
	defer client.Shutdown()

	state := client.Wait(20 * time.Millisecond)

	assert.Equal(t, Connecting, state)
}
