// Package logstream attaches to the deployment's server-pushed event
// channel and relays the load generators' output to local streams.
package logstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// DefaultConnectTimeout bounds how long the client waits for the remote
// side to acknowledge the connection. Pods may take a while to come up,
// so transient dial failures within this window are expected and
// retried rather than surfaced.
const DefaultConnectTimeout = 2 * time.Minute

const redialInterval = 2 * time.Second

// Event kinds pushed by the remote side.
const (
	EventConnected = "connected"
	EventStdout    = "stdout"
	EventStderr    = "stderr"
	EventShutdown  = "shutdown"
)

// Event is a single frame on the stream. Data holds the output text for
// stdout/stderr, the live session id for connected, and an optional
// human-readable reason for shutdown.
type Event struct {
	Kind string `json:"event"`
	Data string `json:"data,omitempty"`
}

// SessionHeader carries the deployment session id when dialing.
const SessionHeader = "X-Session-Id"

// Client streams deployment output from a websocket endpoint. Create it
// with New, start it with Connect, block on Wait, and always release it
// with Shutdown.
type Client struct {
	url            string
	sessionID      string
	stdout         io.Writer
	stderr         io.Writer
	dialer         *websocket.Dialer
	connectTimeout time.Duration

	mu     sync.Mutex
	state  State
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a client for the given stream URL, bound to the session
// id of the deployment it belongs to. Output events are relayed
// verbatim to stdout and stderr.
func New(url, sessionID string, stdout, stderr io.Writer) *Client {
	// The control plane hands out the URL; accept http(s) forms too.
	if strings.HasPrefix(url, "http") {
		url = "ws" + strings.TrimPrefix(url, "http")
	}
	return &Client{
		url:            url,
		sessionID:      sessionID,
		stdout:         stdout,
		stderr:         stderr,
		dialer:         websocket.DefaultDialer,
		connectTimeout: DefaultConnectTimeout,
		state:          Connecting,
		done:           make(chan struct{}),
	}
}

// Connect starts dialing and reading in the background. Progress is
// observed through State, Done and Wait.
func (c *Client) Connect(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	timer := time.AfterFunc(c.connectTimeout, c.timeOut)
	go func() {
		defer timer.Stop()
		c.run(ctx, timer)
	}()
}

func (c *Client) run(ctx context.Context, connectTimer *time.Timer) {
	conn, err := c.dial(ctx)
	if err != nil {
		// Dialing was aborted by the connect timer, a local shutdown or
		// an interrupt. No connection means there is no remote
		// acknowledgment to wait for; release waiters now. terminate
		// keeps an already-set TimedOut.
		c.mu.Lock()
		c.terminate(Closed)
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	if c.state.Terminal() {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.mu.Unlock()

	c.readLoop(conn, connectTimer)
}

// dial keeps attempting the websocket connection until it succeeds or
// ctx is cancelled.
func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{SessionHeader: []string{c.sessionID}}
	for {
		conn, resp, err := c.dialer.DialContext(ctx, c.url, header)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err == nil {
			return conn, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(redialInterval):
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn, connectTimer *time.Timer) {
	for {
		var event Event
		if err := conn.ReadJSON(&event); err != nil {
			c.mu.Lock()
			if !c.state.Terminal() {
				log.WithError(err).Debug("Websocket disconnected")
				c.terminate(Closed)
			}
			c.mu.Unlock()
			return
		}

		switch event.Kind {
		case EventConnected:
			connectTimer.Stop()
			c.mu.Lock()
			if event.Data != "" && event.Data != c.sessionID {
				// The remote side is authoritative: a different session
				// is what's live, so this deployment is not ours.
				log.Errorf("Another session (%s) is already running on this account", event.Data)
				c.terminate(SessionMismatch)
				c.mu.Unlock()
				return
			}
			if c.state == Connecting {
				log.Debug("Websocket connection established, switching to deployment logs")
				c.state = Streaming
			}
			c.mu.Unlock()
		case EventStdout:
			_, _ = io.WriteString(c.stdout, event.Data)
		case EventStderr:
			_, _ = io.WriteString(c.stderr, event.Data)
		case EventShutdown:
			log.Debug("Got shutdown from the deployment")
			if event.Data != "" {
				fmt.Fprintln(c.stdout, event.Data)
			}
			c.mu.Lock()
			c.terminate(Closed)
			c.mu.Unlock()
			return
		default:
			log.Debugf("Ignoring unknown stream event %q", event.Kind)
		}
	}
}

// timeOut aborts the connection attempt if no connect acknowledgment
// arrived within the patience window.
func (c *Client) timeOut() {
	c.mu.Lock()
	if c.state != Connecting {
		c.mu.Unlock()
		return
	}
	c.terminate(TimedOut)
	cancel, conn := c.cancel, c.conn
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
}

// terminate moves to a terminal state and releases waiters. Must be
// called with c.mu held; repeated calls keep the first terminal state.
func (c *Client) terminate(state State) {
	if c.state.Terminal() {
		return
	}
	c.state = state
	close(c.done)
}

// BeginShutdown marks that a local shutdown was requested while the
// remote acknowledgment is still awaited. The stream keeps reading so a
// remote shutdown event can complete the transition to Closed.
func (c *Client) BeginShutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.Terminal() {
		c.state = ShuttingDown
	}
}

// Shutdown tears down the underlying connection and unblocks any
// waiter. Safe to call multiple times and from any state; intended for
// defer-style use on every exit path.
func (c *Client) Shutdown() {
	c.mu.Lock()
	c.terminate(Closed)
	cancel, conn := c.cancel, c.conn
	c.conn = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
}

// State returns the current stream state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed when the stream reaches a terminal state.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the stream reaches a terminal state, or until the
// timeout elapses when one is given. It returns the state observed on
// wakeup.
func (c *Client) Wait(timeout time.Duration) State {
	if timeout <= 0 {
		<-c.done
	} else {
		select {
		case <-c.done:
		case <-time.After(timeout):
		}
	}
	return c.State()
}
