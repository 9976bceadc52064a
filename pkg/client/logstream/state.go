package logstream

// State is the lifecycle state of the event stream.
type State int

const (
	// Connecting means the websocket is being dialed and no connect
	// acknowledgment has arrived yet.
	Connecting State = iota
	// Streaming means the remote side acknowledged the connection and
	// output is being relayed.
	Streaming
	// ShuttingDown means a local shutdown was requested and the client
	// is waiting for the remote side to acknowledge.
	ShuttingDown
	// Closed is terminal: the stream ended normally, either by a remote
	// shutdown event or a local Shutdown call.
	Closed
	// TimedOut is terminal: no connect acknowledgment arrived within
	// the patience window.
	TimedOut
	// SessionMismatch is terminal: the live remote deployment belongs
	// to a different session than the one this client initiated.
	SessionMismatch
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "Connecting"
	case Streaming:
		return "Streaming"
	case ShuttingDown:
		return "ShuttingDown"
	case Closed:
		return "Closed"
	case TimedOut:
		return "TimedOut"
	case SessionMismatch:
		return "SessionMismatch"
	}
	return "Unknown"
}

// Terminal reports whether the state releases waiters.
func (s State) Terminal() bool {
	return s == Closed || s == TimedOut || s == SessionMismatch
}
