// Package session owns the per-channel connection and login lifecycle:
// the channel state machine, the reconnect backoff schedule, and the
// login handshake sequencer.
package session

// State is the lifecycle position of one channel. Transitions are driven
// only by the channel's run loop; other components observe, never set.
type State int

const (
	// Disconnected is the initial and post-drop state.
	Disconnected State = iota
	// Connecting means the vendor connect call was issued.
	Connecting
	// Connected means the transport reached the front.
	Connected
	// Authenticating means the authenticate request is outstanding.
	Authenticating
	// LoggingIn means the login (or settlement-confirm) step is outstanding.
	LoggingIn
	// Ready means the handshake completed; domain requests may be issued.
	Ready
	// Disconnecting is the transient teardown state.
	Disconnecting
)

var stateNames = map[State]string{
	Disconnected:   "disconnected",
	Connecting:     "connecting",
	Connected:      "connected",
	Authenticating: "authenticating",
	LoggingIn:      "logging_in",
	Ready:          "ready",
	Disconnecting:  "disconnecting",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "invalid"
}

// Handle is the immutable identity of one logged-in session.
type Handle struct {
	FrontID     int
	SessionID   int
	TradingDay  string
	BrokerID    string
	UserID      string
	MaxOrderRef string
}

// Zero reports whether the handle has never been populated by a login.
func (h Handle) Zero() bool {
	return h.FrontID == 0 && h.SessionID == 0 && h.TradingDay == ""
}
