package listener

// State enumerates the listener lifecycle. A listener starts Idle,
// moves through Connecting into Connected, cycles through
// Reconnecting on transient loss, and ends in the terminal
// Disconnected state when the retry budget runs out.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

type event int

const (
	eventListen event = iota
	eventRetry
	eventConnectOK
	eventConnectFailed
	eventConnectionLost
	eventStop
)

// transition computes the next state for an event. attemptsLeft is
// the remaining connection budget after the event's attempt, if any.
// Events that do not apply in the current state leave it unchanged.
func transition(s State, ev event, attemptsLeft int) State {
	switch ev {
	case eventListen:
		if s == StateIdle {
			return StateConnecting
		}
	case eventRetry:
		if s == StateReconnecting {
			return StateConnecting
		}
	case eventConnectOK:
		if s == StateConnecting {
			return StateConnected
		}
	case eventConnectFailed:
		if s == StateConnecting {
			if attemptsLeft > 0 {
				return StateReconnecting
			}

			return StateDisconnected
		}
	case eventConnectionLost:
		if s == StateConnected {
			return StateReconnecting
		}
	case eventStop:
		// Disconnected is terminal; stop everywhere else returns the
		// machine to Idle.
		if s != StateDisconnected {
			return StateIdle
		}
	}

	return s
}
