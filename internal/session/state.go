package session

// State is the lifecycle position of a peripheral session.
type State int

const (
	Unbound    State = iota // no device handle
	Discovered              // handle bound, link down
	Connecting              // connect request in flight
	Connected               // link up, services not resolved
	Resolving               // services resolved, schema bind running
	Ready                   // schema bound, subscriptions attached
	Degraded                // bind failed, or adapter lost power
)

var stateNames = [...]string{
	Unbound:    "UNBOUND",
	Discovered: "DISCOVERED",
	Connecting: "CONNECTING",
	Connected:  "CONNECTED",
	Resolving:  "RESOLVING",
	Ready:      "READY",
	Degraded:   "DEGRADED",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// LinkUp reports whether the state implies an established link.
func (s State) LinkUp() bool {
	return s == Connected || s == Resolving || s == Ready
}

func (s State) in(states ...State) bool {
	for _, st := range states {
		if s == st {
			return true
		}
	}
	return false
}
