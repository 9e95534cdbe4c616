package breaker

import (
	"fmt"
	"strings"
	"time"
)

// State is the position of a breaker in its state machine.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(b []byte) error {
	switch strings.ToUpper(string(b)) {
	case "CLOSED":
		*s = StateClosed
	case "OPEN":
		*s = StateOpen
	case "HALF_OPEN":
		*s = StateHalfOpen
	default:
		return fmt.Errorf("unknown breaker state %q", b)
	}
	return nil
}

// Event describes one state transition.
type Event struct {
	Breaker      string    `json:"breaker"`
	From         State     `json:"from"`
	To           State     `json:"to"`
	At           time.Time `json:"at"`
	FailureCount int       `json:"failure_count"`
	SuccessCount int       `json:"success_count"`
	Reason       string    `json:"reason"`
}

// Observer receives breaker transitions. Implementations must not call back
// into the breaker that notified them and should return quickly.
type Observer interface {
	OnStateChange(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// OnStateChange implements Observer.
func (f ObserverFunc) OnStateChange(ev Event) { f(ev) }

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Status is a point-in-time view of a breaker.
type Status struct {
	Name           string    `json:"name"`
	State          State     `json:"state"`
	FailureCount   int       `json:"failure_count"`
	SuccessCount   int       `json:"success_count"`
	LastFailure    time.Time `json:"last_failure,omitempty"`
	LastTransition time.Time `json:"last_transition,omitempty"`
	Config         Config    `json:"config"`
}
