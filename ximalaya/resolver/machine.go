package resolver

import (
	"time"

	"github.com/xeptore/xmfetch/config"
	"github.com/xeptore/xmfetch/ratelimit"
)

type State int

const (
	StateAttempting State = iota
	StateBackoff
	StateBlocked
	StateSucceeded
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateAttempting:
		return "attempting"
	case StateBackoff:
		return "backoff"
	case StateBlocked:
		return "blocked"
	case StateSucceeded:
		return "succeeded"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Outcome classifies a failed attempt.
type Outcome int

const (
	OutcomeBlocked Outcome = iota + 1
	OutcomeTransport
)

type Policy struct {
	MaxAttempts    int
	Pacing         ratelimit.Window
	BlockedBackoff ratelimit.Window
	ErrorBackoff   ratelimit.Window
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		Pacing:         ratelimit.Window{Min: 2 * time.Second, Max: 5 * time.Second},
		BlockedBackoff: ratelimit.Window{Min: 30 * time.Second, Max: 60 * time.Second},
		ErrorBackoff:   ratelimit.Window{Min: 5 * time.Second, Max: 15 * time.Second},
	}
}

func PolicyFromConfig(conf config.Resolver) Policy {
	return Policy{
		MaxAttempts:    conf.MaxAttempts,
		Pacing:         conf.Pacing.Window(),
		BlockedBackoff: conf.BlockedBackoff.Window(),
		ErrorBackoff:   conf.ErrorBackoff.Window(),
	}
}

// Machine tracks one resolution's attempts. It satisfies retry.Backoff: the
// wait before the next attempt depends on how the previous one failed, and
// block waits grow linearly with the attempt number.
type Machine struct {
	policy  Policy
	attempt int
	state   State
	last    Outcome
}

func NewMachine(p Policy) *Machine {
	return &Machine{
		policy:  p,
		attempt: 0,
		state:   StateAttempting,
		last:    0,
	}
}

func (m *Machine) State() State {
	return m.state
}

// Attempt is the 1-based number of the attempt in flight or last finished.
func (m *Machine) Attempt() int {
	return m.attempt
}

func (m *Machine) Begin() {
	m.attempt++
	m.state = StateAttempting
}

func (m *Machine) Succeed() {
	m.state = StateSucceeded
}

func (m *Machine) Fail(o Outcome) {
	m.last = o
}

func (m *Machine) Final() bool {
	return m.attempt >= m.policy.MaxAttempts
}

func (m *Machine) Next() (time.Duration, bool) {
	if m.Final() {
		if m.last == OutcomeBlocked {
			m.state = StateBlocked
		} else {
			m.state = StateExhausted
		}

		return 0, true
	}

	m.state = StateBackoff
	if m.last == OutcomeBlocked {
		return m.policy.BlockedBackoff.Draw() * time.Duration(m.attempt), false
	}

	return m.policy.ErrorBackoff.Draw(), false
}
