package connectivity

import (
	"context"
	"fmt"
	"sync"

	"record-sync/core/events"

	"go.uber.org/zap"
)

// State is the authentication state of the remote account.
type State int

const (
	NotLoggedIn State = iota
	SigningIn
	TokenFailed
	Denied
	Authenticated
)

func (s State) String() string {
	switch s {
	case NotLoggedIn:
		return "not_logged_in"
	case SigningIn:
		return "signing_in"
	case TokenFailed:
		return "token_failed"
	case Denied:
		return "denied"
	case Authenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText renders the state by name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Changed is published on every state transition.
type Changed struct {
	From State `json:"from"`
	To   State `json:"to"`
}

func (Changed) EventName() string { return "connectivity.changed" }

// UnavailableError is returned by Await when remote work cannot proceed.
type UnavailableError struct {
	State State
}

func (e *UnavailableError) Error() string {
	return "remote store unavailable: " + e.State.String()
}

// Tracker owns the connectivity state. Remote work waits while signing in
// and resumes once authenticated.
type Tracker struct {
	mu      sync.Mutex
	state   State
	changed chan struct{}
	bus     *events.Bus
	logger  *zap.Logger
}

// NewTracker creates a tracker in the NotLoggedIn state.
func NewTracker(bus *events.Bus, logger *zap.Logger) *Tracker {
	return &Tracker{
		state:   NotLoggedIn,
		changed: make(chan struct{}),
		bus:     bus,
		logger:  logger,
	}
}

// Current returns the current state.
func (t *Tracker) Current() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Set moves to s and publishes Changed if the state differs.
func (t *Tracker) Set(s State) {
	t.mu.Lock()
	from := t.state
	if from == s {
		t.mu.Unlock()
		return
	}
	t.state = s
	close(t.changed)
	t.changed = make(chan struct{})
	t.mu.Unlock()

	t.logger.Info("Connectivity changed", zap.Stringer("from", from), zap.Stringer("to", s))
	t.bus.Publish(Changed{From: from, To: s})
}

// Demote reacts to an authentication failure: a sign-in in progress becomes
// TokenFailed, anything else becomes NotLoggedIn.
func (t *Tracker) Demote() State {
	next := NotLoggedIn
	if t.Current() == SigningIn {
		next = TokenFailed
	}
	t.Set(next)
	return next
}

// Await blocks while signing in. It returns nil once authenticated and an
// *UnavailableError for any other state.
func (t *Tracker) Await(ctx context.Context) error {
	for {
		t.mu.Lock()
		state, changed := t.state, t.changed
		t.mu.Unlock()

		switch state {
		case Authenticated:
			return nil
		case SigningIn:
		default:
			return &UnavailableError{State: state}
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
