package http

import (
	"sync"

	"github.com/iaomarket/x402-go"
	"github.com/iaomarket/x402-go/logger"
)

// session is the single protocol run a Client may hold at a time.
type session struct {
	mu        sync.Mutex
	state     x402.State
	lastState x402.State
	lastErr   error
	log       logger.Logger
}

// begin claims the session for a new run. It fails without side effects when a run is
// already in flight.
func (s *session) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != x402.StateIdle {
		return false
	}
	s.state = x402.StateRequesting
	s.lastErr = nil
	s.log.Debug("x402 state transition", map[string]any{"from": x402.StateIdle.String(), "to": s.state.String()})
	return true
}

func (s *session) advance(to x402.State) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()
	s.log.Debug("x402 state transition", map[string]any{"from": from.String(), "to": to.String()})
}

// finish records the terminal state of the run and returns the session to Idle.
func (s *session) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	terminal := x402.StateCompleted
	if err != nil {
		terminal = x402.StateFailed
	}
	s.log.Debug("x402 state transition", map[string]any{"from": s.state.String(), "to": terminal.String()})
	s.lastState = terminal
	s.lastErr = err
	s.state = x402.StateIdle
}

func (s *session) current() x402.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *session) last() (x402.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastState, s.lastErr
}
