package x402

// State is a step of the pay-per-call protocol run.
type State int

const (
	// StateIdle is both the initial state and the state restored after every run.
	StateIdle State = iota
	// StateRequesting: the unauthenticated probe request is in flight.
	StateRequesting
	// StateChallengeReceived: the endpoint answered 402.
	StateChallengeReceived
	// StateAuthorizing: the transfer authorization is built and awaiting a signature.
	StateAuthorizing
	// StateAwaitingSettlement: the proof is encoded and the settlement delay is running.
	StateAwaitingSettlement
	// StateRetrying: the paid retry is in flight.
	StateRetrying
	// StateCompleted is the terminal success state.
	StateCompleted
	// StateFailed is the terminal failure state.
	StateFailed
)

var stateNames = [...]string{
	StateIdle:               "idle",
	StateRequesting:         "requesting",
	StateChallengeReceived:  "challenge_received",
	StateAuthorizing:        "authorizing",
	StateAwaitingSettlement: "awaiting_settlement",
	StateRetrying:           "retrying",
	StateCompleted:          "completed",
	StateFailed:             "failed",
}

// String returns the snake_case name of the state.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}
