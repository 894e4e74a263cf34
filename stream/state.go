package stream

import "localcompletion/logger"

// State is a stage in the life of one generation
type State int

const (
	StateIdle State = iota
	StateRequesting
	StateStreaming
	StateCompleted
	StateTrimmed
	StateCancelled
	StateFailed
)

// String returns a human-readable name for the state
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRequesting:
		return "Requesting"
	case StateStreaming:
		return "Streaming"
	case StateCompleted:
		return "Completed"
	case StateTrimmed:
		return "Trimmed"
	case StateCancelled:
		return "Cancelled"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Terminal reports whether no further transition can happen
func (s State) Terminal() bool {
	return s >= StateCompleted
}

// transitions lists every legal move of the controller.
//
//	StateIdle
//	├─[start]──► StateRequesting
//	│              ├─[first fragment]──► StateStreaming
//	│              │                       ├─[stream ends]──► StateCompleted
//	│              │                       ├─[stop policy]──► StateTrimmed
//	│              │                       ├─[cancel]──► StateCancelled
//	│              │                       └─[error]──► StateFailed
//	│              ├─[stream ends]──► StateCompleted
//	│              ├─[cancel]──► StateCancelled
//	│              └─[error]──► StateFailed
//	└─[cancel]──► StateCancelled
var transitions = map[State][]State{
	StateIdle:       {StateRequesting, StateCancelled, StateFailed},
	StateRequesting: {StateStreaming, StateCompleted, StateCancelled, StateFailed},
	StateStreaming:  {StateCompleted, StateTrimmed, StateCancelled, StateFailed},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// setState moves to next if legal. Caller holds c.mu.
func (c *Controller) setState(next State) bool {
	if !canTransition(c.state, next) {
		logger.Debug("stream: ignoring transition %s -> %s", c.state, next)
		return false
	}
	logger.Debug("stream: %s -> %s", c.state, next)
	c.state = next
	return true
}
