package turn

type State int

const (
	// StateIdle: no speech heard since the last flush.
	StateIdle State = iota
	// StateListening: the remote party is talking.
	StateListening
	// StateDebouncing: speech went quiet and the boundary timer is armed.
	StateDebouncing
	// StateProcessing: a transcription/response cycle is in flight.
	StateProcessing
	// StateEnding: teardown has started. Terminal.
	StateEnding
)

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateListening:
		return "LISTENING"
	case StateDebouncing:
		return "DEBOUNCING"
	case StateProcessing:
		return "PROCESSING"
	case StateEnding:
		return "ENDING"
	default:
		return "UNKNOWN"
	}
}
