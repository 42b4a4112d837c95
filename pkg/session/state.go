package session

// State is the conversation phase of a session.
type State int

const (
	StateIdle State = iota
	StateGreeting
	StateListening
	StateTranscribing
	StateGenerating
	StateSpeaking
	StateClosed
)

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateGreeting:
		return "GREETING"
	case StateListening:
		return "LISTENING"
	case StateTranscribing:
		return "TRANSCRIBING"
	case StateGenerating:
		return "GENERATING"
	case StateSpeaking:
		return "SPEAKING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Busy reports whether a turn is in progress.
func (s State) Busy() bool {
	return s == StateTranscribing || s == StateGenerating || s == StateSpeaking
}
