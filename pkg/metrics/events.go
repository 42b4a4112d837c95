package metrics

const (
	EventSessionStart = "session.start"
	EventSessionEnd   = "session.end"
	EventStateChange  = "session.state"
	EventFrameDropped = "session.frame_dropped"
	EventGreeting     = "session.greeting"
	EventTurnComplete = "session.turn_complete"

	EventSpeechStart = "vad.speech_start"
	EventSpeechEnd   = "vad.speech_end"
	EventVADOverflow = "vad.overflow"

	EventTranscript      = "stt.transcript"
	EventTranscribeError = "stt.error"

	EventFirstToken      = "llm.first_token"
	EventGenerationError = "llm.error"

	EventSegment        = "tts.segment"
	EventSegmentSkipped = "tts.skipped"
	EventFirstSegment   = "tts.first_segment"

	EventBreakerOpen   = "breaker.open"
	EventBreakerClose  = "breaker.close"
	EventBreakerDenied = "breaker.denied"
	EventRateLimit     = "provider.rate_limited"

	EventSendError = "transport.send_error"
)

const (
	TagStreamID  = "stream_id"
	TagComponent = "component"
	TagProvider  = "provider"
	TagState     = "state"
	TagProfile   = "profile"
)

// IsLatency reports whether Value on events with this name is a duration
// in milliseconds.
func IsLatency(name string) bool {
	switch name {
	case EventTranscript, EventFirstToken, EventSegment, EventFirstSegment, EventTurnComplete, EventGreeting:
		return true
	}
	return false
}
