package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonTranscription ReasonCode = "transcription"
	ReasonGeneration    ReasonCode = "generation"
	ReasonSynthesis     ReasonCode = "synthesis"
	ReasonConfiguration ReasonCode = "configuration"
	ReasonOverflow      ReasonCode = "overflow"

	ReasonTimeout     ReasonCode = "timeout"
	ReasonRateLimit   ReasonCode = "rate_limit"
	ReasonCircuitOpen ReasonCode = "circuit_open"

	ReasonTransportInvalidSignature ReasonCode = "webhook_invalid_signature"
	ReasonTransportSend             ReasonCode = "transport_send"
)
