package frames

const (
	MetaStreamID      = "stream_id"
	MetaCallSID       = "call_sid"
	MetaTraceID       = "trace_id"
	MetaSource        = "source"
	MetaEncoding      = "encoding"
	MetaFromNumber    = "from_number"
	MetaCallEndReason = "call_end_reason"
	MetaSegment       = "segment_seq"
	MetaProfile       = "profile"
)
