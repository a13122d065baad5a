package frames

const (
	MetaStreamID   = "stream_id"
	MetaCallSID    = "call_sid"
	MetaTraceID    = "trace_id"
	MetaSource     = "source"
	MetaEncoding   = "encoding"
	MetaReason     = "reason"
	MetaFromNumber = "from_number"
	MetaCallStatus = "call_status"
)
