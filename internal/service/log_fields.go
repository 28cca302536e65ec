package service

// Structured log field names shared across handlers and middleware.
const (
	LogFieldRequestID    = "request_id"
	LogFieldTraceID      = "trace_id"
	LogFieldMethod       = "method"
	LogFieldURL          = "url"
	LogFieldStatusCode   = "status_code"
	LogFieldDuration     = "duration_ms"
	LogFieldRemoteIP     = "remote_ip"
	LogFieldUserAgent    = "user_agent"
	LogFieldSize         = "response_size"
	LogFieldEvent        = "event"
	LogFieldInstance     = "instance"
	LogFieldConversation = "conversation_id"
	LogFieldMessageID    = "message_id"
	LogFieldExternalID   = "external_id"
)
