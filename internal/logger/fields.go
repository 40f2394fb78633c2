package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Tracing fields, propagated through the call chain via context.
const (
	// FieldRequestID is the HTTP request ID (UUID)
	FieldRequestID = "request_id"

	// FieldPaperID is the paper identifier a request or job works on
	FieldPaperID = "paper_id"

	// FieldJobID is the conversion job ID
	FieldJobID = "job_id"

	// FieldComponent is the component/module name
	FieldComponent = "component"

	// FieldTool is the invoked tool name on the tool protocol endpoint
	FieldTool = "tool"
)

// Metric fields, attached per entry for aggregation.
const (
	// FieldDurationMs is the execution duration in milliseconds
	FieldDurationMs = "duration_ms"

	// FieldSize is the data size in bytes
	FieldSize = "size"

	// FieldStatus is the operation status
	FieldStatus = "status"

	// FieldPhase is the conversion phase after a transition
	FieldPhase = "phase"
)
