package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID  = "session_id"
	FieldGeneration = "generation"
	FieldTraceID    = "trace_id"

	// Process / pipeline fields
	FieldComponent = "component"
	FieldEvent     = "event"

	// Capture fields
	FieldDevice     = "device"
	FieldFacing     = "facing"
	FieldResolution = "resolution"
	FieldKind       = "kind"
	FieldFrameSeq   = "frame_seq"

	// Decode fields
	FieldPayload    = "payload"
	FieldIdentifier = "identifier"
	FieldMethod     = "method"
	FieldTier       = "tier"
	FieldInverted   = "inverted"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
)
