package emitter

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/e7canasta/orion-scan/internal/config"
	"github.com/e7canasta/orion-scan/modules/handoff"
)

// Envelope is the wire form of one hand-off.
type Envelope struct {
	SessionID     string `json:"session_id" msgpack:"session_id"`
	Identifier    string `json:"identifier" msgpack:"identifier"`
	Method        string `json:"method" msgpack:"method"`
	SourcePayload string `json:"source_payload" msgpack:"source_payload"`
	DeliveredAt   string `json:"delivered_at" msgpack:"delivered_at"` // RFC3339Nano, UTC
}

// NewEnvelope flattens d.
func NewEnvelope(d handoff.Delivery) Envelope {
	return Envelope{
		SessionID:     d.SessionID,
		Identifier:    d.Reference.Identifier,
		Method:        d.Reference.Method.String(),
		SourcePayload: d.Reference.SourcePayload,
		DeliveredAt:   d.DeliveredAt.UTC().Format(time.RFC3339Nano),
	}
}

// Encode marshals env as JSON or MsgPack.
func Encode(env Envelope, encoding string) ([]byte, error) {
	switch encoding {
	case config.EncodingJSON, "":
		return json.Marshal(env)
	case config.EncodingMsgpack:
		return msgpack.Marshal(env)
	default:
		return nil, fmt.Errorf("emitter: unknown encoding %q", encoding)
	}
}
