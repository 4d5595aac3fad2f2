package gate

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/davidahmann/gait-sdk-go/core/jcs"
)

// NewIntentRequest builds an intent with the fixed schema header, a UTC
// timestamp, and the default producer version. Callers adjust fields before
// evaluation; the zero-value CreatedAt never leaves this constructor.
func NewIntentRequest(toolName string, args map[string]any, context IntentContext) IntentRequest {
	if args == nil {
		args = map[string]any{}
	}
	return IntentRequest{
		SchemaID:        IntentRequestSchemaID,
		SchemaVersion:   IntentRequestSchemaVersion,
		CreatedAt:       time.Now().UTC(),
		ProducerVersion: DefaultProducerVersion,
		ToolName:        toolName,
		Args:            args,
		Targets:         []IntentTarget{},
		Context:         context,
	}
}

// ArgsDigest returns the sha256 hex digest of the canonical form of an args
// object.
func ArgsDigest(args map[string]any) (string, error) {
	if args == nil {
		args = map[string]any{}
	}
	return jcs.DigestValue(args)
}

// IntentDigest returns the sha256 hex digest of the canonical serialized
// intent. The digest fields themselves are blanked first so a request with
// precomputed digests hashes the same as one without.
func IntentDigest(request IntentRequest) (string, error) {
	request.ArgsDigest = ""
	request.IntentDigest = ""
	return jcs.DigestValue(request)
}

// ParseTraceRecord decodes a trace payload, enforcing the fixed schema_id.
// The full source object is retained in Raw.
func ParseTraceRecord(payload []byte) (TraceRecord, error) {
	var record TraceRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return TraceRecord{}, fmt.Errorf("parse trace record: %w", err)
	}
	if record.SchemaID != TraceSchemaID {
		return TraceRecord{}, fmt.Errorf("unexpected trace schema_id: %s", record.SchemaID)
	}
	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return TraceRecord{}, fmt.Errorf("parse trace record: %w", err)
	}
	record.CreatedAt = record.CreatedAt.UTC()
	record.Raw = raw
	return record, nil
}
