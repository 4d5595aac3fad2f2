package runpack

import "time"

const (
	ManifestSchemaID      = "gait.runpack.manifest"
	ManifestSchemaVersion = "1.0.0"
	RunSchemaID           = "gait.runpack.run"
	IntentSchemaID        = "gait.runpack.intent"
	ResultSchemaID        = "gait.runpack.result"
	RefsSchemaID          = "gait.runpack.refs"
	SchemaVersion         = "1.0.0"
)

// Manifest indexes the files inside a run-pack archive. CreatedAt stays a
// caller-supplied RFC3339 string so reproducible producers control the exact
// serialized bytes.
type Manifest struct {
	SchemaID        string         `json:"schema_id"`
	SchemaVersion   string         `json:"schema_version"`
	CreatedAt       string         `json:"created_at"`
	ProducerVersion string         `json:"producer_version"`
	RunID           string         `json:"run_id"`
	CaptureMode     string         `json:"capture_mode"`
	Files           []ManifestFile `json:"files"`
	ManifestDigest  string         `json:"manifest_digest"`
}

type ManifestFile struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
}

// RecordInput is the document submitted to `gait run record --input`.
type RecordInput struct {
	Run         Run            `json:"run"`
	Intents     []IntentRecord `json:"intents"`
	Results     []ResultRecord `json:"results"`
	Refs        Refs           `json:"refs"`
	CaptureMode string         `json:"capture_mode"`
}

type Run struct {
	SchemaID        string          `json:"schema_id"`
	SchemaVersion   string          `json:"schema_version"`
	CreatedAt       time.Time       `json:"created_at"`
	ProducerVersion string          `json:"producer_version"`
	RunID           string          `json:"run_id"`
	Env             Env             `json:"env"`
	Timeline        []TimelineEvent `json:"timeline"`
}

type Env struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Runtime string `json:"runtime"`
}

type TimelineEvent struct {
	Event string    `json:"event"`
	TS    time.Time `json:"ts"`
	Ref   string    `json:"ref,omitempty"`
}

type IntentRecord struct {
	SchemaID        string         `json:"schema_id"`
	SchemaVersion   string         `json:"schema_version"`
	CreatedAt       time.Time      `json:"created_at"`
	ProducerVersion string         `json:"producer_version"`
	RunID           string         `json:"run_id"`
	IntentID        string         `json:"intent_id"`
	ToolName        string         `json:"tool_name"`
	ArgsDigest      string         `json:"args_digest"`
	Args            map[string]any `json:"args,omitempty"`
}

type ResultRecord struct {
	SchemaID        string         `json:"schema_id"`
	SchemaVersion   string         `json:"schema_version"`
	CreatedAt       time.Time      `json:"created_at"`
	ProducerVersion string         `json:"producer_version"`
	RunID           string         `json:"run_id"`
	IntentID        string         `json:"intent_id"`
	Status          string         `json:"status"`
	ResultDigest    string         `json:"result_digest"`
	Result          map[string]any `json:"result,omitempty"`
}

type Refs struct {
	SchemaID            string       `json:"schema_id"`
	SchemaVersion       string       `json:"schema_version"`
	CreatedAt           time.Time    `json:"created_at"`
	ProducerVersion     string       `json:"producer_version"`
	RunID               string       `json:"run_id"`
	Receipts            []RefReceipt `json:"receipts"`
	ContextSetDigest    string       `json:"context_set_digest,omitempty"`
	ContextEvidenceMode string       `json:"context_evidence_mode,omitempty"`
	ContextRefCount     int          `json:"context_ref_count,omitempty"`
}

type RefReceipt struct {
	RefID           string         `json:"ref_id"`
	SourceType      string         `json:"source_type"`
	SourceLocator   string         `json:"source_locator"`
	QueryDigest     string         `json:"query_digest"`
	ContentDigest   string         `json:"content_digest"`
	RetrievedAt     time.Time      `json:"retrieved_at"`
	RedactionMode   string         `json:"redaction_mode"`
	RetrievalParams map[string]any `json:"retrieval_params,omitempty"`
}
