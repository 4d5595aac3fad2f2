package pack

const (
	ManifestSchemaID      = "gait.pack.manifest"
	ManifestSchemaVersion = "1.0.0"
	RunPayloadSchemaID    = "gait.pack.run"
	RunPayloadVersion     = "1.0.0"
)

// Manifest is the self-describing index of a PackSpec archive. CreatedAt is a
// caller-supplied RFC3339 string rather than a time value: the producer kit
// emits reproducible archives, so the timestamp is an input, never the clock.
type Manifest struct {
	SchemaID        string      `json:"schema_id"`
	SchemaVersion   string      `json:"schema_version"`
	CreatedAt       string      `json:"created_at"`
	ProducerVersion string      `json:"producer_version"`
	PackID          string      `json:"pack_id"`
	PackType        string      `json:"pack_type"`
	SourceRef       string      `json:"source_ref"`
	Contents        []Entry     `json:"contents"`
	Signatures      []Signature `json:"signatures,omitempty"`
}

type Entry struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
	Type   string `json:"type"`
}

type Signature struct {
	Alg          string `json:"alg"`
	KeyID        string `json:"key_id"`
	Sig          string `json:"sig"`
	SignedDigest string `json:"signed_digest,omitempty"`
}

type RunPayload struct {
	SchemaID       string `json:"schema_id"`
	SchemaVersion  string `json:"schema_version"`
	CreatedAt      string `json:"created_at"`
	RunID          string `json:"run_id"`
	CaptureMode    string `json:"capture_mode"`
	ManifestDigest string `json:"manifest_digest"`
	IntentsCount   int    `json:"intents_count"`
	ResultsCount   int    `json:"results_count"`
	RefsCount      int    `json:"refs_count"`
}
