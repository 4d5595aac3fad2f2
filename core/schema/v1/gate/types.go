package gate

import "time"

const (
	IntentRequestSchemaID      = "gait.gate.intent_request"
	IntentRequestSchemaVersion = "1.0.0"
	TraceSchemaID              = "gait.gate.trace"
	TraceSchemaVersion         = "1.0.0"

	DefaultProducerVersion = "0.0.0-dev"
)

const (
	VerdictAllow           = "allow"
	VerdictBlock           = "block"
	VerdictRequireApproval = "require_approval"
	VerdictDryRun          = "dry_run"
)

type IntentRequest struct {
	SchemaID        string                `json:"schema_id"`
	SchemaVersion   string                `json:"schema_version"`
	CreatedAt       time.Time             `json:"created_at"`
	ProducerVersion string                `json:"producer_version"`
	ToolName        string                `json:"tool_name"`
	Args            map[string]any        `json:"args"`
	ArgsDigest      string                `json:"args_digest,omitempty"`
	IntentDigest    string                `json:"intent_digest,omitempty"`
	ScriptHash      string                `json:"script_hash,omitempty"`
	Script          *IntentScript         `json:"script,omitempty"`
	Targets         []IntentTarget        `json:"targets"`
	ArgProvenance   []IntentArgProvenance `json:"arg_provenance,omitempty"`
	Delegation      *IntentDelegation     `json:"delegation,omitempty"`
	Context         IntentContext         `json:"context"`
}

type IntentScript struct {
	Steps []IntentScriptStep `json:"steps"`
}

type IntentScriptStep struct {
	ToolName      string                `json:"tool_name"`
	Args          map[string]any        `json:"args"`
	Targets       []IntentTarget        `json:"targets,omitempty"`
	ArgProvenance []IntentArgProvenance `json:"arg_provenance,omitempty"`
}

type IntentTarget struct {
	Kind        string `json:"kind"`
	Value       string `json:"value"`
	Operation   string `json:"operation,omitempty"`
	Sensitivity string `json:"sensitivity,omitempty"`
}

type IntentArgProvenance struct {
	ArgPath         string `json:"arg_path"`
	Source          string `json:"source"`
	SourceRef       string `json:"source_ref,omitempty"`
	IntegrityDigest string `json:"integrity_digest,omitempty"`
}

type IntentContext struct {
	Identity               string         `json:"identity"`
	Workspace              string         `json:"workspace"`
	RiskClass              string         `json:"risk_class"`
	SessionID              string         `json:"session_id,omitempty"`
	RequestID              string         `json:"request_id,omitempty"`
	AuthContext            map[string]any `json:"auth_context,omitempty"`
	CredentialScopes       []string       `json:"credential_scopes,omitempty"`
	EnvironmentFingerprint string         `json:"environment_fingerprint,omitempty"`
	ContextSetDigest       string         `json:"context_set_digest,omitempty"`
	ContextEvidenceMode    string         `json:"context_evidence_mode,omitempty"`
	ContextRefs            []string       `json:"context_refs,omitempty"`
}

// IntentDelegation records on whose authority the tool call executes. Chain
// order is significant (root delegator first) and passed through untouched;
// validation belongs to the external verifier.
type IntentDelegation struct {
	RequesterIdentity string           `json:"requester_identity"`
	ScopeClass        string           `json:"scope_class,omitempty"`
	TokenRefs         []string         `json:"token_refs,omitempty"`
	Chain             []DelegationLink `json:"chain,omitempty"`
}

type DelegationLink struct {
	DelegatorIdentity string `json:"delegator_identity"`
	DelegateIdentity  string `json:"delegate_identity"`
	ScopeClass        string `json:"scope_class,omitempty"`
	TokenRef          string `json:"token_ref,omitempty"`
}

// TraceRecord is the signed audit record emitted by gate eval. Raw retains
// the complete source object for forward compatibility with fields this
// struct does not model.
type TraceRecord struct {
	SchemaID        string         `json:"schema_id"`
	SchemaVersion   string         `json:"schema_version"`
	CreatedAt       time.Time      `json:"created_at"`
	ProducerVersion string         `json:"producer_version"`
	TraceID         string         `json:"trace_id"`
	ToolName        string         `json:"tool_name"`
	ArgsDigest      string         `json:"args_digest"`
	IntentDigest    string         `json:"intent_digest"`
	PolicyDigest    string         `json:"policy_digest"`
	Verdict         string         `json:"verdict"`
	Raw             map[string]any `json:"-"`
}
