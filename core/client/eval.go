package client

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	coreerrors "github.com/davidahmann/gait-sdk-go/core/errors"
	"github.com/davidahmann/gait-sdk-go/core/fsx"
	"github.com/davidahmann/gait-sdk-go/core/schema/v1/gate"
	"github.com/davidahmann/gait-sdk-go/core/schema/validate"
)

// GateEvalResult is the decoded `gait gate eval --json` payload. ExitCode is
// filled from the process, not the JSON body, so callers can distinguish
// allow/dry_run (0) from block (3) and require_approval (4).
type GateEvalResult struct {
	OK                 bool             `json:"ok"`
	ExitCode           int              `json:"-"`
	Verdict            string           `json:"verdict"`
	ReasonCodes        []string         `json:"reason_codes"`
	Violations         []string         `json:"violations"`
	ApprovalRef        string           `json:"approval_ref"`
	TraceID            string           `json:"trace_id"`
	TracePath          string           `json:"trace_path"`
	PolicyDigest       string           `json:"policy_digest"`
	IntentDigest       string           `json:"intent_digest"`
	Script             bool             `json:"script"`
	StepCount          int              `json:"step_count"`
	ScriptHash         string           `json:"script_hash"`
	CompositeRiskClass string           `json:"composite_risk_class"`
	PreApproved        bool             `json:"pre_approved"`
	PatternID          string           `json:"pattern_id"`
	RegistryReason     string           `json:"registry_reason"`
	StepVerdicts       []map[string]any `json:"step_verdicts"`
	Warnings           []string         `json:"warnings"`
	Error              string           `json:"error"`
}

// EvalOptions parameterize one gate evaluation. PolicyPath and Intent are
// required; everything else maps one-to-one onto a gate eval flag and is
// omitted when empty.
type EvalOptions struct {
	PolicyPath string
	Intent     gate.IntentRequest

	TraceOut      string
	ApprovalToken string

	// KeyMode selects the signing mode passed as --key-mode; empty means "dev".
	KeyMode       string
	PrivateKey    string
	PrivateKeyEnv string

	ApprovalPublicKey     string
	ApprovalPublicKeyEnv  string
	ApprovalPrivateKey    string
	ApprovalPrivateKeyEnv string

	DelegationToken         string
	DelegationTokenChain    []string
	DelegationPublicKey     string
	DelegationPublicKeyEnv  string
	DelegationPrivateKey    string
	DelegationPrivateKeyEnv string
}

// EvaluateGate writes the intent to a call-scoped temp file, validates it
// against the intent-request schema, and runs `gait gate eval`. Exit codes 0,
// 3, and 4 return a decoded result; any other exit code is a CommandError.
func (inv Invoker) EvaluateGate(ctx context.Context, opts EvalOptions) (GateEvalResult, error) {
	if opts.PolicyPath == "" {
		return GateEvalResult{}, coreerrors.Wrap(
			fmt.Errorf("policy path is required"),
			coreerrors.CategoryInvalidInput, "missing_policy_path", "set EvalOptions.PolicyPath", false)
	}

	intentJSON, err := json.MarshalIndent(opts.Intent, "", "  ")
	if err != nil {
		return GateEvalResult{}, coreerrors.Wrap(
			fmt.Errorf("serialize intent request: %w", err),
			coreerrors.CategoryInvalidInput, "intent_serialize_failed", "check args for non-serializable values", false)
	}
	intentJSON = append(intentJSON, '\n')

	if err := validate.ValidateIntentRequest(intentJSON); err != nil {
		return GateEvalResult{}, coreerrors.Wrap(
			fmt.Errorf("intent request failed schema validation: %w", err),
			coreerrors.CategorySchemaValidation, "intent_schema_invalid", "populate the required intent fields before evaluating", false)
	}

	tmpDir, err := os.MkdirTemp("", "gait-intent-")
	if err != nil {
		return GateEvalResult{}, coreerrors.Wrap(
			fmt.Errorf("create intent temp dir: %w", err),
			coreerrors.CategoryIOFailure, "tempdir_failed", "check TMPDIR permissions", true)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	intentPath := filepath.Join(tmpDir, "intent.json")
	if err := fsx.WriteFileAtomic(intentPath, intentJSON, 0o600); err != nil {
		return GateEvalResult{}, err
	}

	arguments := opts.arguments(intentPath)
	result, err := inv.runCommand(ctx, arguments)
	if err != nil {
		return GateEvalResult{}, err
	}

	payload, ok := parseJSONStdout(result.Stdout)
	if !ok {
		return GateEvalResult{}, protocolError("failed to parse JSON from gait gate eval", result)
	}

	switch result.ExitCode {
	case exitOK, exitPolicyBlocked, exitApprovalRequired:
		return decodeGateEvalResult(payload, result)
	default:
		return GateEvalResult{}, commandFailure(payloadErrorMessage(payload, "gait gate eval failed"), result)
	}
}

func (opts EvalOptions) arguments(intentPath string) []string {
	keyMode := opts.KeyMode
	if keyMode == "" {
		keyMode = "dev"
	}
	arguments := []string{
		"gate", "eval",
		"--policy", opts.PolicyPath,
		"--intent", intentPath,
		"--key-mode", keyMode,
		"--json",
	}
	appendFlag := func(flag, value string) {
		if value != "" {
			arguments = append(arguments, flag, value)
		}
	}
	appendFlag("--trace-out", opts.TraceOut)
	appendFlag("--approval-token", opts.ApprovalToken)
	appendFlag("--delegation-token", opts.DelegationToken)
	if len(opts.DelegationTokenChain) > 0 {
		arguments = append(arguments, "--delegation-token-chain", strings.Join(opts.DelegationTokenChain, ","))
	}
	appendFlag("--private-key", opts.PrivateKey)
	appendFlag("--private-key-env", opts.PrivateKeyEnv)
	appendFlag("--approval-public-key", opts.ApprovalPublicKey)
	appendFlag("--approval-public-key-env", opts.ApprovalPublicKeyEnv)
	appendFlag("--approval-private-key", opts.ApprovalPrivateKey)
	appendFlag("--approval-private-key-env", opts.ApprovalPrivateKeyEnv)
	appendFlag("--delegation-public-key", opts.DelegationPublicKey)
	appendFlag("--delegation-public-key-env", opts.DelegationPublicKeyEnv)
	appendFlag("--delegation-private-key", opts.DelegationPrivateKey)
	appendFlag("--delegation-private-key-env", opts.DelegationPrivateKeyEnv)
	return arguments
}

func decodeGateEvalResult(payload map[string]any, result commandResult) (GateEvalResult, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return GateEvalResult{}, protocolError("failed to re-encode gait gate eval payload", result)
	}
	var decoded GateEvalResult
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		return GateEvalResult{}, protocolError("gait gate eval payload has unexpected field types", result)
	}
	decoded.ExitCode = result.ExitCode
	return decoded, nil
}

// WriteTrace copies an emitted trace file to destinationPath after checking
// that it is a well-formed gait.gate.trace record. Parent directories are
// created as needed. It returns the destination path.
func WriteTrace(tracePath, destinationPath string) (string, error) {
	raw, err := os.ReadFile(tracePath)
	if err != nil {
		return "", coreerrors.Wrap(
			fmt.Errorf("trace file not found: %s: %w", tracePath, err),
			coreerrors.CategoryIOFailure, "trace_missing", "pass the path emitted via --trace-out", false)
	}
	if _, err := gate.ParseTraceRecord(raw); err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(destinationPath), 0o755); err != nil {
		return "", coreerrors.Wrap(
			fmt.Errorf("create trace destination dir: %w", err),
			coreerrors.CategoryIOFailure, "trace_destination_failed", "check destination permissions", true)
	}
	if err := fsx.WriteFileAtomic(destinationPath, raw, 0o644); err != nil {
		return "", err
	}
	return destinationPath, nil
}
