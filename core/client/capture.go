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
)

// DemoCapture is the parsed line-oriented output of `gait demo`.
type DemoCapture struct {
	RunID        string
	BundlePath   string
	TicketFooter string
	Verified     bool
	RawOutput    string
}

// RegressInitResult is the JSON payload of `gait regress init --json`.
type RegressInitResult struct {
	RunID        string   `json:"run_id"`
	FixtureName  string   `json:"fixture_name"`
	FixtureDir   string   `json:"fixture_dir"`
	RunpackPath  string   `json:"runpack_path"`
	ConfigPath   string   `json:"config_path"`
	NextCommands []string `json:"next_commands"`
}

// FixturePath joins the fixture directory and name.
func (r RegressInitResult) FixturePath() string {
	return filepath.Join(r.FixtureDir, r.FixtureName)
}

// RunRecordCapture summarizes a recorded run-pack bundle.
type RunRecordCapture struct {
	RunID          string
	BundlePath     string
	ManifestDigest string
	TicketFooter   string
}

// RecordOptions parameterize `gait run record`. Input is serialized verbatim
// as the --input document; runpack.RecordInput is the typed shape, but any
// JSON-serializable value is accepted.
type RecordOptions struct {
	Input any
	// OutDir receives the bundle; empty means "gait-out".
	OutDir string
	// CaptureMode must be "reference" or "raw"; empty means "reference".
	CaptureMode         string
	ContextEvidenceMode string
	ContextEnvelope     string
}

// CaptureDemoRunpack runs `gait demo` and parses its key=value output lines.
func (inv Invoker) CaptureDemoRunpack(ctx context.Context) (DemoCapture, error) {
	result, err := inv.runCommand(ctx, []string{"demo"})
	if err != nil {
		return DemoCapture{}, err
	}
	if result.ExitCode != exitOK {
		return DemoCapture{}, commandFailure("gait demo failed", result)
	}

	capture := DemoCapture{RawOutput: result.Stdout}
	for _, line := range strings.Split(result.Stdout, "\n") {
		switch {
		case strings.HasPrefix(line, "run_id="):
			capture.RunID = strings.TrimSpace(strings.TrimPrefix(line, "run_id="))
		case strings.HasPrefix(line, "bundle="):
			capture.BundlePath = strings.TrimSpace(strings.TrimPrefix(line, "bundle="))
		case strings.HasPrefix(line, "ticket_footer="):
			capture.TicketFooter = strings.TrimSpace(strings.TrimPrefix(line, "ticket_footer="))
		case strings.TrimSpace(line) == "verify=ok":
			capture.Verified = true
		}
	}
	if capture.RunID == "" || capture.BundlePath == "" {
		return DemoCapture{}, protocolError("unable to parse gait demo output", result)
	}
	return capture, nil
}

// CreateRegressFixture runs `gait regress init --from <run>` and decodes the
// JSON summary. ok=false in the payload is an error even on exit 0.
func (inv Invoker) CreateRegressFixture(ctx context.Context, fromRun string) (RegressInitResult, error) {
	result, err := inv.runCommand(ctx, []string{"regress", "init", "--from", fromRun, "--json"})
	if err != nil {
		return RegressInitResult{}, err
	}
	payload, ok := parseJSONStdout(result.Stdout)
	if !ok {
		return RegressInitResult{}, protocolError("failed to parse JSON from gait regress init", result)
	}
	if result.ExitCode != exitOK {
		return RegressInitResult{}, commandFailure(payloadErrorMessage(payload, "gait regress init failed"), result)
	}
	if okFlag, _ := payload["ok"].(bool); !okFlag {
		return RegressInitResult{}, commandFailure("gait regress init returned ok=false", result)
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return RegressInitResult{}, protocolError("failed to re-encode gait regress init payload", result)
	}
	var decoded RegressInitResult
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		return RegressInitResult{}, protocolError("gait regress init payload has unexpected field types", result)
	}
	return decoded, nil
}

// RecordRunpack serializes opts.Input to a call-scoped temp file and runs
// `gait run record`, returning the bundle summary.
func (inv Invoker) RecordRunpack(ctx context.Context, opts RecordOptions) (RunRecordCapture, error) {
	captureMode := opts.CaptureMode
	if captureMode == "" {
		captureMode = "reference"
	}
	if captureMode != "reference" && captureMode != "raw" {
		return RunRecordCapture{}, coreerrors.Wrap(
			fmt.Errorf("capture_mode must be 'reference' or 'raw', got %q", captureMode),
			coreerrors.CategoryInvalidInput, "invalid_capture_mode", "use reference unless raw payload retention is intended", false)
	}
	outDir := opts.OutDir
	if outDir == "" {
		outDir = "gait-out"
	}

	inputJSON, err := json.MarshalIndent(opts.Input, "", "  ")
	if err != nil {
		return RunRecordCapture{}, coreerrors.Wrap(
			fmt.Errorf("serialize run record input: %w", err),
			coreerrors.CategoryInvalidInput, "record_input_serialize_failed", "check the record input for non-serializable values", false)
	}
	inputJSON = append(inputJSON, '\n')

	tmpDir, err := os.MkdirTemp("", "gait-run-record-")
	if err != nil {
		return RunRecordCapture{}, coreerrors.Wrap(
			fmt.Errorf("create run record temp dir: %w", err),
			coreerrors.CategoryIOFailure, "tempdir_failed", "check TMPDIR permissions", true)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	inputPath := filepath.Join(tmpDir, "run_record.json")
	if err := fsx.WriteFileAtomic(inputPath, inputJSON, 0o600); err != nil {
		return RunRecordCapture{}, err
	}

	arguments := []string{
		"run", "record",
		"--input", inputPath,
		"--out-dir", outDir,
		"--capture-mode", captureMode,
		"--json",
	}
	if opts.ContextEvidenceMode != "" {
		arguments = append(arguments, "--context-evidence-mode", opts.ContextEvidenceMode)
	}
	if opts.ContextEnvelope != "" {
		arguments = append(arguments, "--context-envelope", opts.ContextEnvelope)
	}

	result, err := inv.runCommand(ctx, arguments)
	if err != nil {
		return RunRecordCapture{}, err
	}
	payload, ok := parseJSONStdout(result.Stdout)
	if !ok {
		return RunRecordCapture{}, protocolError("failed to parse JSON from gait run record", result)
	}
	if result.ExitCode != exitOK {
		return RunRecordCapture{}, commandFailure(payloadErrorMessage(payload, "gait run record failed"), result)
	}
	if okFlag, _ := payload["ok"].(bool); !okFlag {
		return RunRecordCapture{}, commandFailure("gait run record returned ok=false", result)
	}

	return RunRecordCapture{
		RunID:          stringField(payload, "run_id"),
		BundlePath:     stringField(payload, "bundle"),
		ManifestDigest: stringField(payload, "manifest_digest"),
		TicketFooter:   stringField(payload, "ticket_footer"),
	}, nil
}

func stringField(payload map[string]any, key string) string {
	value, _ := payload[key].(string)
	return value
}
