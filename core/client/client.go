// Package client speaks the gait CLI's JSON subprocess protocol: it writes
// intent payloads to call-scoped temp files, invokes the external binary with
// an explicit timeout, and maps the documented exit codes onto decisions.
// Policy evaluation itself lives entirely in the binary.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	coreerrors "github.com/davidahmann/gait-sdk-go/core/errors"
)

// DefaultCommandTimeout bounds every gait invocation unless the Invoker
// overrides it. Callers needing different bounds configure their own Invoker;
// there is no package-level knob.
const DefaultCommandTimeout = 30 * time.Second

// Exit codes produced by the gait binary. Block and approval-required are
// verdict carriers, not failures.
const (
	exitOK               = 0
	exitPolicyBlocked    = 3
	exitApprovalRequired = 4
)

// Invoker carries the per-caller configuration for spawning the gait binary.
// The zero value runs `gait` from PATH in the current directory with the
// default timeout.
type Invoker struct {
	// Bin is the command prefix, e.g. {"gait"} or {"go", "run", "./cmd/gait"}.
	Bin []string
	// Dir is the working directory for spawned processes; empty means inherit.
	Dir string
	// Timeout bounds each invocation; zero means DefaultCommandTimeout.
	Timeout time.Duration
}

// CommandError reports a gait invocation that failed at the tooling level:
// unexpected exit code, unparseable stdout, a process that could not be
// started, or a timeout. It carries the full invocation for diagnostics.
type CommandError struct {
	Message  string
	Command  []string
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
}

func (e *CommandError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("%s: command timed out: %s", e.Message, strings.Join(e.Command, " "))
	}
	return fmt.Sprintf("%s: %s (exit %d)", e.Message, strings.Join(e.Command, " "), e.ExitCode)
}

type commandResult struct {
	Command  []string
	ExitCode int
	Stdout   string
	Stderr   string
}

func (inv Invoker) commandPrefix() []string {
	if len(inv.Bin) == 0 {
		return []string{"gait"}
	}
	return append([]string{}, inv.Bin...)
}

func (inv Invoker) timeout() time.Duration {
	if inv.Timeout > 0 {
		return inv.Timeout
	}
	return DefaultCommandTimeout
}

func (inv Invoker) runCommand(ctx context.Context, arguments []string) (commandResult, error) {
	argv := append(inv.commandPrefix(), arguments...)

	runCtx, cancel := context.WithTimeout(ctx, inv.timeout())
	defer cancel()

	// #nosec G204 -- argv is assembled from caller-provided configuration.
	command := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	command.Dir = inv.Dir
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	err := command.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return commandResult{}, coreerrors.Wrap(&CommandError{
			Message:  "gait command timed out",
			Command:  argv,
			ExitCode: -1,
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			TimedOut: true,
		}, coreerrors.CategoryTimeout, "command_timeout", "raise Invoker.Timeout or check the gait binary", false)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return commandResult{}, coreerrors.Wrap(&CommandError{
				Message:  fmt.Sprintf("gait command failed to start: %v", err),
				Command:  argv,
				ExitCode: -1,
				Stdout:   stdout.String(),
				Stderr:   stderr.String(),
			}, coreerrors.CategoryCommandFailed, "command_start_failed", "check that the gait binary is installed and executable", false)
		}
		// Non-zero exits reach the caller as data: verdict-carrying codes
		// are part of the protocol, not failures.
	}

	return commandResult{
		Command:  argv,
		ExitCode: command.ProcessState.ExitCode(),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}

// parseJSONStdout decodes stdout that must contain exactly one JSON object.
func parseJSONStdout(stdout string) (map[string]any, bool) {
	content := strings.TrimSpace(stdout)
	if content == "" {
		return nil, false
	}
	decoder := json.NewDecoder(strings.NewReader(content))
	var payload map[string]any
	if err := decoder.Decode(&payload); err != nil {
		return nil, false
	}
	if decoder.More() {
		return nil, false
	}
	return payload, true
}

func protocolError(message string, result commandResult) error {
	return coreerrors.Wrap(&CommandError{
		Message:  message,
		Command:  result.Command,
		ExitCode: result.ExitCode,
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
	}, coreerrors.CategoryProtocol, "stdout_not_json", "gait must emit a single JSON object on stdout", false)
}

func commandFailure(message string, result commandResult) error {
	return coreerrors.Wrap(&CommandError{
		Message:  message,
		Command:  result.Command,
		ExitCode: result.ExitCode,
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
	}, coreerrors.CategoryCommandFailed, "command_failed", "inspect stderr for the gait diagnostic", false)
}

func payloadErrorMessage(payload map[string]any, fallback string) string {
	if message, ok := payload["error"].(string); ok && strings.TrimSpace(message) != "" {
		return message
	}
	return fallback
}
