// Package adapter routes tool executions through gate evaluation and enforces
// the decision fail-closed: only an explicit allow verdict runs the tool.
package adapter

import (
	"context"
	"fmt"
	"strings"

	"github.com/davidahmann/gait-sdk-go/core/client"
	coreerrors "github.com/davidahmann/gait-sdk-go/core/errors"
	"github.com/davidahmann/gait-sdk-go/core/schema/v1/gate"
)

// EnforcementError reports a gate decision that prevented execution. The full
// decision stays attached for callers that branch on verdict or reason codes.
type EnforcementError struct {
	Decision client.GateEvalResult
}

func (e *EnforcementError) Error() string {
	verdict := e.Decision.Verdict
	if verdict == "" {
		verdict = "unknown"
	}
	reasons := "none"
	if len(e.Decision.ReasonCodes) > 0 {
		reasons = strings.Join(e.Decision.ReasonCodes, ",")
	}
	return fmt.Sprintf("execution blocked by gate verdict=%s reasons=%s", verdict, reasons)
}

// Executor runs the tool body once the gate allows it.
type Executor func(ctx context.Context, intent gate.IntentRequest) (any, error)

// Outcome pairs the gate decision with whether, and with what result, the
// tool actually ran.
type Outcome struct {
	Decision client.GateEvalResult
	Executed bool
	Result   any
}

// ToolAdapter binds a policy and key material to an Invoker so call sites
// only supply the intent. The zero KeyMode means "dev".
type ToolAdapter struct {
	PolicyPath string
	Invoker    client.Invoker

	KeyMode       string
	PrivateKey    string
	PrivateKeyEnv string

	ApprovalToken         string
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

// GateIntent evaluates an intent against the adapter's policy without
// executing anything. traceOut is optional.
func (a ToolAdapter) GateIntent(ctx context.Context, intent gate.IntentRequest, traceOut string) (client.GateEvalResult, error) {
	return a.Invoker.EvaluateGate(ctx, client.EvalOptions{
		PolicyPath:              a.PolicyPath,
		Intent:                  intent,
		TraceOut:                traceOut,
		ApprovalToken:           a.ApprovalToken,
		KeyMode:                 a.KeyMode,
		PrivateKey:              a.PrivateKey,
		PrivateKeyEnv:           a.PrivateKeyEnv,
		ApprovalPublicKey:       a.ApprovalPublicKey,
		ApprovalPublicKeyEnv:    a.ApprovalPublicKeyEnv,
		ApprovalPrivateKey:      a.ApprovalPrivateKey,
		ApprovalPrivateKeyEnv:   a.ApprovalPrivateKeyEnv,
		DelegationToken:         a.DelegationToken,
		DelegationTokenChain:    a.DelegationTokenChain,
		DelegationPublicKey:     a.DelegationPublicKey,
		DelegationPublicKeyEnv:  a.DelegationPublicKeyEnv,
		DelegationPrivateKey:    a.DelegationPrivateKey,
		DelegationPrivateKeyEnv: a.DelegationPrivateKeyEnv,
	})
}

// Execute gates the intent and runs executor only on an allow verdict.
// dry_run returns an unexecuted outcome without error; every other verdict,
// including ones this version does not know, is an EnforcementError.
func (a ToolAdapter) Execute(ctx context.Context, intent gate.IntentRequest, executor Executor, traceOut string) (Outcome, error) {
	decision, err := a.GateIntent(ctx, intent, traceOut)
	if err != nil {
		return Outcome{}, err
	}

	if !decision.OK {
		return Outcome{}, enforcementError(decision)
	}
	switch decision.Verdict {
	case gate.VerdictAllow:
		result, err := executor(ctx, intent)
		if err != nil {
			return Outcome{Decision: decision, Executed: true, Result: result}, err
		}
		return Outcome{Decision: decision, Executed: true, Result: result}, nil
	case gate.VerdictDryRun:
		return Outcome{Decision: decision, Executed: false}, nil
	default:
		return Outcome{}, enforcementError(decision)
	}
}

// Guard wraps a tool function the way Execute does but with stricter
// semantics for callers that need a value or an error: any outcome that did
// not execute, dry_run included, is an EnforcementError.
func (a ToolAdapter) Guard(ctx context.Context, intent gate.IntentRequest, executor Executor, traceOut string) (any, error) {
	outcome, err := a.Execute(ctx, intent, executor, traceOut)
	if err != nil {
		return nil, err
	}
	if !outcome.Executed {
		return nil, enforcementError(outcome.Decision)
	}
	return outcome.Result, nil
}

// CaptureRunpack captures the demo run-pack via the adapter's invoker.
func (a ToolAdapter) CaptureRunpack(ctx context.Context) (client.DemoCapture, error) {
	return a.Invoker.CaptureDemoRunpack(ctx)
}

// CreateRegressionFixture scaffolds a regression fixture from a recorded run.
func (a ToolAdapter) CreateRegressionFixture(ctx context.Context, fromRun string) (client.RegressInitResult, error) {
	return a.Invoker.CreateRegressFixture(ctx, fromRun)
}

func enforcementError(decision client.GateEvalResult) error {
	return coreerrors.Wrap(
		&EnforcementError{Decision: decision},
		coreerrors.CategoryEnforcement, "gate_"+nonEmptyVerdict(decision), "inspect the decision's reason codes", false)
}

func nonEmptyVerdict(decision client.GateEvalResult) string {
	if decision.Verdict == "" {
		return "unknown"
	}
	return decision.Verdict
}
