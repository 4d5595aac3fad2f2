// Package session accumulates gated tool attempts into a run-pack record and
// submits it to `gait run record` on finalize. A Session is an explicit
// value; there is no ambient active session.
package session

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/davidahmann/gait-sdk-go/core/client"
	coreerrors "github.com/davidahmann/gait-sdk-go/core/errors"
	"github.com/davidahmann/gait-sdk-go/core/jcs"
	"github.com/davidahmann/gait-sdk-go/core/schema/v1/gate"
	"github.com/davidahmann/gait-sdk-go/core/schema/v1/runpack"
)

// Options configure a new Session. RunID is required; zero values elsewhere
// take the documented defaults.
type Options struct {
	RunID string
	// CaptureMode is "reference" (default) or "raw".
	CaptureMode string
	// IncludeRawPayload retains args and result bodies in the records; only
	// honored when CaptureMode is "raw".
	IncludeRawPayload bool
	ProducerVersion   string
	// OutDir receives the recorded bundle; empty means "gait-out".
	OutDir              string
	ContextEvidenceMode string
	ContextEnvelope     string
	Invoker             client.Invoker
}

// Attempt summarizes one recorded tool attempt.
type Attempt struct {
	IntentID string
	ToolName string
	Verdict  string
	Executed bool
	Status   string
}

// AttemptInput carries everything RecordAttempt needs about one gated call.
type AttemptInput struct {
	Intent   gate.IntentRequest
	Decision client.GateEvalResult
	Executed bool
	// Result is the executor's return value; recorded only when Executed.
	Result any
	// Err is the executor's error, if any.
	Err error
}

// Session collects intents, results, and trace receipts for one run. Safe for
// use from multiple goroutines.
type Session struct {
	runID               string
	captureMode         string
	includeRawPayload   bool
	producerVersion     string
	outDir              string
	contextEnvelope     string
	invoker             client.Invoker

	mu                  sync.Mutex
	closed              bool
	attemptCount        int
	startedAt           time.Time
	timeline            []runpack.TimelineEvent
	intents             []runpack.IntentRecord
	results             []runpack.ResultRecord
	receipts            []runpack.RefReceipt
	attempts            []Attempt
	contextSetDigest    string
	contextEvidenceMode string
	contextRefs         []string
	capture             *client.RunRecordCapture
	recordInput         *runpack.RecordInput
}

// New validates options and opens a session, stamping run_started.
func New(opts Options) (*Session, error) {
	runID := strings.TrimSpace(opts.RunID)
	if runID == "" {
		return nil, coreerrors.Wrap(
			fmt.Errorf("run_id is required"),
			coreerrors.CategoryInvalidInput, "missing_run_id", "set Options.RunID", false)
	}
	captureMode := opts.CaptureMode
	if captureMode == "" {
		captureMode = "reference"
	}
	if captureMode != "reference" && captureMode != "raw" {
		return nil, coreerrors.Wrap(
			fmt.Errorf("capture_mode must be 'reference' or 'raw', got %q", captureMode),
			coreerrors.CategoryInvalidInput, "invalid_capture_mode", "use reference unless raw payload retention is intended", false)
	}
	producerVersion := opts.ProducerVersion
	if producerVersion == "" {
		producerVersion = gate.DefaultProducerVersion
	}
	outDir := opts.OutDir
	if outDir == "" {
		outDir = "gait-out"
	}

	startedAt := time.Now().UTC()
	return &Session{
		runID:               runID,
		captureMode:         captureMode,
		includeRawPayload:   opts.IncludeRawPayload,
		producerVersion:     producerVersion,
		outDir:              outDir,
		contextEnvelope:     opts.ContextEnvelope,
		invoker:             opts.Invoker,
		startedAt:           startedAt,
		contextEvidenceMode: opts.ContextEvidenceMode,
		timeline: []runpack.TimelineEvent{
			{Event: "run_started", TS: startedAt},
		},
	}, nil
}

// RunID returns the session's run identifier.
func (s *Session) RunID() string { return s.runID }

// Attempts returns a copy of the recorded attempt summaries.
func (s *Session) Attempts() []Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Attempt{}, s.attempts...)
}

// Capture returns the finalize result, or nil before Finalize succeeds.
func (s *Session) Capture() *client.RunRecordCapture {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capture
}

// RecordInput returns the document submitted at finalize, or nil before then.
func (s *Session) RecordInput() *runpack.RecordInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordInput
}

// RecordAttempt appends one gated call to the session: an intent record, a
// result record, a trace receipt, and the timeline events. Raw args and
// result bodies are retained only in raw capture mode with
// IncludeRawPayload set.
func (s *Session) RecordAttempt(input AttemptInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return coreerrors.Wrap(
			fmt.Errorf("run session already finalized"),
			coreerrors.CategoryInvalidInput, "session_finalized", "open a new session for further attempts", false)
	}

	s.attemptCount++
	intentID := fmt.Sprintf("intent_%04d", s.attemptCount)
	createdAt := time.Now().UTC()

	argsDigest := input.Intent.ArgsDigest
	if argsDigest == "" {
		digest, err := gate.ArgsDigest(input.Intent.Args)
		if err != nil {
			return coreerrors.Wrap(
				fmt.Errorf("digest intent args: %w", err),
				coreerrors.CategoryInvalidInput, "args_digest_failed", "check args for non-serializable values", false)
		}
		argsDigest = digest
	}
	intentDigest := input.Intent.IntentDigest
	if intentDigest == "" {
		digest, err := jcs.DigestValue(input.Intent)
		if err != nil {
			return coreerrors.Wrap(
				fmt.Errorf("digest intent request: %w", err),
				coreerrors.CategoryInvalidInput, "intent_digest_failed", "check the intent for non-serializable values", false)
		}
		intentDigest = digest
	}

	s.absorbContext(input.Intent.Context)

	intentRecord := runpack.IntentRecord{
		SchemaID:        runpack.IntentSchemaID,
		SchemaVersion:   runpack.SchemaVersion,
		CreatedAt:       createdAt,
		ProducerVersion: s.producerVersion,
		RunID:           s.runID,
		IntentID:        intentID,
		ToolName:        input.Intent.ToolName,
		ArgsDigest:      argsDigest,
	}
	if s.retainRaw() {
		intentRecord.Args = input.Intent.Args
	}
	s.intents = append(s.intents, intentRecord)

	verdict := input.Decision.Verdict
	if verdict == "" {
		verdict = "unknown"
	}
	status := resultStatus(verdict, input.Executed, input.Err)

	decisionIntentDigest := input.Decision.IntentDigest
	if decisionIntentDigest == "" {
		decisionIntentDigest = intentDigest
	}
	resultPayload := map[string]any{
		"executed":      input.Executed,
		"verdict":       verdict,
		"reason_codes":  input.Decision.ReasonCodes,
		"trace_id":      input.Decision.TraceID,
		"trace_path":    input.Decision.TracePath,
		"policy_digest": input.Decision.PolicyDigest,
		"intent_digest": decisionIntentDigest,
	}
	if input.Err != nil {
		resultPayload["error"] = input.Err.Error()
	}
	if input.Executed && input.Result != nil {
		resultPayload["result"] = input.Result
	}
	resultDigest, err := jcs.DigestValue(resultPayload)
	if err != nil {
		return coreerrors.Wrap(
			fmt.Errorf("digest result payload: %w", err),
			coreerrors.CategoryInvalidInput, "result_digest_failed", "check the result for non-serializable values", false)
	}

	resultRecord := runpack.ResultRecord{
		SchemaID:        runpack.ResultSchemaID,
		SchemaVersion:   runpack.SchemaVersion,
		CreatedAt:       createdAt,
		ProducerVersion: s.producerVersion,
		RunID:           s.runID,
		IntentID:        intentID,
		Status:          status,
		ResultDigest:    resultDigest,
	}
	if s.retainRaw() {
		resultRecord.Result = resultPayload
	}
	s.results = append(s.results, resultRecord)

	traceRef := input.Decision.TraceID
	if traceRef == "" {
		traceRef = intentID
	}
	sourceLocator := input.Decision.TracePath
	if sourceLocator == "" {
		sourceLocator = "trace://" + traceRef
	}
	queryDigest, err := jcs.DigestValue(map[string]any{
		"tool_name":   input.Intent.ToolName,
		"args_digest": argsDigest,
	})
	if err != nil {
		return coreerrors.Wrap(
			fmt.Errorf("digest trace query: %w", err),
			coreerrors.CategoryInvalidInput, "query_digest_failed", "check the intent for non-serializable values", false)
	}
	s.receipts = append(s.receipts, runpack.RefReceipt{
		RefID:         "trace_" + intentID,
		SourceType:    "gait.trace",
		SourceLocator: sourceLocator,
		QueryDigest:   queryDigest,
		ContentDigest: resultDigest,
		RetrievedAt:   createdAt,
		RedactionMode: s.captureMode,
		RetrievalParams: map[string]any{
			"verdict":      verdict,
			"reason_codes": input.Decision.ReasonCodes,
		},
	})

	s.timeline = append(s.timeline,
		runpack.TimelineEvent{Event: "intent_captured", TS: createdAt, Ref: intentID},
		runpack.TimelineEvent{Event: "result_captured", TS: createdAt, Ref: intentID},
	)
	s.attempts = append(s.attempts, Attempt{
		IntentID: intentID,
		ToolName: input.Intent.ToolName,
		Verdict:  verdict,
		Executed: input.Executed,
		Status:   status,
	})
	return nil
}

// Finalize stamps run_finished, assembles the record input, and submits it
// via `gait run record`. It is idempotent: the first successful capture is
// returned on every subsequent call.
func (s *Session) Finalize(ctx context.Context) (client.RunRecordCapture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capture != nil {
		return *s.capture, nil
	}

	finishedAt := time.Now().UTC()
	timeline := append(append([]runpack.TimelineEvent{}, s.timeline...),
		runpack.TimelineEvent{Event: "run_finished", TS: finishedAt})

	recordInput := runpack.RecordInput{
		Run: runpack.Run{
			SchemaID:        runpack.RunSchemaID,
			SchemaVersion:   runpack.SchemaVersion,
			CreatedAt:       s.startedAt,
			ProducerVersion: s.producerVersion,
			RunID:           s.runID,
			Env: runpack.Env{
				OS:      runtime.GOOS,
				Arch:    runtime.GOARCH,
				Runtime: runtime.Version(),
			},
			Timeline: timeline,
		},
		Intents: append([]runpack.IntentRecord{}, s.intents...),
		Results: append([]runpack.ResultRecord{}, s.results...),
		Refs: runpack.Refs{
			SchemaID:            runpack.RefsSchemaID,
			SchemaVersion:       runpack.SchemaVersion,
			CreatedAt:           finishedAt,
			ProducerVersion:     s.producerVersion,
			RunID:               s.runID,
			Receipts:            append([]runpack.RefReceipt{}, s.receipts...),
			ContextSetDigest:    s.contextSetDigest,
			ContextEvidenceMode: s.contextEvidenceMode,
			ContextRefCount:     len(s.contextRefs),
		},
		CaptureMode: s.captureMode,
	}
	if recordInput.Refs.Receipts == nil {
		recordInput.Refs.Receipts = []runpack.RefReceipt{}
	}
	if recordInput.Intents == nil {
		recordInput.Intents = []runpack.IntentRecord{}
	}
	if recordInput.Results == nil {
		recordInput.Results = []runpack.ResultRecord{}
	}

	capture, err := s.invoker.RecordRunpack(ctx, client.RecordOptions{
		Input:               recordInput,
		OutDir:              s.outDir,
		CaptureMode:         s.captureMode,
		ContextEvidenceMode: s.contextEvidenceMode,
		ContextEnvelope:     s.contextEnvelope,
	})
	if err != nil {
		// Not closed: the caller may retry Finalize after fixing the cause.
		return client.RunRecordCapture{}, err
	}

	s.recordInput = &recordInput
	s.capture = &capture
	s.closed = true
	return capture, nil
}

func (s *Session) retainRaw() bool {
	return s.captureMode == "raw" && s.includeRawPayload
}

// absorbContext lifts context evidence off an intent: first digest and mode
// win, refs are deduplicated in arrival order.
func (s *Session) absorbContext(context gate.IntentContext) {
	if context.ContextSetDigest != "" && s.contextSetDigest == "" {
		s.contextSetDigest = context.ContextSetDigest
	}
	if context.ContextEvidenceMode != "" && s.contextEvidenceMode == "" {
		s.contextEvidenceMode = context.ContextEvidenceMode
	}
	for _, ref := range context.ContextRefs {
		value := strings.TrimSpace(ref)
		if value == "" {
			continue
		}
		seen := false
		for _, existing := range s.contextRefs {
			if existing == value {
				seen = true
				break
			}
		}
		if !seen {
			s.contextRefs = append(s.contextRefs, value)
		}
	}
}

func resultStatus(verdict string, executed bool, err error) string {
	switch {
	case err != nil:
		return "error"
	case executed:
		return "ok"
	case verdict == gate.VerdictDryRun:
		return "dry_run"
	case verdict != "":
		return verdict
	default:
		return "blocked"
	}
}
