package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestWrapCarriesClassification(t *testing.T) {
	cause := fmt.Errorf("boom")
	err := Wrap(cause, CategoryTimeout, "command_timeout", "raise the timeout", true)
	if err == nil {
		t.Fatalf("expected wrapped error")
	}
	if err.Error() != "boom" {
		t.Fatalf("message should come from the cause, got %q", err.Error())
	}
	if !stderrors.Is(err, cause) {
		t.Fatalf("wrapped error must unwrap to the cause")
	}
	if CategoryOf(err) != CategoryTimeout {
		t.Fatalf("category: got %q", CategoryOf(err))
	}
	if CodeOf(err) != "command_timeout" {
		t.Fatalf("code: got %q", CodeOf(err))
	}
	if HintOf(err) != "raise the timeout" {
		t.Fatalf("hint: got %q", HintOf(err))
	}
	if !RetryableOf(err) {
		t.Fatalf("expected retryable")
	}
}

func TestWrapNilReturnsNil(t *testing.T) {
	if Wrap(nil, CategoryProtocol, "x", "y", false) != nil {
		t.Fatalf("wrapping nil must return nil")
	}
}

func TestAccessorsOnUnclassifiedError(t *testing.T) {
	plain := fmt.Errorf("plain")
	if CategoryOf(plain) != "" || CodeOf(plain) != "" || HintOf(plain) != "" || RetryableOf(plain) {
		t.Fatalf("unclassified errors must report zero values")
	}
}

func TestClassificationSurvivesFurtherWrapping(t *testing.T) {
	inner := Wrap(fmt.Errorf("denied"), CategoryEnforcement, "gate_block", "", false)
	outer := fmt.Errorf("call site: %w", inner)
	if CategoryOf(outer) != CategoryEnforcement {
		t.Fatalf("classification lost through fmt wrapping: %q", CategoryOf(outer))
	}
}
