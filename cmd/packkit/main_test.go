package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/davidahmann/gait-sdk-go/core/jcs"
	"github.com/davidahmann/gait-sdk-go/core/producer"
)

func TestRunEmitsDeterministicPackAndSummary(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "pack.zip")
	var stdout, stderr bytes.Buffer

	code := run([]string{"--out", outPath}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code %d, stderr: %s", code, stderr.String())
	}

	var summary buildSummary
	if err := json.Unmarshal(stdout.Bytes(), &summary); err != nil {
		t.Fatalf("stdout is not a JSON summary: %v: %s", err, stdout.String())
	}
	if !summary.OK || summary.Path != outPath {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.RunID != producer.DefaultRunID || summary.CreatedAt != producer.DefaultCreatedAt {
		t.Fatalf("defaults not reported: %+v", summary)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read pack: %v", err)
	}
	if jcs.SHA256Hex(data) != summary.SHA256 {
		t.Fatalf("summary sha256 does not match the written archive")
	}

	verified, err := producer.Verify(outPath)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if len(verified.MissingFiles) != 0 || len(verified.HashMismatches) != 0 || len(verified.UndeclaredFiles) != 0 {
		t.Fatalf("emitted pack failed verification: %+v", verified)
	}
}

func TestRunHonorsOverrides(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "pack.zip")
	var stdout, stderr bytes.Buffer

	code := run([]string{
		"--out", outPath,
		"--run-id", "run_custom",
		"--producer-version", "kit-2.0.0",
		"--created-at", "2026-02-03T04:05:06Z",
	}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code %d, stderr: %s", code, stderr.String())
	}
	var summary buildSummary
	if err := json.Unmarshal(stdout.Bytes(), &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.RunID != "run_custom" || summary.ProducerVersion != "kit-2.0.0" || summary.CreatedAt != "2026-02-03T04:05:06Z" {
		t.Fatalf("overrides not reported: %+v", summary)
	}
}

func TestRunRequiresOut(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run(nil, &stdout, &stderr); code != 2 {
		t.Fatalf("expected usage exit 2, got %d", code)
	}
	if stdout.Len() != 0 {
		t.Fatalf("usage errors must not write to stdout: %s", stdout.String())
	}
}

func TestRunRejectsBadCreatedAt(t *testing.T) {
	dir := t.TempDir()
	var stdout, stderr bytes.Buffer
	code := run([]string{"--out", filepath.Join(dir, "pack.zip"), "--created-at", "not-a-time"}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
}
