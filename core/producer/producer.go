// Package producer emits the deterministic minimal PackSpec v1 run pack used
// for producer interoperability checks, and verifies arbitrary PackSpec
// archives against their manifests. Given the same inputs, Build returns
// byte-identical archives on every platform.
package producer

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	coreerrors "github.com/davidahmann/gait-sdk-go/core/errors"
	"github.com/davidahmann/gait-sdk-go/core/fsx"
	"github.com/davidahmann/gait-sdk-go/core/jcs"
	schemapack "github.com/davidahmann/gait-sdk-go/core/schema/v1/pack"
	schemarunpack "github.com/davidahmann/gait-sdk-go/core/schema/v1/runpack"
	"github.com/davidahmann/gait-sdk-go/core/zipx"
)

const (
	DefaultRunID           = "run_producer_kit"
	DefaultProducerVersion = "producer-kit-1.0.0"
	DefaultCreatedAt       = "2026-01-01T00:00:00Z"

	manifestFileName = "pack_manifest.json"
)

// The inner run-pack stub is a fixed artifact: its metadata never varies with
// the pack options, so two producers disagreeing on flags still emit the same
// source archive.
const (
	stubCreatedAt       = "2026-01-01T00:00:00Z"
	stubProducerVersion = "producer-kit-1.0.0"
)

// Options parameterize one pack build. Zero values take the defaults above;
// CreatedAt must be RFC3339.
type Options struct {
	RunID           string
	ProducerVersion string
	CreatedAt       string
}

// BuildResult carries the archive bytes plus the embedded documents.
type BuildResult struct {
	Data       []byte
	Manifest   schemapack.Manifest
	RunPayload schemapack.RunPayload
	SHA256     string
}

func (opts Options) withDefaults() (Options, error) {
	if opts.RunID == "" {
		opts.RunID = DefaultRunID
	}
	if opts.ProducerVersion == "" {
		opts.ProducerVersion = DefaultProducerVersion
	}
	if opts.CreatedAt == "" {
		opts.CreatedAt = DefaultCreatedAt
	}
	if _, err := time.Parse(time.RFC3339, opts.CreatedAt); err != nil {
		return Options{}, coreerrors.Wrap(
			fmt.Errorf("created_at must be RFC3339: %w", err),
			coreerrors.CategoryInvalidInput, "invalid_created_at", "use a timestamp like 2026-01-01T00:00:00Z", false)
	}
	return opts, nil
}

// Build assembles the pack in memory: a stub source run-pack, the run payload
// derived from it, and the self-identified pack manifest.
func Build(opts Options) (BuildResult, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return BuildResult{}, err
	}

	sourceRunpack, err := buildSourceRunpackStub(opts.RunID)
	if err != nil {
		return BuildResult{}, err
	}

	runPayload := schemapack.RunPayload{
		SchemaID:       schemapack.RunPayloadSchemaID,
		SchemaVersion:  schemapack.RunPayloadVersion,
		CreatedAt:      opts.CreatedAt,
		RunID:          opts.RunID,
		CaptureMode:    "reference",
		ManifestDigest: jcs.SHA256Hex(sourceRunpack),
		IntentsCount:   0,
		ResultsCount:   0,
		RefsCount:      0,
	}
	runPayloadBytes, err := jcs.CanonicalJSON(runPayload)
	if err != nil {
		return BuildResult{}, fmt.Errorf("encode run payload: %w", err)
	}

	manifest := schemapack.Manifest{
		SchemaID:        schemapack.ManifestSchemaID,
		SchemaVersion:   schemapack.ManifestSchemaVersion,
		CreatedAt:       opts.CreatedAt,
		ProducerVersion: opts.ProducerVersion,
		PackType:        "run",
		SourceRef:       opts.RunID,
		Contents: []schemapack.Entry{
			{Path: "run_payload.json", SHA256: jcs.SHA256Hex(runPayloadBytes), Type: "json"},
			{Path: "source/runpack.zip", SHA256: jcs.SHA256Hex(sourceRunpack), Type: "zip"},
		},
	}
	packID, err := jcs.SelfDigest(manifest, "pack_id")
	if err != nil {
		return BuildResult{}, fmt.Errorf("compute pack id: %w", err)
	}
	manifest.PackID = packID
	manifestBytes, err := jcs.CanonicalJSON(manifest)
	if err != nil {
		return BuildResult{}, fmt.Errorf("encode pack manifest: %w", err)
	}

	var archive bytes.Buffer
	err = zipx.WriteDeterministicZip(&archive, []zipx.File{
		{Path: manifestFileName, Data: manifestBytes},
		{Path: "run_payload.json", Data: runPayloadBytes},
		{Path: "source/runpack.zip", Data: sourceRunpack},
	})
	if err != nil {
		return BuildResult{}, fmt.Errorf("write pack archive: %w", err)
	}

	data := archive.Bytes()
	return BuildResult{
		Data:       data,
		Manifest:   manifest,
		RunPayload: runPayload,
		SHA256:     jcs.SHA256Hex(data),
	}, nil
}

// Write builds the pack and writes it to path atomically, creating parent
// directories as needed.
func Write(path string, opts Options) (BuildResult, error) {
	result, err := Build(opts)
	if err != nil {
		return BuildResult{}, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return BuildResult{}, coreerrors.Wrap(
			fmt.Errorf("create output dir: %w", err),
			coreerrors.CategoryIOFailure, "output_dir_failed", "check output path permissions", true)
	}
	if err := fsx.WriteFileAtomic(path, result.Data, 0o644); err != nil {
		return BuildResult{}, coreerrors.Wrap(
			fmt.Errorf("write pack: %w", err),
			coreerrors.CategoryIOFailure, "pack_write_failed", "check output path permissions", true)
	}
	return result, nil
}

// buildSourceRunpackStub emits the fixed empty run-pack: an indexed manifest
// plus run.json, empty intent/result streams, and an empty receipts document.
func buildSourceRunpackStub(runID string) ([]byte, error) {
	runJSON, err := jcs.CanonicalJSON(map[string]any{"run_id": runID})
	if err != nil {
		return nil, fmt.Errorf("encode stub run.json: %w", err)
	}
	refsJSON, err := jcs.CanonicalJSON(map[string]any{"receipts": []any{}})
	if err != nil {
		return nil, fmt.Errorf("encode stub refs.json: %w", err)
	}

	manifest := schemarunpack.Manifest{
		SchemaID:        schemarunpack.ManifestSchemaID,
		SchemaVersion:   schemarunpack.ManifestSchemaVersion,
		CreatedAt:       stubCreatedAt,
		ProducerVersion: stubProducerVersion,
		RunID:           runID,
		CaptureMode:     "reference",
		Files: []schemarunpack.ManifestFile{
			{Path: "run.json", SHA256: jcs.SHA256Hex(runJSON)},
			{Path: "intents.jsonl", SHA256: jcs.SHA256Hex(nil)},
			{Path: "results.jsonl", SHA256: jcs.SHA256Hex(nil)},
			{Path: "refs.json", SHA256: jcs.SHA256Hex(refsJSON)},
		},
	}
	digest, err := jcs.SelfDigest(manifest, "manifest_digest")
	if err != nil {
		return nil, fmt.Errorf("compute stub manifest digest: %w", err)
	}
	manifest.ManifestDigest = digest
	manifestJSON, err := jcs.CanonicalJSON(manifest)
	if err != nil {
		return nil, fmt.Errorf("encode stub manifest: %w", err)
	}

	var archive bytes.Buffer
	err = zipx.WriteDeterministicZip(&archive, []zipx.File{
		{Path: "manifest.json", Data: manifestJSON},
		{Path: "run.json", Data: runJSON},
		{Path: "intents.jsonl", Data: []byte{}},
		{Path: "results.jsonl", Data: []byte{}},
		{Path: "refs.json", Data: refsJSON},
	})
	if err != nil {
		return nil, fmt.Errorf("write stub runpack: %w", err)
	}
	return archive.Bytes(), nil
}
