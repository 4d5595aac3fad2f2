package producer

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	coreerrors "github.com/davidahmann/gait-sdk-go/core/errors"
	"github.com/davidahmann/gait-sdk-go/core/jcs"
	"github.com/davidahmann/gait-sdk-go/core/schema/validate"
	schemapack "github.com/davidahmann/gait-sdk-go/core/schema/v1/pack"
	"github.com/davidahmann/gait-sdk-go/core/zipx"
)

func TestBuildIsByteIdentical(t *testing.T) {
	first, err := Build(Options{})
	if err != nil {
		t.Fatalf("first build: %v", err)
	}
	second, err := Build(Options{})
	if err != nil {
		t.Fatalf("second build: %v", err)
	}
	if !bytes.Equal(first.Data, second.Data) {
		t.Fatalf("two builds with identical options must be byte-identical")
	}
	if first.SHA256 != second.SHA256 {
		t.Fatalf("archive digests differ: %s vs %s", first.SHA256, second.SHA256)
	}
}

func TestBuildDefaultsAndManifestShape(t *testing.T) {
	result, err := Build(Options{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	manifest := result.Manifest
	if manifest.PackType != "run" || manifest.SourceRef != DefaultRunID {
		t.Fatalf("manifest header wrong: %+v", manifest)
	}
	if manifest.ProducerVersion != DefaultProducerVersion || manifest.CreatedAt != DefaultCreatedAt {
		t.Fatalf("defaults not applied: %+v", manifest)
	}
	if len(manifest.Contents) != 2 {
		t.Fatalf("expected 2 content entries, got %d", len(manifest.Contents))
	}
	if manifest.Contents[0].Path != "run_payload.json" || manifest.Contents[0].Type != "json" {
		t.Fatalf("first entry wrong: %+v", manifest.Contents[0])
	}
	if manifest.Contents[1].Path != "source/runpack.zip" || manifest.Contents[1].Type != "zip" {
		t.Fatalf("second entry wrong: %+v", manifest.Contents[1])
	}
	if result.RunPayload.ManifestDigest != manifest.Contents[1].SHA256 {
		t.Fatalf("run payload manifest_digest must equal the source archive digest")
	}

	encoded, err := json.Marshal(manifest)
	if err != nil {
		t.Fatalf("marshal manifest: %v", err)
	}
	if err := validate.ValidatePackManifest(encoded); err != nil {
		t.Fatalf("built manifest must satisfy the schema: %v", err)
	}
}

func TestBuildPackIDIsSelfDigest(t *testing.T) {
	result, err := Build(Options{RunID: "run_custom", CreatedAt: "2026-02-03T04:05:06Z"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	recomputed, err := jcs.SelfDigest(result.Manifest, "pack_id")
	if err != nil {
		t.Fatalf("recompute pack id: %v", err)
	}
	if recomputed != result.Manifest.PackID {
		t.Fatalf("pack id mismatch: %s vs %s", recomputed, result.Manifest.PackID)
	}
}

func TestBuildOptionsChangeThePackID(t *testing.T) {
	base, err := Build(Options{})
	if err != nil {
		t.Fatalf("base build: %v", err)
	}
	other, err := Build(Options{RunID: "run_other"})
	if err != nil {
		t.Fatalf("other build: %v", err)
	}
	if base.Manifest.PackID == other.Manifest.PackID {
		t.Fatalf("different run ids must yield different pack ids")
	}
	if bytes.Equal(base.Data, other.Data) {
		t.Fatalf("different run ids must yield different archives")
	}
}

func TestBuildRejectsBadCreatedAt(t *testing.T) {
	_, err := Build(Options{CreatedAt: "yesterday"})
	if err == nil {
		t.Fatalf("expected error for non-RFC3339 created_at")
	}
	if coreerrors.CategoryOf(err) != coreerrors.CategoryInvalidInput {
		t.Fatalf("category: %q", coreerrors.CategoryOf(err))
	}
}

func TestWriteThenVerify(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "pack.zip")
	result, err := Write(path, Options{})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	onDisk, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !bytes.Equal(onDisk, result.Data) {
		t.Fatalf("file content differs from build result")
	}

	verified, err := Verify(path)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verified.PackID != result.Manifest.PackID || verified.PackType != "run" {
		t.Fatalf("unexpected verify result: %+v", verified)
	}
	if len(verified.MissingFiles) != 0 || len(verified.HashMismatches) != 0 || len(verified.UndeclaredFiles) != 0 {
		t.Fatalf("expected clean verify: %+v", verified)
	}
	if !verified.SourceVerified {
		t.Fatalf("inner run-pack must be verified for run packs")
	}
}

// rewritePack rebuilds the archive applying mutate to each entry's content.
func rewritePack(t *testing.T, sourcePath, destPath string, mutate func(name string, data []byte) ([]byte, bool)) {
	t.Helper()
	reader, err := zip.OpenReader(sourcePath)
	if err != nil {
		t.Fatalf("open source pack: %v", err)
	}
	defer func() { _ = reader.Close() }()

	var files []zipx.File
	for _, entry := range reader.File {
		opened, err := entry.Open()
		if err != nil {
			t.Fatalf("open entry: %v", err)
		}
		data, err := io.ReadAll(opened)
		_ = opened.Close()
		if err != nil {
			t.Fatalf("read entry: %v", err)
		}
		if mutated, keep := mutate(entry.Name, data); keep {
			files = append(files, zipx.File{Path: entry.Name, Data: mutated})
		}
	}
	var buffer bytes.Buffer
	if err := zipx.WriteDeterministicZip(&buffer, files); err != nil {
		t.Fatalf("rewrite pack: %v", err)
	}
	if err := os.WriteFile(destPath, buffer.Bytes(), 0o644); err != nil {
		t.Fatalf("write mutated pack: %v", err)
	}
}

func TestVerifyDetectsHashMismatch(t *testing.T) {
	dir := t.TempDir()
	original := filepath.Join(dir, "pack.zip")
	if _, err := Write(original, Options{}); err != nil {
		t.Fatalf("write: %v", err)
	}
	tampered := filepath.Join(dir, "tampered.zip")
	rewritePack(t, original, tampered, func(name string, data []byte) ([]byte, bool) {
		if name == "run_payload.json" {
			return append(data, ' '), true
		}
		return data, true
	})
	result, err := Verify(tampered)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if len(result.HashMismatches) != 1 || result.HashMismatches[0].Path != "run_payload.json" {
		t.Fatalf("expected one mismatch on run_payload.json: %+v", result.HashMismatches)
	}
}

func TestVerifyDetectsMissingAndUndeclaredFiles(t *testing.T) {
	dir := t.TempDir()
	original := filepath.Join(dir, "pack.zip")
	if _, err := Write(original, Options{}); err != nil {
		t.Fatalf("write: %v", err)
	}
	mutated := filepath.Join(dir, "mutated.zip")
	rewritePack(t, original, mutated, func(name string, data []byte) ([]byte, bool) {
		if name == "source/runpack.zip" {
			return nil, false
		}
		return data, true
	})
	// Add an extra file the manifest never declared.
	reader, err := zip.OpenReader(mutated)
	if err != nil {
		t.Fatalf("open mutated: %v", err)
	}
	var files []zipx.File
	for _, entry := range reader.File {
		opened, _ := entry.Open()
		data, _ := io.ReadAll(opened)
		_ = opened.Close()
		files = append(files, zipx.File{Path: entry.Name, Data: data})
	}
	_ = reader.Close()
	files = append(files, zipx.File{Path: "extra.txt", Data: []byte("surprise")})
	var buffer bytes.Buffer
	if err := zipx.WriteDeterministicZip(&buffer, files); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if err := os.WriteFile(mutated, buffer.Bytes(), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	result, err := Verify(mutated)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if len(result.MissingFiles) != 1 || result.MissingFiles[0] != "source/runpack.zip" {
		t.Fatalf("missing files: %+v", result.MissingFiles)
	}
	if len(result.UndeclaredFiles) != 1 || result.UndeclaredFiles[0] != "extra.txt" {
		t.Fatalf("undeclared files: %+v", result.UndeclaredFiles)
	}
	if result.SourceVerified {
		t.Fatalf("payload contract must be skipped when files are missing")
	}
}

func TestVerifyDetectsPackIDTampering(t *testing.T) {
	dir := t.TempDir()
	original := filepath.Join(dir, "pack.zip")
	if _, err := Write(original, Options{}); err != nil {
		t.Fatalf("write: %v", err)
	}
	tampered := filepath.Join(dir, "tampered.zip")
	rewritePack(t, original, tampered, func(name string, data []byte) ([]byte, bool) {
		if name == "pack_manifest.json" {
			var manifest schemapack.Manifest
			if err := json.Unmarshal(data, &manifest); err != nil {
				t.Fatalf("decode manifest: %v", err)
			}
			manifest.SourceRef = "run_hijacked"
			mutated, err := json.Marshal(manifest)
			if err != nil {
				t.Fatalf("encode manifest: %v", err)
			}
			return mutated, true
		}
		return data, true
	})
	_, err := Verify(tampered)
	if err == nil {
		t.Fatalf("expected pack_id mismatch error")
	}
	if coreerrors.CategoryOf(err) != coreerrors.CategoryVerification {
		t.Fatalf("category: %q", coreerrors.CategoryOf(err))
	}
}

func TestVerifyRejectsMissingManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.zip")
	var buffer bytes.Buffer
	if err := zipx.WriteDeterministicZip(&buffer, []zipx.File{{Path: "other.json", Data: []byte("{}")}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(path, buffer.Bytes(), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := Verify(path); err == nil {
		t.Fatalf("expected error for missing pack_manifest.json")
	}
}
