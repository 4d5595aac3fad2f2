package producer

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	coreerrors "github.com/davidahmann/gait-sdk-go/core/errors"
	"github.com/davidahmann/gait-sdk-go/core/jcs"
	schemapack "github.com/davidahmann/gait-sdk-go/core/schema/v1/pack"
	schemarunpack "github.com/davidahmann/gait-sdk-go/core/schema/v1/runpack"
)

const maxZipEntryBytes = int64(100 * 1024 * 1024)

type HashMismatch struct {
	Path     string `json:"path"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

// VerifyResult reports what the verifier checked and every discrepancy it
// found. A pack is intact when the three slices are empty.
type VerifyResult struct {
	PackID          string         `json:"pack_id,omitempty"`
	PackType        string         `json:"pack_type,omitempty"`
	SourceRef       string         `json:"source_ref,omitempty"`
	FilesChecked    int            `json:"files_checked"`
	MissingFiles    []string       `json:"missing_files,omitempty"`
	HashMismatches  []HashMismatch `json:"hash_mismatches,omitempty"`
	UndeclaredFiles []string       `json:"undeclared_files,omitempty"`
	SourceVerified  bool           `json:"source_verified,omitempty"`
}

// Verify opens a PackSpec archive, recomputes the pack id from the manifest,
// hashes every declared entry, flags files present but undeclared, and for
// run packs additionally checks the payload contract and the inner run-pack
// manifest. Structural failures return a verification-classified error.
func Verify(path string) (VerifyResult, error) {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return VerifyResult{}, verificationError(fmt.Errorf("open pack: %w", err))
	}
	defer func() { _ = reader.Close() }()

	files := make(map[string]*zip.File, len(reader.File))
	for _, file := range reader.File {
		files[file.Name] = file
	}

	manifestFile, ok := files[manifestFileName]
	if !ok {
		return VerifyResult{}, verificationError(fmt.Errorf("missing %s", manifestFileName))
	}
	manifestBytes, err := readZipFile(manifestFile)
	if err != nil {
		return VerifyResult{}, verificationError(fmt.Errorf("read %s: %w", manifestFileName, err))
	}
	manifest, err := parsePackManifest(manifestBytes)
	if err != nil {
		return VerifyResult{}, verificationError(err)
	}

	expectedPackID, err := jcs.SelfDigest(manifest, "pack_id")
	if err != nil {
		return VerifyResult{}, verificationError(fmt.Errorf("compute pack id: %w", err))
	}
	if !strings.EqualFold(expectedPackID, manifest.PackID) {
		return VerifyResult{}, verificationError(
			fmt.Errorf("pack_id mismatch: expected=%s actual=%s", expectedPackID, manifest.PackID))
	}

	result := VerifyResult{
		PackID:       manifest.PackID,
		PackType:     manifest.PackType,
		SourceRef:    manifest.SourceRef,
		FilesChecked: len(manifest.Contents),
	}

	declared := make(map[string]schemapack.Entry, len(manifest.Contents))
	for _, entry := range manifest.Contents {
		declared[entry.Path] = entry
		zipFile, ok := files[entry.Path]
		if !ok {
			result.MissingFiles = append(result.MissingFiles, entry.Path)
			continue
		}
		actual, hashErr := hashZipFile(zipFile)
		if hashErr != nil {
			return VerifyResult{}, verificationError(fmt.Errorf("hash %s: %w", entry.Path, hashErr))
		}
		if !strings.EqualFold(actual, entry.SHA256) {
			result.HashMismatches = append(result.HashMismatches, HashMismatch{
				Path: entry.Path, Expected: entry.SHA256, Actual: actual,
			})
		}
	}

	for name := range files {
		if name == manifestFileName {
			continue
		}
		if _, ok := declared[name]; !ok {
			result.UndeclaredFiles = append(result.UndeclaredFiles, name)
		}
	}

	if len(result.MissingFiles) == 0 && len(result.HashMismatches) == 0 && len(result.UndeclaredFiles) == 0 {
		if manifest.PackType == "run" {
			if err := verifyRunPayload(files, manifest); err != nil {
				return VerifyResult{}, verificationError(err)
			}
			result.SourceVerified = true
		}
	}

	sort.Strings(result.MissingFiles)
	sort.Strings(result.UndeclaredFiles)
	sort.Slice(result.HashMismatches, func(i, j int) bool {
		return result.HashMismatches[i].Path < result.HashMismatches[j].Path
	})
	return result, nil
}

func verifyRunPayload(files map[string]*zip.File, manifest schemapack.Manifest) error {
	payloadFile, ok := files["run_payload.json"]
	if !ok {
		return fmt.Errorf("missing run_payload.json")
	}
	sourceFile, ok := files["source/runpack.zip"]
	if !ok {
		return fmt.Errorf("missing source/runpack.zip")
	}

	payloadBytes, err := readZipFile(payloadFile)
	if err != nil {
		return fmt.Errorf("read run_payload.json: %w", err)
	}
	var payload schemapack.RunPayload
	if err := decodeStrictJSON(payloadBytes, &payload); err != nil {
		return fmt.Errorf("parse run_payload.json: %w", err)
	}
	if payload.SchemaID != schemapack.RunPayloadSchemaID {
		return fmt.Errorf("unsupported run payload schema_id: %s", payload.SchemaID)
	}
	if payload.SchemaVersion != schemapack.RunPayloadVersion {
		return fmt.Errorf("unsupported run payload schema_version: %s", payload.SchemaVersion)
	}
	if payload.RunID != strings.TrimSpace(manifest.SourceRef) {
		return fmt.Errorf("run payload run_id does not match manifest source_ref")
	}

	sourceBytes, err := readZipFile(sourceFile)
	if err != nil {
		return fmt.Errorf("read source/runpack.zip: %w", err)
	}
	if !strings.EqualFold(jcs.SHA256Hex(sourceBytes), payload.ManifestDigest) {
		return fmt.Errorf("run payload manifest_digest does not match source/runpack.zip")
	}
	return verifySourceRunpack(sourceBytes)
}

// verifySourceRunpack checks the inner run-pack archive against its own
// manifest: the self-referential manifest digest and every listed file hash.
func verifySourceRunpack(archive []byte) error {
	reader, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return fmt.Errorf("open source runpack: %w", err)
	}
	files := make(map[string]*zip.File, len(reader.File))
	for _, file := range reader.File {
		files[file.Name] = file
	}

	manifestFile, ok := files["manifest.json"]
	if !ok {
		return fmt.Errorf("source runpack missing manifest.json")
	}
	manifestBytes, err := readZipFile(manifestFile)
	if err != nil {
		return fmt.Errorf("read source runpack manifest: %w", err)
	}
	var manifest schemarunpack.Manifest
	if err := decodeStrictJSON(manifestBytes, &manifest); err != nil {
		return fmt.Errorf("parse source runpack manifest: %w", err)
	}
	if manifest.SchemaID != schemarunpack.ManifestSchemaID {
		return fmt.Errorf("unsupported runpack manifest schema_id: %s", manifest.SchemaID)
	}

	expectedDigest, err := jcs.SelfDigest(manifest, "manifest_digest")
	if err != nil {
		return fmt.Errorf("compute runpack manifest digest: %w", err)
	}
	if !strings.EqualFold(expectedDigest, manifest.ManifestDigest) {
		return fmt.Errorf("runpack manifest_digest mismatch: expected=%s actual=%s",
			expectedDigest, manifest.ManifestDigest)
	}

	for _, entry := range manifest.Files {
		zipFile, ok := files[entry.Path]
		if !ok {
			return fmt.Errorf("source runpack missing %s", entry.Path)
		}
		actual, hashErr := hashZipFile(zipFile)
		if hashErr != nil {
			return fmt.Errorf("hash source runpack %s: %w", entry.Path, hashErr)
		}
		if !strings.EqualFold(actual, entry.SHA256) {
			return fmt.Errorf("source runpack hash mismatch: %s", entry.Path)
		}
	}
	return nil
}

func parsePackManifest(payload []byte) (schemapack.Manifest, error) {
	var manifest schemapack.Manifest
	if err := decodeStrictJSON(payload, &manifest); err != nil {
		return schemapack.Manifest{}, fmt.Errorf("parse pack manifest: %w", err)
	}
	if manifest.SchemaID != schemapack.ManifestSchemaID {
		return schemapack.Manifest{}, fmt.Errorf("unsupported manifest schema_id: %s", manifest.SchemaID)
	}
	if manifest.SchemaVersion != schemapack.ManifestSchemaVersion {
		return schemapack.Manifest{}, fmt.Errorf("unsupported manifest schema_version: %s", manifest.SchemaVersion)
	}
	if manifest.PackType != "run" && manifest.PackType != "job" && manifest.PackType != "call" {
		return schemapack.Manifest{}, fmt.Errorf("invalid pack_type: %s", manifest.PackType)
	}
	if strings.TrimSpace(manifest.SourceRef) == "" {
		return schemapack.Manifest{}, fmt.Errorf("manifest missing source_ref")
	}
	if strings.TrimSpace(manifest.CreatedAt) == "" {
		return schemapack.Manifest{}, fmt.Errorf("manifest missing created_at")
	}
	if strings.TrimSpace(manifest.ProducerVersion) == "" {
		return schemapack.Manifest{}, fmt.Errorf("manifest missing producer_version")
	}
	if !isSHA256Hex(manifest.PackID) {
		return schemapack.Manifest{}, fmt.Errorf("manifest pack_id must be sha256 hex")
	}
	if manifest.Contents == nil {
		return schemapack.Manifest{}, fmt.Errorf("manifest missing contents")
	}
	for _, entry := range manifest.Contents {
		if strings.TrimSpace(entry.Path) == "" {
			return schemapack.Manifest{}, fmt.Errorf("manifest entry path is required")
		}
		if !isSHA256Hex(entry.SHA256) {
			return schemapack.Manifest{}, fmt.Errorf("manifest entry sha256 must be sha256 hex")
		}
		if strings.TrimSpace(entry.Type) == "" {
			return schemapack.Manifest{}, fmt.Errorf("manifest entry type is required")
		}
	}
	return manifest, nil
}

func readZipFile(file *zip.File) ([]byte, error) {
	reader, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = reader.Close() }()
	payload, err := io.ReadAll(io.LimitReader(reader, maxZipEntryBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(payload)) > maxZipEntryBytes {
		return nil, fmt.Errorf("zip entry too large")
	}
	return payload, nil
}

func hashZipFile(file *zip.File) (string, error) {
	reader, err := file.Open()
	if err != nil {
		return "", err
	}
	defer func() { _ = reader.Close() }()
	hasher := sha256.New()
	n, err := io.Copy(hasher, io.LimitReader(reader, maxZipEntryBytes+1))
	if err != nil {
		return "", err
	}
	if n > maxZipEntryBytes {
		return "", fmt.Errorf("zip entry too large")
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func decodeStrictJSON(payload []byte, target any) error {
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return err
	}
	var trailing any
	if err := decoder.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("multiple json values")
		}
		return err
	}
	return nil
}

func isSHA256Hex(value string) bool {
	if len(value) != 64 {
		return false
	}
	for _, char := range value {
		switch {
		case char >= '0' && char <= '9':
		case char >= 'a' && char <= 'f':
		default:
			return false
		}
	}
	return true
}

func verificationError(err error) error {
	return coreerrors.Wrap(err, coreerrors.CategoryVerification, "pack_verify_failed", "re-run verify after checking artifact integrity", false)
}
