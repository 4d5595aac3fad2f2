package jcs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// CanonicalizeJSON returns the RFC 8785 (JCS) canonical form of JSON input.
func CanonicalizeJSON(input []byte) ([]byte, error) {
	return jcs.Transform(input)
}

// DigestJCS canonicalizes JSON (RFC 8785) and returns a sha256 hex digest.
func DigestJCS(input []byte) (string, error) {
	canonical, err := CanonicalizeJSON(input)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// CanonicalJSON marshals a value and returns its canonical JSON bytes.
func CanonicalJSON(value any) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return CanonicalizeJSON(raw)
}

// DigestValue marshals a value and returns the sha256 hex digest of its
// canonical form.
func DigestValue(value any) (string, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return DigestJCS(raw)
}

// SHA256Hex returns the lowercase sha256 hex digest of raw bytes.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SelfDigest computes the digest of an object that embeds its own digest: the
// named top-level field is blanked and a top-level signatures member (only
// that one) is removed before canonicalization. Pack manifests and runpack
// manifests share this rule, so it lives here rather than per format.
func SelfDigest(value any, field string) (string, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("marshal self-digest input: %w", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("self-digest input must be a JSON object: %w", err)
	}
	if _, ok := decoded[field]; !ok {
		return "", fmt.Errorf("self-digest field %q not present", field)
	}
	decoded[field] = ""
	delete(decoded, "signatures")
	blanked, err := json.Marshal(decoded)
	if err != nil {
		return "", fmt.Errorf("marshal blanked self-digest input: %w", err)
	}
	return DigestJCS(blanked)
}
