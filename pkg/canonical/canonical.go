// Package canonical produces RFC 8785 (JCS) canonical JSON and SHA-256
// digests for coalescing keys and compliance-proof identifiers.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// JSON returns the RFC 8785 canonical form of v: keys sorted by UTF-8 bytes,
// no HTML escaping, deterministic number formatting.
func JSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: pre-marshal failed: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonical: jcs transform failed: %w", err)
	}
	return out, nil
}

// Hash returns the SHA-256 hex digest of the canonical form of v.
func Hash(v any) (string, error) {
	b, err := JSON(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// RequestKey derives the coalescing/cache key for one (capability, inputs)
// pair. Two requests with semantically equal inputs share a key regardless
// of map iteration order.
func RequestKey(capabilityID string, inputs map[string]any) (string, error) {
	digest, err := Hash(map[string]any{
		"capability_id": capabilityID,
		"inputs":        inputs,
	})
	if err != nil {
		return "", err
	}
	return capabilityID + ":" + digest, nil
}
