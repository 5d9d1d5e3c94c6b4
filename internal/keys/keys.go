// Package keys derives deterministic cache ids from structured parameters.
package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var detMode cbor.EncMode

func init() {
	// Core deterministic encoding (RFC 8949): map keys are sorted, so the
	// same logical params always produce the same bytes regardless of Go
	// map iteration order.
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	detMode = em
}

// Hash derives a collision-resistant id from params. Identical logical
// input always yields the identical id; distinct inputs collide only with
// SHA-256 probability.
func Hash(params any) (string, error) {
	b, err := detMode.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("keys: encode params: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:16]), nil
}
