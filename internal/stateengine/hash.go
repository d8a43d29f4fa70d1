package stateengine

import (
	"crypto/sha256"
	"encoding/hex"
)

// contentHash is the SHA-256 hex digest used throughout the engine for
// desired-state hashes, export state hashes, and the disaster-recovery
// checksum. Standardizing on SHA-256 (rather than the sum_hash used by
// StateChange elsewhere) keeps content-addressing consistent across the
// plugin engine, journal, and export format.
func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
