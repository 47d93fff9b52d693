package warehouse

import (
	"crypto/sha256"
	"encoding/hex"
)

// =============================================================================
// CONTENT HASHER - Deterministic attribute digests for change detection
// =============================================================================

// Digest is the hex-encoded SHA-256 of an entity's attribute values.
// Two versions with equal digests are treated as unchanged; with a 256-bit
// digest the collision probability is negligible and no collision handling
// exists beyond that assumption.
type Digest string

// fieldSeparator keeps adjacent values from colliding after concatenation
// ("ab"+"c" vs "a"+"bc"). Unit separator never appears in staged data.
const fieldSeparator = "\x1f"

// HashAttributes computes the change-detection digest over the attribute
// values in their declared order. Absent values are already the empty
// string, so null and "" are indistinguishable here, matching the
// coalesce-to-empty-string convention of the staged layer.
func HashAttributes(attrs Attributes) Digest {
	h := sha256.New()
	for i, f := range attrs {
		if i > 0 {
			h.Write([]byte(fieldSeparator))
		}
		h.Write([]byte(f.Value))
	}
	return Digest(hex.EncodeToString(h.Sum(nil)))
}
