package generic

import (
	"crypto/sha256"
	"encoding/hex"
)

// =============================================================================
// CONTENT HASH - Stable fingerprint for change detection
// =============================================================================

// fieldSep keeps ("ab","c") and ("a","bc") from hashing identically.
const fieldSep = "\x1f"

// ContentHash returns a stable hex fingerprint of the given fields.
// Order-sensitive. Used by the version guard and by any caller wanting a
// change-detection fingerprint of a record.
func ContentHash(fields ...string) string {
	h := sha256.New()
	for i, f := range fields {
		if i > 0 {
			h.Write([]byte(fieldSep))
		}
		h.Write([]byte(f))
	}
	return hex.EncodeToString(h.Sum(nil))
}
