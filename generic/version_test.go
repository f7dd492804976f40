package generic_test

import (
	"errors"
	"testing"

	"github.com/warp/recon-engine/generic"
)

// =============================================================================
// CONTENT HASH
// =============================================================================

func TestContentHash_Deterministic(t *testing.T) {
	a := generic.ContentHash("2025-03-10", "TRANSF ACERO", "125000")
	b := generic.ContentHash("2025-03-10", "TRANSF ACERO", "125000")
	if a != b {
		t.Error("identical fields must hash identically")
	}
	if len(a) != 64 {
		t.Errorf("expected a hex sha256, got %d chars", len(a))
	}
}

func TestContentHash_FieldBoundariesMatter(t *testing.T) {
	// ("ab","c") and ("a","bc") concatenate identically; the separator
	// must keep them apart.
	if generic.ContentHash("ab", "c") == generic.ContentHash("a", "bc") {
		t.Error("field boundaries must affect the hash")
	}
	if generic.ContentHash("a", "b") == generic.ContentHash("b", "a") {
		t.Error("field order must affect the hash")
	}
}

// =============================================================================
// VERSION GUARD
// =============================================================================

func TestCheckVersion(t *testing.T) {
	v := generic.ContentHash("row", "content")

	if err := generic.CheckVersion("movements:1", v, v); err != nil {
		t.Errorf("matching versions must pass: %v", err)
	}

	stale := generic.ContentHash("row", "edited content")
	err := generic.CheckVersion("movements:1", stale, v)
	if err == nil {
		t.Fatal("expected a conflict for the stale version")
	}
	var vce *generic.VersionConflictError
	if !errors.As(err, &vce) {
		t.Fatalf("expected VersionConflictError, got %T", err)
	}
	if vce.ResourceID != "movements:1" || vce.Expected != v || vce.Actual != stale {
		t.Errorf("conflict should carry the full context: %+v", vce)
	}
	if !generic.IsConflict(err) {
		t.Error("version conflicts should classify as conflicts")
	}
}
