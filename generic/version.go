/*
version.go - Optimistic version guard (TOCTOU protection)

PURPOSE:
  The backing store cannot do compare-and-swap, so writers hash the mutable
  fields of a record when they read it for decision-making and pass that
  hash through unchanged to the write path. If the record's hash differs at
  write time, someone edited it in between and the write is rejected - not
  merged, not retried with new values. Re-reading and re-deciding is the
  caller's responsibility.

VERSION SCOPE:
  Hash mutable fields only: fields that are part of identity but never
  change stay out, fields about to be written always go in. Domain types
  define their own Version() using ContentHash.

SEE ALSO:
  - hash.go: The shared fingerprint utility
  - recon/apply.go: Captures versions at read time, checks them under lock
*/
package generic

// CheckVersion fails with a VersionConflictError when the record's current
// version differs from the one captured at read time.
func CheckVersion(resourceID, currentVersion, expectedVersion string) error {
	if currentVersion != expectedVersion {
		return &VersionConflictError{
			ResourceID: resourceID,
			Expected:   expectedVersion,
			Actual:     currentVersion,
		}
	}
	return nil
}
