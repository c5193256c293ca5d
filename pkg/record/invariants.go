package record

import (
	"fmt"
	"regexp"
)

var dns1123Pattern = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)

// checkInvariants rejects writes that would violate spec.md §3's
// invariants, per Component B's "invariant enforcement" responsibility.
func checkInvariants(rec *EnvironmentRecord) error {
	if rec.State == StateRunning && (rec.AccessURL == nil || *rec.AccessURL == "") {
		return fmt.Errorf("%w: Running record %s has no access_url", ErrInvariantViolation, rec.ID)
	}
	if !dns1123Pattern.MatchString(rec.SanitizedName) || len(rec.SanitizedName) > 63 {
		return fmt.Errorf("%w: sanitized_name %q does not conform to the DNS-1123 label grammar", ErrInvariantViolation, rec.SanitizedName)
	}
	if rec.ExpiresAt.Before(rec.CreatedAt) {
		return fmt.Errorf("%w: expires_at before created_at for record %s", ErrInvariantViolation, rec.ID)
	}
	return nil
}
