// Package lookup turns detected barcodes into health assessments. It owns
// the remote assessment client and the coordinator that consults the durable
// cache, deduplicates concurrent requests per code, and writes results back.
//
// Every lookup resolves to a typed Outcome; no error below this package
// escapes to the session loop unclassified.
package lookup

import "github.com/clearmeat/go-scan-core/internal/domain"

// OutcomeKind classifies how a lookup settled.
type OutcomeKind int

const (
	// OutcomeSuccess carries an assessment.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeNotFound means the remote service has no record for the code.
	OutcomeNotFound
	// OutcomeRateLimited means the remote service refused the call; the
	// presentation layer surfaces this distinctly (upgrade path).
	OutcomeRateLimited
	// OutcomeTransient covers timeouts and other retryable failures. The
	// same code scanned again will retry the remote call.
	OutcomeTransient
)

// String returns a stable lower-case name for logging, metrics, and JSON.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeRateLimited:
		return "rate_limited"
	default:
		return "transient"
	}
}

// Outcome is the settled result of one lookup. Exactly one of the payload
// fields is meaningful: Assessment when Kind is OutcomeSuccess, Err when
// Kind is OutcomeTransient. Negative outcomes are never cached, so a later
// scan of the same code retries rather than replaying a failure.
type Outcome struct {
	Kind       OutcomeKind
	Assessment *domain.Assessment
	Err        error

	// FromCache is true when the durable cache served the assessment
	// without a remote call.
	FromCache bool
}
