package fetch

import (
	"errors"
	"fmt"
)

// ErrFetchExhausted means a tile could not be materialized within the retry
// budget. The search treats such a tile as permanently empty for the attempt.
var ErrFetchExhausted = errors.New("tile fetch retries exhausted")

// StatusError carries an upstream HTTP status for retry classification.
type StatusError struct {
	Code     int
	Endpoint string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream %s returned status %d", e.Endpoint, e.Code)
}

// classification buckets for a failed fetch attempt.
type errClass int

const (
	classTransient errClass = iota
	classRateLimited
	classFatal
)

// classify maps an upstream failure to a retry decision. Network errors and
// 5xx gateway failures are transient, 429 additionally arms the global
// cooldown, everything else is the caller's problem and not worth retrying.
func classify(err error) errClass {
	var se *StatusError
	if !errors.As(err, &se) {
		// Timeouts, connection resets, malformed payloads: retriable,
		// failover may reach a healthier endpoint.
		return classTransient
	}
	switch se.Code {
	case 429:
		return classRateLimited
	case 502, 503, 504:
		return classTransient
	default:
		return classFatal
	}
}
