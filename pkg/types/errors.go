package types

import "errors"

var (
	// ErrConfiguration marks malformed settings, e.g. a healthy threshold
	// greater than the unhealthy one.
	ErrConfiguration = errors.New("configuration error")

	// ErrDataIntegrity marks structurally incomplete build data: a history
	// node without a snapshot, a cycle in the chain, negative counts.
	ErrDataIntegrity = errors.New("data integrity error")

	// ErrNoHealthData is returned when health thresholds are disabled.
	// It is an outcome, not a failure: callers omit the health report.
	ErrNoHealthData = errors.New("no health data")
)
