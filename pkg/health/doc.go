// Package health scores a build from its static-analysis finding count.
//
// Evaluate maps the effective count onto 0–100 between two thresholds:
//
//	count <= healthy            → 100
//	count >= unhealthy          → 0
//	otherwise                   → 100 - floor(100*(count-healthy)/(unhealthy-healthy))
//
// The effective count is either the total of all severities or, when
// filtered, only the severities enabled in the SeverityConfig, the same set
// the trend chart shows.
//
// Health state thresholds: Healthy ≥80, Degraded 40–79, Critical <40.
package health
