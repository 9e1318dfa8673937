package types

import "strings"

// Severity is a static-analysis finding category.
type Severity int

// Severities in canonical display order.
const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityStyle
	SeverityPerformance
	SeverityInformation
	SeverityNoCategory
	SeverityPortability

	numSeverities = int(SeverityPortability) + 1
)

// AllSeries is the series name used for the total of all severities.
const AllSeries = "All"

// Severities lists every tracked severity in canonical order.
var Severities = []Severity{
	SeverityError,
	SeverityWarning,
	SeverityStyle,
	SeverityPerformance,
	SeverityInformation,
	SeverityNoCategory,
	SeverityPortability,
}

var severityKeys = [numSeverities]string{
	"error", "warning", "style", "performance", "information", "no_category", "portability",
}

var severityNames = [numSeverities]string{
	"Error", "Warning", "Style", "Performance", "Information", "No category", "Portability",
}

// String returns the machine key used in config files and wire records.
func (s Severity) String() string {
	if !s.Valid() {
		return "unknown"
	}
	return severityKeys[s]
}

// DisplayName returns the series name shown on trend charts.
func (s Severity) DisplayName() string {
	if !s.Valid() {
		return "Unknown"
	}
	return severityNames[s]
}

// Valid reports whether s is one of the tracked severities.
func (s Severity) Valid() bool {
	return s >= 0 && int(s) < numSeverities
}

// ParseSeverity looks up a severity by its key ("error", "no_category", ...).
// The lookup is case-insensitive and accepts "nocategory" and "no-category".
func ParseSeverity(key string) (Severity, bool) {
	k := strings.ToLower(strings.TrimSpace(key))
	switch k {
	case "nocategory", "no-category", "none":
		return SeverityNoCategory, true
	}
	for i, name := range severityKeys {
		if name == k {
			return Severity(i), true
		}
	}
	return 0, false
}

// SeverityFor maps an analyser's severity string to a tracked severity.
// Anything unrecognised (cppcheck's "debug", empty strings, ...) is counted
// as no-category so that the total never loses findings.
func SeverityFor(raw string) Severity {
	if s, ok := ParseSeverity(raw); ok {
		return s
	}
	return SeverityNoCategory
}
