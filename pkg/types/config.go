package types

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Default chart dimensions and history depth.
const (
	DefaultChartWidth  = 500
	DefaultChartHeight = 200
	DefaultMaxBuilds   = 1000
)

// SeverityConfig selects which severities count towards health and appear on
// trend charts, and holds the health thresholds and chart settings.
// It is read-only once handed to an evaluation.
type SeverityConfig struct {
	Severities SeverityFlags `yaml:"severities"`

	// DisplayAll adds the "All" series (total of every severity) to charts.
	DisplayAll bool `yaml:"display_all"`

	// FilterHealth makes health scoring count only the enabled severities,
	// the same set the chart shows. When false health uses the total.
	FilterHealth bool `yaml:"filter_health"`

	Health Thresholds  `yaml:"health"`
	Chart  ChartConfig `yaml:"chart"`
}

// SeverityFlags enables individual severities.
type SeverityFlags struct {
	Error       bool `yaml:"error"`
	Warning     bool `yaml:"warning"`
	Style       bool `yaml:"style"`
	Performance bool `yaml:"performance"`
	Information bool `yaml:"information"`
	NoCategory  bool `yaml:"no_category"`
	Portability bool `yaml:"portability"`
}

// DefaultSeverityConfig charts every severity plus the "All" series at
// 500x200 and reports no health until thresholds are configured.
func DefaultSeverityConfig() SeverityConfig {
	return SeverityConfig{
		Severities:   AllSeverities(),
		DisplayAll:   true,
		FilterHealth: true,
		Chart: ChartConfig{
			Width:     DefaultChartWidth,
			Height:    DefaultChartHeight,
			MaxBuilds: DefaultMaxBuilds,
		},
	}
}

// AllSeverities returns flags with every severity enabled.
func AllSeverities() SeverityFlags {
	return SeverityFlags{
		Error: true, Warning: true, Style: true, Performance: true,
		Information: true, NoCategory: true, Portability: true,
	}
}

// Thresholds bound the health score. A nil or negative value disables health
// reporting.
type Thresholds struct {
	// Healthy is the finding count at or below which the score is 100.
	Healthy *int `yaml:"healthy"`

	// Unhealthy is the finding count at or above which the score is 0.
	Unhealthy *int `yaml:"unhealthy"`
}

// NewThresholds returns Thresholds with both values set.
func NewThresholds(healthy, unhealthy int) Thresholds {
	return Thresholds{Healthy: &healthy, Unhealthy: &unhealthy}
}

// Enabled reports whether both thresholds are present and non-negative.
func (t Thresholds) Enabled() bool {
	return t.Healthy != nil && t.Unhealthy != nil && *t.Healthy >= 0 && *t.Unhealthy >= 0
}

// Validate returns an ErrConfiguration error when enabled thresholds are
// inverted. Disabled thresholds are valid.
func (t Thresholds) Validate() error {
	if !t.Enabled() {
		return nil
	}
	if *t.Healthy > *t.Unhealthy {
		return fmt.Errorf("healthy threshold %d exceeds unhealthy threshold %d: %w",
			*t.Healthy, *t.Unhealthy, ErrConfiguration)
	}
	return nil
}

// ChartConfig holds trend chart settings passed through to the renderer.
type ChartConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`

	// MaxBuilds caps how many builds a trend walk visits, newest first.
	// Zero means DefaultMaxBuilds.
	MaxBuilds int `yaml:"max_builds"`
}

// Enabled reports whether sev is selected.
func (c SeverityConfig) Enabled(sev Severity) bool {
	f := c.Severities
	switch sev {
	case SeverityError:
		return f.Error
	case SeverityWarning:
		return f.Warning
	case SeverityStyle:
		return f.Style
	case SeverityPerformance:
		return f.Performance
	case SeverityInformation:
		return f.Information
	case SeverityNoCategory:
		return f.NoCategory
	case SeverityPortability:
		return f.Portability
	default:
		return false
	}
}

// EnabledSeverities returns the selected severities in canonical order.
func (c SeverityConfig) EnabledSeverities() []Severity {
	out := make([]Severity, 0, numSeverities)
	for _, sev := range Severities {
		if c.Enabled(sev) {
			out = append(out, sev)
		}
	}
	return out
}

// FilteredCount sums the counts of the enabled severities in snap.
func (c SeverityConfig) FilteredCount(snap Snapshot) int {
	var n int
	for _, sev := range Severities {
		if c.Enabled(sev) {
			n += snap.Count(sev)
		}
	}
	return n
}

// MaxBuilds returns the effective trend walk depth.
func (c SeverityConfig) MaxBuilds() int {
	if c.Chart.MaxBuilds > 0 {
		return c.Chart.MaxBuilds
	}
	return DefaultMaxBuilds
}

// Validate checks thresholds and chart dimensions.
func (c SeverityConfig) Validate() error {
	if err := c.Health.Validate(); err != nil {
		return err
	}
	if c.Chart.Width < 0 || c.Chart.Height < 0 {
		return fmt.Errorf("chart dimensions %dx%d must not be negative: %w",
			c.Chart.Width, c.Chart.Height, ErrConfiguration)
	}
	if c.Chart.MaxBuilds < 0 {
		return fmt.Errorf("chart.max_builds %d must not be negative: %w", c.Chart.MaxBuilds, ErrConfiguration)
	}
	return nil
}

// UnmarshalYAML decodes flags onto an all-false value, so a `severities:`
// block enables exactly the severities it lists even when the target was
// pre-populated with defaults.
func (f *SeverityFlags) UnmarshalYAML(value *yaml.Node) error {
	type plain SeverityFlags
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*f = SeverityFlags(p)
	return nil
}
