// Package metrics renders the newest build of every job as Prometheus gauges
// in the text exposition format, for scraping at /metrics.
package metrics
