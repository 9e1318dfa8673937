package config

import (
	"sync/atomic"
	"time"

	"github.com/defecttrend/defecttrend/pkg/types"
)

// Holder publishes the current analysis settings to request handlers.
// Set swaps the whole value, so readers never see a half-applied reload.
type Holder struct {
	analysis atomic.Pointer[types.SeverityConfig]
	updated  atomic.Int64 // unix nanos of the last Set
}

// NewHolder returns a Holder serving cfg.
func NewHolder(cfg types.SeverityConfig) *Holder {
	h := &Holder{}
	h.Set(cfg)
	return h
}

// Analysis returns the current settings.
func (h *Holder) Analysis() types.SeverityConfig {
	return *h.analysis.Load()
}

// Set replaces the current settings.
func (h *Holder) Set(cfg types.SeverityConfig) {
	h.analysis.Store(&cfg)
	h.updated.Store(time.Now().UnixNano())
}

// Updated returns when the settings were last replaced.
func (h *Holder) Updated() time.Time {
	return time.Unix(0, h.updated.Load())
}
