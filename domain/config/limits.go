// Package config holds domain-level tuning knobs shared by the services
package config

import "time"

// SynthesisLimits bounds a single synthesis pass. The limits can be swapped
// at runtime, so consumers read them through a LimitsProvider instead of
// holding a copy.
type SynthesisLimits struct {
	// DebounceInterval is how long a note must stay quiet before a pass runs
	DebounceInterval time.Duration
	// MaxEntitiesPerNote caps how many mentions a single pass will upsert
	MaxEntitiesPerNote int
	// MaxConnectionsPerPass caps how many connections a single pass will derive
	MaxConnectionsPerPass int
}

// DefaultSynthesisLimits returns the built-in limits
func DefaultSynthesisLimits() SynthesisLimits {
	return SynthesisLimits{
		DebounceInterval:      2 * time.Second,
		MaxEntitiesPerNote:    50,
		MaxConnectionsPerPass: 200,
	}
}

// Normalize fills zero or negative fields from the defaults
func (l SynthesisLimits) Normalize() SynthesisLimits {
	defaults := DefaultSynthesisLimits()
	if l.DebounceInterval <= 0 {
		l.DebounceInterval = defaults.DebounceInterval
	}
	if l.MaxEntitiesPerNote <= 0 {
		l.MaxEntitiesPerNote = defaults.MaxEntitiesPerNote
	}
	if l.MaxConnectionsPerPass <= 0 {
		l.MaxConnectionsPerPass = defaults.MaxConnectionsPerPass
	}
	return l
}

// LimitsProvider returns the current synthesis limits
type LimitsProvider func() SynthesisLimits
