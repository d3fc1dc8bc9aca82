// Package profile maps a coarse quality tier plus optional overrides onto
// concrete encoder parameters.
package profile

import "strings"

// Tier is a named coarse quality setting.
type Tier string

const (
	TierLow    Tier = "low"
	TierMedium Tier = "medium"
	TierHigh   Tier = "high"
)

const (
	minFPS           = 5
	maxFPS           = 60
	defaultMaxFrames = 1000
)

// Profile is the fully resolved parameter set for one encode. It is never persisted.
type Profile struct {
	Tier      Tier   `json:"tier" yaml:"tier"`
	FPS       int    `json:"fps" yaml:"fps"`
	Width     int    `json:"width" yaml:"width"` // 0 keeps the source resolution
	MaxFrames int    `json:"maxFrames" yaml:"maxFrames"`
	CRF       int    `json:"crf" yaml:"crf"`
	Preset    string `json:"preset" yaml:"preset"`
}

var tiers = map[Tier]Profile{
	TierLow:    {Tier: TierLow, FPS: 10, Width: 720, MaxFrames: 2000, CRF: 26, Preset: "faster"},
	TierMedium: {Tier: TierMedium, FPS: 20, Width: 1280, MaxFrames: 4000, CRF: 22, Preset: "medium"},
	TierHigh:   {Tier: TierHigh, FPS: 24, Width: 0, MaxFrames: 8000, CRF: 18, Preset: "slow"},
}

// Tiers returns the known tiers in ascending quality order.
func Tiers() []Tier {
	return []Tier{TierLow, TierMedium, TierHigh}
}

// ParseTier maps s onto a known tier, case-insensitively. Anything else,
// including the empty string, selects medium.
func ParseTier(s string) Tier {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := tiers[t]; ok {
		return t
	}
	return TierMedium
}

// Overrides replace the tier's fps, width and frame cap when non-nil.
// CRF and preset are not overridable.
type Overrides struct {
	FPS       *int
	Width     *int
	MaxFrames *int
}

// Resolve returns the tier's base profile with overrides and safety clamps applied.
func Resolve(tier string, o Overrides) Profile {
	p := tiers[ParseTier(tier)]

	if o.FPS != nil {
		p.FPS = *o.FPS
	}
	if o.Width != nil {
		p.Width = *o.Width
	}
	if o.MaxFrames != nil {
		p.MaxFrames = *o.MaxFrames
	}

	p.FPS = clamp(p.FPS, minFPS, maxFPS)
	if p.Width < 0 {
		p.Width = 0
	}
	if p.MaxFrames <= 0 {
		p.MaxFrames = defaultMaxFrames
	}
	return p
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
