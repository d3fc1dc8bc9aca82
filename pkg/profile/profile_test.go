package profile

import (
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/assert"
)

func intPtr(v int) *int { return &v }

func TestResolveTiers(t *testing.T) {
	tests := []struct {
		name string
		tier string
		want Profile
	}{
		{"low", "low", Profile{Tier: TierLow, FPS: 10, Width: 720, MaxFrames: 2000, CRF: 26, Preset: "faster"}},
		{"medium", "medium", Profile{Tier: TierMedium, FPS: 20, Width: 1280, MaxFrames: 4000, CRF: 22, Preset: "medium"}},
		{"high", "high", Profile{Tier: TierHigh, FPS: 24, Width: 0, MaxFrames: 8000, CRF: 18, Preset: "slow"}},
		{"case insensitive", "HiGh", Profile{Tier: TierHigh, FPS: 24, Width: 0, MaxFrames: 8000, CRF: 18, Preset: "slow"}},
		{"empty defaults to medium", "", Profile{Tier: TierMedium, FPS: 20, Width: 1280, MaxFrames: 4000, CRF: 22, Preset: "medium"}},
		{"unknown defaults to medium", "ultra", Profile{Tier: TierMedium, FPS: 20, Width: 1280, MaxFrames: 4000, CRF: 22, Preset: "medium"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(tt.tier, Overrides{}))
		})
	}
}

func TestResolveLowWithoutOverrides(t *testing.T) {
	p := Resolve("low", Overrides{})
	assert.Equal(t, 10, p.FPS)
	assert.Equal(t, 720, p.Width)
	assert.Equal(t, 2000, p.MaxFrames)
	assert.Equal(t, 26, p.CRF)
	assert.Equal(t, "faster", p.Preset)
}

func TestResolveHighClampsFPSOverride(t *testing.T) {
	p := Resolve("high", Overrides{FPS: intPtr(100)})
	assert.Equal(t, 60, p.FPS)
	assert.Equal(t, 0, p.Width)
	assert.Equal(t, 8000, p.MaxFrames)
}

func TestResolveOverridesKeepEncoderQuality(t *testing.T) {
	p := Resolve("low", Overrides{FPS: intPtr(30), Width: intPtr(1920), MaxFrames: intPtr(50)})
	assert.Equal(t, 30, p.FPS)
	assert.Equal(t, 1920, p.Width)
	assert.Equal(t, 50, p.MaxFrames)
	assert.Equal(t, 26, p.CRF)
	assert.Equal(t, "faster", p.Preset)
}

func TestResolveFPSClampProperty(t *testing.T) {
	prop := func(tierIdx uint8, fps int) bool {
		tier := string(Tiers()[int(tierIdx)%len(Tiers())])
		got := Resolve(tier, Overrides{FPS: &fps}).FPS
		return got == clamp(fps, 5, 60)
	}
	if err := quick.Check(prop, nil); err != nil {
		t.Error(err)
	}
}

func TestResolveWidthProperty(t *testing.T) {
	prop := func(w int) bool {
		got := Resolve("medium", Overrides{Width: &w}).Width
		if w < 0 {
			return got == 0
		}
		return got == w
	}
	if err := quick.Check(prop, nil); err != nil {
		t.Error(err)
	}
}

func TestResolveMaxFramesProperty(t *testing.T) {
	prop := func(m int) bool {
		got := Resolve("low", Overrides{MaxFrames: &m}).MaxFrames
		if m <= 0 {
			return got == 1000
		}
		return got == m
	}
	if err := quick.Check(prop, nil); err != nil {
		t.Error(err)
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	prop := func(tier string, fps, width, maxFrames int) bool {
		o := Overrides{FPS: &fps, Width: &width, MaxFrames: &maxFrames}
		return Resolve(tier, o) == Resolve(tier, o)
	}
	if err := quick.Check(prop, nil); err != nil {
		t.Error(err)
	}
}
