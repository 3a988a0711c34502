package runloop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResolveLoopOptionsDefaults(t *testing.T) {
	cfg := resolveLoopOptions(nil)

	assert.IsType(t, RealClock{}, cfg.clock)
	assert.Equal(t, ModeDefault, cfg.commonMode)
}

func TestWithClockOverridesDefault(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	cfg := resolveLoopOptions([]LoopOption{WithClock(clock)})

	assert.Same(t, clock, cfg.clock)
}

func TestWithClockNilIsIgnored(t *testing.T) {
	cfg := resolveLoopOptions([]LoopOption{WithClock(nil)})

	assert.IsType(t, RealClock{}, cfg.clock, "a nil Clock option must not clobber the default")
}

func TestWithDefaultCommonModeName(t *testing.T) {
	cfg := resolveLoopOptions([]LoopOption{WithDefaultCommonModeName("alt")})

	assert.Equal(t, "alt", cfg.commonMode)
}

func TestWithDefaultCommonModeNameEmptyIgnored(t *testing.T) {
	cfg := resolveLoopOptions([]LoopOption{WithDefaultCommonModeName("")})

	assert.Equal(t, ModeDefault, cfg.commonMode)
}

func TestResolveLoopOptionsSkipsNilOption(t *testing.T) {
	assert.NotPanics(t, func() {
		resolveLoopOptions([]LoopOption{nil})
	})
}

func TestNewLoopUsesDefaultCommonModeOption(t *testing.T) {
	loop := New(WithDefaultCommonModeName("alt"))

	src := NewManualSource(0, func() {})
	loop.AddSource(src, ModeCommon)

	assert.True(t, loop.ContainsSource(src, "alt"))
}
