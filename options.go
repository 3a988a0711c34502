// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package runloop

// loopOptions holds configuration applied at Loop construction time.
type loopOptions struct {
	clock      Clock
	logger     Logger
	commonMode string
}

// --- Loop Options ---

// LoopOption configures a Loop instance returned by newLoop.
type LoopOption interface {
	applyLoop(*loopOptions)
}

// loopOptionImpl implements LoopOption.
type loopOptionImpl struct {
	applyLoopFunc func(*loopOptions)
}

func (l *loopOptionImpl) applyLoop(opts *loopOptions) {
	l.applyLoopFunc(opts)
}

// WithClock overrides the Clock a Loop uses for timer deadlines. Intended
// for deterministic tests via NewManualClock; defaults to the real
// monotonic system clock.
func WithClock(c Clock) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) {
		if c != nil {
			opts.clock = c
		}
	}}
}

// WithLogger overrides the structured Logger a Loop uses for lifecycle
// events. Defaults to the package-level logger set via SetLogger, or a
// no-op logger if none was set.
func WithLogger(l Logger) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) {
		if l != nil {
			opts.logger = l
		}
	}}
}

// WithDefaultCommonModeName overrides the name of the mode that is common
// by default on every new Loop (ModeDefault unless set here).
func WithDefaultCommonModeName(name string) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) {
		if name != "" {
			opts.commonMode = name
		}
	}}
}

// resolveLoopOptions applies LoopOption instances over the zero-value defaults.
func resolveLoopOptions(opts []LoopOption) *loopOptions {
	cfg := &loopOptions{
		clock:      RealClock{},
		logger:     getGlobalLogger(),
		commonMode: ModeDefault,
	}
	for _, opt := range opts {
		if opt == nil {
			continue // Skip nil options gracefully
		}
		opt.applyLoop(cfg)
	}
	return cfg
}
