package engine

import "github.com/dogmatiq/dodeca/logging"

// Option configures an Engine created by New, following the functional
// options pattern dissolve's responder package uses.
type Option func(*Engine)

// UseLogger sets the logger the engine uses for defensive-drop and
// lifecycle diagnostics. The default is logging.DefaultLogger.
func UseLogger(l logging.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// UseClock overrides the engine's Clock, primarily for deterministic tests
// (spec design note on jitter injection).
func UseClock(c Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}
