// logging.go - structured logging for the runloop package, backed by logiface.
//
// Design Decision: a package-level global variable is appropriate here
// because logging is an infrastructure cross-cutting concern, and every
// Loop shares the same default unless overridden with WithLogger.
package runloop

import (
	"sync"

	"github.com/joeycumines/logiface"
)

// Logger is the structured logging handle used for Loop lifecycle events
// (mode entry/exit, timer rearm, registration rejection, wait-primitive
// errors). It is a type alias for logiface's generified logger, so any
// logiface backend (stumpy, zerolog, slog, logrus, ...) can be plugged in
// via WithLogger without this package depending on a concrete backend.
//
// A nil Logger is valid and behaves as fully disabled — every method on it
// is a no-op, matching logiface's own nil-receiver contract.
type Logger = *logiface.Logger[logiface.Event]

var globalLogger struct {
	sync.RWMutex
	logger Logger
}

// SetLogger sets the package-level default Logger, used by any Loop
// constructed afterwards that does not supply WithLogger explicitly. A Loop
// keeps the Logger it was constructed with.
func SetLogger(l Logger) {
	globalLogger.Lock()
	defer globalLogger.Unlock()
	globalLogger.logger = l
}

// getGlobalLogger safely retrieves the package-level default Logger. It
// returns nil (fully disabled) if none has been set.
func getGlobalLogger() Logger {
	globalLogger.RLock()
	defer globalLogger.RUnlock()
	return globalLogger.logger
}

// loopLogFields appends the fields common to every lifecycle log line.
func loopLogFields(b *logiface.Builder[logiface.Event], loopID int64, mode string) *logiface.Builder[logiface.Event] {
	b = b.Int64("loop", loopID)
	if mode != "" {
		b = b.Str("mode", mode)
	}
	return b
}

// logModeEntry logs RunInMode entering a mode (ActivityEntry observers fire
// immediately after this).
func logModeEntry(l Logger, loopID int64, mode string) {
	loopLogFields(l.Debug(), loopID, mode).Log("entering mode")
}

// logModeExit logs RunInMode returning from a mode, with the RunResult.
func logModeExit(l Logger, loopID int64, mode string, result RunResult) {
	loopLogFields(l.Debug(), loopID, mode).Str("result", result.String()).Log("exiting mode")
}

// logTimerArmed logs a Timer being (re)armed with its next deadline.
func logTimerArmed(l Logger, loopID int64, order int, nextInterval string) {
	l.Debug().Int64("loop", loopID).Int("order", order).Str("next", nextInterval).Log("timer armed")
}

// logTimerFired logs a Timer's callback having been dispatched.
func logTimerFired(l Logger, loopID int64, order int) {
	l.Debug().Int64("loop", loopID).Int("order", order).Log("timer fired")
}

// logRegistrationRejected logs an Add* call rejected because the Loop is
// deallocating.
func logRegistrationRejected(l Logger, loopID int64, kind string) {
	l.Warning().Int64("loop", loopID).Str("kind", kind).Log("registration rejected: loop is deallocating")
}

// logWaitSetError logs a fatal failure constructing or polling a mode's
// wait set (epoll_create1/kqueue failures, or an error from PollIO).
func logWaitSetError(l Logger, loopID int64, mode string, err error) {
	loopLogFields(l.Err(), loopID, mode).Err(err).Log("wait set error")
}

// logCallbackPanic logs a recovered panic from an Observer, Source or Timer
// callback. The Loop keeps running: callbacks are expected not to panic,
// but a single misbehaving callback must not take the whole loop down.
func logCallbackPanic(l Logger, loopID int64, mode string, recovered any) {
	loopLogFields(l.Err(), loopID, mode).Interface("recovered", recovered).Log("callback panic recovered")
}
