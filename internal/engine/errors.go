package engine

import "time"

// NotifyError shows a transient, non-fatal error notification. It
// clears itself after the display window; a newer notification resets
// the timer.
func (e *Engine) NotifyError(message string) {
	e.mu.Lock()
	e.setErrorLocked(message)
	e.mu.Unlock()
	e.notify()
}

func (e *Engine) setErrorLocked(message string) {
	e.state.ErrorMessage = message
	if e.errTimer != nil {
		e.errTimer.Stop()
	}
	e.errTimer = time.AfterFunc(errorDisplayWindow, func() {
		e.mu.Lock()
		e.state.ErrorMessage = ""
		e.errTimer = nil
		e.mu.Unlock()
		e.notify()
	})
}

// ClearError dismisses the current notification immediately.
func (e *Engine) ClearError() {
	e.mu.Lock()
	e.state.ErrorMessage = ""
	if e.errTimer != nil {
		e.errTimer.Stop()
		e.errTimer = nil
	}
	e.mu.Unlock()
	e.notify()
}
