package universe

import (
	"time"

	"github.com/corekernel/corekernel/internal/kerr"
	"github.com/corekernel/corekernel/internal/timer"
)

// ClockGetNanos returns the current time as nanoseconds since the Unix
// epoch (clock_get_nanos).
func (u *Universe) ClockGetNanos() uint64 {
	return uint64(time.Now().UnixNano())
}

// SetTimerEngine wires the per-CPU TimerEngine that ThreadSleep installs
// nodes into.
func (u *Universe) SetTimerEngine(e *timer.Engine) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.timerEngine = e
}

// ThreadSleep blocks the calling goroutine until deadlineNanos via the
// wired TimerEngine (thread_sleep).
func (u *Universe) ThreadSleep(deadlineNanos int64) error {
	u.mu.Lock()
	e := u.timerEngine
	u.mu.Unlock()
	if e == nil {
		return kerr.NewError("thread_sleep", kerr.KindProtocolViolation, "no timer engine wired")
	}

	done := make(chan struct{})
	node := timer.NewNode(deadlineNanos, func() { close(done) })
	if err := e.Install(node); err != nil {
		return err
	}
	<-done
	return nil
}
