package governor

import "sync/atomic"

// Deadman is the operator heartbeat watchdog. Any authenticated
// sovereign command counts as a pulse; silence past the timeout
// freezes the kernel until an operator returns.
type Deadman struct {
	timeoutUs int64
	lastPulse int64
}

// NewDeadman starts the watchdog with its first pulse at nowUs. A
// non-positive timeout disables the watchdog.
func NewDeadman(timeoutUs, nowUs int64) *Deadman {
	d := &Deadman{timeoutUs: timeoutUs}
	atomic.StoreInt64(&d.lastPulse, nowUs)
	return d
}

// Pulse records operator liveness.
func (d *Deadman) Pulse(nowUs int64) {
	atomic.StoreInt64(&d.lastPulse, nowUs)
}

// Expired reports whether the operator has gone silent past the
// timeout.
func (d *Deadman) Expired(nowUs int64) bool {
	if d == nil || d.timeoutUs <= 0 {
		return false
	}
	return nowUs-atomic.LoadInt64(&d.lastPulse) > d.timeoutUs
}
