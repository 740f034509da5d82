package realtime

import "time"

// MaxReconnectAttempts bounds the total reconnection effort after an
// unsolicited transport drop. Once exhausted the connection settles in
// StateDisconnected and stops retrying.
const MaxReconnectAttempts = 10

// reconnectSchedule maps the attempt number to its delay. The first
// retry is immediate, then the steps escalate to a flat ceiling; the
// curve is a fixed lookup table, not unbounded exponential growth.
var reconnectSchedule = []time.Duration{
	0,
	2 * time.Second,
	10 * time.Second,
	30 * time.Second,
	60 * time.Second,
}

// DelayForAttempt returns the reconnect delay for the given attempt
// number (1-based). Attempts past the end of the schedule use the
// ceiling value.
func DelayForAttempt(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(reconnectSchedule) {
		attempt = len(reconnectSchedule)
	}
	return reconnectSchedule[attempt-1]
}
