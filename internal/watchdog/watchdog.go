// Package watchdog is the hardware boundary for the MCU's independent
// watchdog timer, grounded on bindicator's machine.Watchdog.Configure /
// Start / Update usage in main.go: configure once with a timeout, start it,
// and feed it periodically or let it reset the MCU.
package watchdog

import "time"

// Timer is the watchdog boundary. The orchestrator starts it just before
// jumping to an authenticated image when the configuration enables it;
// it never calls Feed itself.
type Timer interface {
	// Configure sets the reset timeout. Must be called before Start.
	Configure(timeout time.Duration) error

	// Start enables the watchdog. Once started it cannot be stopped
	// short of a reset, matching real watchdog peripherals.
	Start() error

	// Feed resets the countdown. Not calling Feed for longer than the
	// configured timeout triggers an MCU reset.
	Feed()
}
