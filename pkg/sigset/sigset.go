// Package sigset provides a fixed-width bitmask codec for sets of POSIX signals.
package sigset

import (
	"fmt"
	"syscall"
)

// MaxSignal is the largest encodable signal number (_NSIG on linux)
const MaxSignal = 64

// Mask is a set of signals with bit (n - 1) set for signal number n.
// The zero Mask is the empty set.
type Mask uint64

// InvalidSignalError reports a signal number outside [0, MaxSignal]
type InvalidSignalError struct {
	Signal int
}

func (e *InvalidSignalError) Error() string {
	return fmt.Sprintf("invalid signal number: not (0 <= %d <= %d)", e.Signal, MaxSignal)
}

// Encode builds a Mask from signal numbers. Signal 0 is accepted and skipped.
// Out of range numbers fail with InvalidSignalError. SIGKILL and SIGSTOP are
// encoded like any other signal; whether they can be acted upon is decided at
// application time, not here.
func Encode(sigs []syscall.Signal) (Mask, error) {
	var m Mask
	for _, sig := range sigs {
		if sig < 0 || sig > MaxSignal {
			return 0, &InvalidSignalError{Signal: int(sig)}
		}
		if sig == 0 {
			continue
		}
		m |= 1 << (uint(sig) - 1)
	}
	return m, nil
}

// Full returns the mask with every signal set. It is the shorthand for
// "ignore everything that can be ignored".
func Full() Mask {
	return ^Mask(0)
}

// Add returns the mask with sig added. Out of range or zero signals are ignored.
func (m Mask) Add(sig syscall.Signal) Mask {
	if sig <= 0 || sig > MaxSignal {
		return m
	}
	return m | 1<<(uint(sig)-1)
}

// Has reports whether sig is in the mask
func (m Mask) Has(sig syscall.Signal) bool {
	if sig <= 0 || sig > MaxSignal {
		return false
	}
	return m&(1<<(uint(sig)-1)) != 0
}

// Signals decodes the mask back into ascending signal numbers
func (m Mask) Signals() []syscall.Signal {
	var sigs []syscall.Signal
	for sig := syscall.Signal(1); sig <= MaxSignal; sig++ {
		if m.Has(sig) {
			sigs = append(sigs, sig)
		}
	}
	return sigs
}
