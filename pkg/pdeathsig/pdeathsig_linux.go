// Package pdeathsig provides access to the parent process death signal of the
// calling process.
// See http://man7.org/linux/man-pages/man2/prctl.2.html
package pdeathsig

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Get returns the current parent process death signal, 0 if none
func Get() (syscall.Signal, error) {
	var sig int
	if err := unix.Prctl(unix.PR_GET_PDEATHSIG, uintptr(unsafe.Pointer(&sig)), 0, 0, 0); err != nil {
		return 0, err
	}
	return syscall.Signal(sig), nil
}

// Set sets the parent process death signal of the calling process.
// 0 clears the setting. The value is cleared for the child of a fork and
// when executing a set-user-ID or set-group-ID binary.
func Set(sig syscall.Signal) error {
	return unix.Prctl(unix.PR_SET_PDEATHSIG, uintptr(sig), 0, 0, 0)
}
