// Package vfork provides the mirror of the un-exported syscall.rawVforkSyscall.
// The assembly code is copied from the go syscall package
package vfork

import "syscall"

// RawVforkSyscall is the mirrored version of the un-exported
// syscall.rawVforkSyscall. The go:linkname directive does not work for
// assembly functions and it was suggested by the go team to copy over the
// assembly functions
//
// See go.dev/issue/71892
func RawVforkSyscall(trap, a1, a2, a3 uintptr) (r1 uintptr, err syscall.Errno)
