// Package spawn runs a program in a new process created by clone sharing the
// caller's address space, with session detach, a parent death signal, ignored
// signal dispositions, resource limits and a seccomp filter all applied before
// the program image is loaded.
//
// The caller and the new process communicate through a descriptor in the
// shared memory; CLONE_VFORK suspends the caller until the new process has
// either replaced its image or died, so the descriptor is stable whenever the
// caller reads it.
//
// seccomp requires kernel >= 3.5
// prlimit64 requires kernel >= 2.6.36
package spawn
