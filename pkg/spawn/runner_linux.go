package spawn

import (
	"syscall"

	"github.com/provak/go-spawn/pkg/rlimit"
	"github.com/provak/go-spawn/pkg/sigset"
)

// Runner is the configuration for a single spawn: the exec path, argv, and
// the process lifecycle controls applied inside the trampoline before execve
type Runner struct {
	// Path is the program to execute. With SearchPath set and no slash in
	// Path, it is resolved against $PATH the way execvp does.
	Path string

	// Args is the argument vector for the program; defaults to {Path}
	Args []string

	// Env is the environment in "KEY=VALUE" form; nil inherits the caller's
	Env []string

	// PDeathSig is armed via prctl(PR_SET_PDEATHSIG) against the parent at
	// the time of the call, which is the short-lived middle process when
	// DoubleFork is set. 0 leaves the setting alone.
	PDeathSig syscall.Signal

	// SigIgnore holds the signals set to ignored disposition before execve.
	// SIGKILL and SIGSTOP cannot be ignored and are skipped, not rejected.
	SigIgnore sigset.Mask

	// Sibling reparents the new process to the caller's own parent
	// (CLONE_PARENT). The caller then cannot wait for it.
	Sibling bool

	// SearchPath enables $PATH lookup for a slash-free Path
	SearchPath bool

	// Setsid creates a new session, detaching from the controlling terminal
	Setsid bool

	// DoubleFork spawns through an intermediate process that exits
	// immediately, so the final process never has a parent relationship
	// back to the caller
	DoubleFork bool

	// RLimits are applied with prlimit64 right before execve
	RLimits []rlimit.RLimit

	// Seccomp syscall filter loaded right before execve; implies
	// PR_SET_NO_NEW_PRIVS
	Seccomp *syscall.SockFprog
}
