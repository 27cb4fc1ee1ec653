package spawn

import (
	"fmt"
	"syscall"
)

// ErrorLocation defines the trampoline step where the spawned context failed
type ErrorLocation int

// SpawnError defines the specific error and the step where it occurred. It is
// reported through the shared descriptor after the clone itself succeeded,
// since the failing context is destroyed before it could return anything.
type SpawnError struct {
	Err      syscall.Errno
	Location ErrorLocation
}

// Location constants
const (
	LocSetsid ErrorLocation = iota + 1
	LocPDeathSig
	LocCloneDoubleFork
	LocSigIgnore
	LocSetRlimit
	LocSetNoNewPrivs
	LocSeccomp
	LocExecve
)

var locToString = []string{
	"unknown",
	"setsid",
	"prctl(PR_SET_PDEATHSIG)",
	"clone(doublefork)",
	"rt_sigaction",
	"setrlimit",
	"set_no_new_privs",
	"seccomp",
	"execve",
}

func (e ErrorLocation) String() string {
	if e >= LocSetsid && e <= LocExecve {
		return locToString[e]
	}
	return "unknown"
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("%s: %s", e.Location.String(), e.Err.Error())
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}
