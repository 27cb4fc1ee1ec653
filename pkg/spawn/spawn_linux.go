package spawn

import (
	"syscall"

	"github.com/provak/go-spawn/pkg/rlimit"
	"github.com/provak/go-spawn/pkg/sigset"
)

// spawnDesc is the single record bridging the caller and the trampoline. It
// lives in the caller's frame; CLONE_VM makes it visible to the spawned
// context and CLONE_VFORK guarantees the caller only reads the result fields
// once the context has exec'ed or died.
type spawnDesc struct {
	// controls, cleared by the trampoline as each one is consumed
	flags     uintptr
	pdeathSig uintptr
	sigIgnore uint64

	// exec vectors, read-only in the trampoline; owned by the caller and
	// alive for the whole spawn since the caller is suspended meanwhile
	cand []*byte
	argv []*byte
	envv []*byte

	// applied only by the final context, after the double fork branch
	rlimits []rlimit.RLimit
	filter  *syscall.SockFprog
	sigAct  *sigactiont

	// results
	pid   uintptr
	step  ErrorLocation
	errno syscall.Errno
}

// Start validates the configuration, clones the trampoline and resolves the
// outcome. It returns the pid of the spawned process, or 0 when the process
// has already exited or detached and its id can no longer be tracked, or an
// error: validation errors and clone failures are reported directly, while a
// failure inside the trampoline surfaces as *SpawnError naming the step.
func (r *Runner) Start() (int, error) {
	if r.PDeathSig < 0 || r.PDeathSig > sigset.MaxSignal {
		return 0, &sigset.InvalidSignalError{Signal: int(r.PDeathSig)}
	}

	cand, argv, envv, err := prepareExec(r.Path, r.Args, r.Env, r.SearchPath)
	if err != nil {
		return 0, err
	}

	var flags uintptr
	if r.Setsid {
		flags |= flagSetsid
	}
	if r.DoubleFork {
		flags |= flagDoubleFork
	}

	cloneFlags := uintptr(syscall.SIGCHLD) | syscall.CLONE_VM | syscall.CLONE_VFORK
	if r.Sibling {
		cloneFlags |= syscall.CLONE_PARENT
	}

	sigAct := sigactiont{handler: _SIG_IGN}
	desc := spawnDesc{
		flags:     flags,
		pdeathSig: uintptr(r.PDeathSig),
		sigIgnore: uint64(r.SigIgnore),
		cand:      cand,
		argv:      argv,
		envv:      envv,
		rlimits:   r.RLimits,
		filter:    r.Seccomp,
		sigAct:    &sigAct,
	}

	// Acquire the fork lock so that no other threads create new fds that
	// are not yet close-on-exec before we clone.
	syscall.ForkLock.Lock()

	// About to call clone.
	// No more allocation or calls of non-assembly functions.
	beforeFork()
	pid, err1 := spawnInChild(&desc, cloneFlags)

	// the caller resumes here only after the child has exec'ed or died
	afterFork()
	syscall.ForkLock.Unlock()

	// clone syscall failed, no descriptor involved
	if err1 != 0 {
		return 0, err1
	}
	return resolveChild(&desc, int(pid))
}

// resolveChild inspects the descriptor's terminal state and settles the
// (expected) race between the clone's returned id and the process that
// actually survived.
func resolveChild(d *spawnDesc, pid int) (int, error) {
	var ws syscall.WaitStatus

	// one non-blocking poll: has the immediate child already terminated?
	reaped := false
	if ret, err := syscall.Wait4(pid, &ws, syscall.WNOHANG, nil); err == nil && ret == pid {
		reaped = true
	}

	if d.step != 0 {
		// the trampoline self-terminated after recording the failure
		if !reaped {
			reapChild(pid)
		}
		return 0, &SpawnError{Err: d.errno, Location: d.step}
	}

	// under double fork the clone's id names the middle process, which is
	// certainly dead: reap it and report the survivor as untrackable,
	// since its pid may be reused at any moment
	if d.pid != 0 && int(d.pid) != pid {
		if !reaped {
			reapChild(pid)
		}
		return 0, nil
	}

	if reaped {
		// exec succeeded but the program is already gone
		return 0, nil
	}
	return pid, nil
}

// reapChild waits for a child known to be dead, so zombies don't accumulate.
// ECHILD means a sibling spawn owned by the caller's parent; nothing to do.
func reapChild(pid int) {
	var ws syscall.WaitStatus
	_, err := syscall.Wait4(pid, &ws, 0, nil)
	for err == syscall.EINTR {
		_, err = syscall.Wait4(pid, &ws, 0, nil)
	}
}
