package spawn

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/provak/go-spawn/pkg/spawn/vfork"
)

// spawnInChild clones the trampoline context and, inside it, applies the
// lifecycle controls in fixed order before replacing the process image.
// Reference to src/syscall/exec_linux.go
//
// CLONE_VM means the new context borrows the caller's address space and the
// caller's (suspended, per CLONE_VFORK) stack frame: beyond the clone there
// must be only raw syscalls, no allocation and no calls into the runtime. In
// particular runtime_AfterForkInChild must not run here, since it would
// mutate runtime state the suspended parent still owns.
//
// Each step clears its own trigger field before acting, so the nested
// invocation under double fork skips work the middle process already did.
//
//go:norace
func spawnInChild(d *spawnDesc, cloneFlags uintptr) (r1 uintptr, err1 syscall.Errno) {
	var (
		pid    uintptr
		sig    uintptr
		sigign uint64
		acces  syscall.Errno
		step   ErrorLocation
		i      int
	)

	r1, err1 = vfork.RawVforkSyscall(syscall.SYS_CLONE, cloneFlags, 0, 0)
	if err1 != 0 || r1 != 0 {
		// in parent process; the child has already exec'ed or died
		return
	}

	// In the cloned context
	// Notice: cannot call any GO functions beyond this point

	// create a new session, detaching from the controlling terminal
	if d.flags&flagSetsid != 0 {
		d.flags &^= flagSetsid
		_, _, err1 = syscall.RawSyscall(syscall.SYS_SETSID, 0, 0, 0)
		if err1 != 0 {
			step = LocSetsid
			goto childerror
		}
	}

	// arm the parent death signal. The parent here is whoever cloned this
	// context: the caller, or the middle process under double fork.
	if sig = d.pdeathSig; sig != 0 {
		d.pdeathSig = 0
		_, _, err1 = syscall.RawSyscall6(syscall.SYS_PRCTL, unix.PR_SET_PDEATHSIG, sig, 0, 0, 0, 0)
		if err1 != 0 {
			step = LocPDeathSig
			goto childerror
		}
	}

	// double fork: this context becomes the middle process whose only job
	// is to create the final detached context and die. The nested clone
	// re-enters this trampoline with both flags already consumed.
	if d.flags&flagDoubleFork != 0 {
		d.flags &^= flagDoubleFork
		r1, err1 = vfork.RawVforkSyscall(syscall.SYS_CLONE,
			uintptr(syscall.SIGCHLD)|syscall.CLONE_VM|syscall.CLONE_VFORK, 0, 0)
		if r1 != 0 || err1 != 0 {
			// middle process: report the nested clone outcome and stop.
			// A failure record the grandchild has written must survive.
			if err1 != 0 {
				d.step = LocCloneDoubleFork
				d.errno = err1
			}
			goto die
		}
		// grandchild continues with the remaining steps
	}

	// set ignored dispositions, skipping the two the kernel refuses
	if sigign = d.sigIgnore; sigign != 0 {
		d.sigIgnore = 0
		sig = 0
		for sigign != 0 {
			has := sigign&1 != 0
			sigign >>= 1
			sig++
			if !has || sig == uintptr(syscall.SIGKILL) || sig == uintptr(syscall.SIGSTOP) {
				continue
			}
			_, _, err1 = syscall.RawSyscall6(unix.SYS_RT_SIGACTION, sig,
				uintptr(unsafe.Pointer(d.sigAct)), 0, _sigsetSize, 0, 0)
			if err1 != 0 {
				step = LocSigIgnore
				goto childerror
			}
		}
	}

	// resource limits
	// prlimit instead of setrlimit to avoid 32-bit limitation (linux > 3.2)
	for i = 0; i < len(d.rlimits); i++ {
		_, _, err1 = syscall.RawSyscall6(syscall.SYS_PRLIMIT64, 0,
			uintptr(d.rlimits[i].Res), uintptr(unsafe.Pointer(&d.rlimits[i].Rlim)), 0, 0, 0)
		if err1 != 0 {
			step = LocSetRlimit
			goto childerror
		}
	}

	// load the seccomp filter; no_new_privs is required for an
	// unprivileged process to install one
	if d.filter != nil {
		_, _, err1 = syscall.RawSyscall6(syscall.SYS_PRCTL, unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0, 0)
		if err1 != 0 {
			step = LocSetNoNewPrivs
			goto childerror
		}
		_, _, err1 = syscall.RawSyscall(unix.SYS_SECCOMP, SECCOMP_SET_MODE_FILTER,
			SECCOMP_FILTER_FLAG_TSYNC, uintptr(unsafe.Pointer(d.filter)))
		if err1 != 0 {
			step = LocSeccomp
			goto childerror
		}
	}

	// the point of no return: record which context reached exec, so the
	// caller can tell the surviving pid from the clone's return value
	pid, _, _ = syscall.RawSyscall(syscall.SYS_GETPID, 0, 0, 0)
	d.pid = pid

	// try each candidate path in order; EACCES takes reporting precedence
	// over a plain not-found (execvp rule)
	for i = 0; i < len(d.cand); i++ {
		_, _, err1 = syscall.RawSyscall(syscall.SYS_EXECVE,
			uintptr(unsafe.Pointer(d.cand[i])),
			uintptr(unsafe.Pointer(&d.argv[0])),
			uintptr(unsafe.Pointer(&d.envv[0])))
		if err1 == syscall.EACCES {
			acces = err1
		}
	}
	if acces != 0 {
		err1 = acces
	}
	step = LocExecve

childerror:
	d.step = step
	d.errno = err1

die:
	// deliver an uncatchable termination to self so this context never
	// returns into caller owned frames
	pid, _, _ = syscall.RawSyscall(syscall.SYS_GETPID, 0, 0, 0)
	syscall.RawSyscall(syscall.SYS_KILL, pid, uintptr(syscall.SIGKILL), 0)
	for {
		syscall.RawSyscall(syscall.SYS_EXIT, 0, 0, 0)
	}
	// cannot reach this point
}
