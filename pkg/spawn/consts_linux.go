package spawn

// defines missing consts from syscall package
const (
	SECCOMP_SET_MODE_FILTER   = 1
	SECCOMP_FILTER_FLAG_TSYNC = 1
)

// trampoline control flags, consumed as each step begins
const (
	flagSetsid uintptr = 1 << iota
	flagDoubleFork
)

const (
	// SIG_IGN disposition for rt_sigaction
	_SIG_IGN uintptr = 1

	// kernel sigset size in bytes (_NSIG / 8)
	_sigsetSize uintptr = 8
)

// default search path used by execvp when $PATH is unset
const defaultPath = "/usr/local/bin:/bin:/usr/bin"

// sigactiont mirrors the kernel struct sigaction taken by rt_sigaction
type sigactiont struct {
	handler  uintptr
	flags    uintptr
	restorer uintptr
	mask     uint64
}
