// Package seccomp provides a kernel-loadable filter format for seccomp and a
// builder assembling it from syscall names.
package seccomp

// Action is the seccomp action applied to a matched syscall.
// The default value 0 is invalid
type Action uint32

const (
	ActionAllow Action = iota + 1
	ActionErrno
	ActionTrace
	ActionKill
)

// WithReturnCode sets the return code when action is trace or errno
func (a Action) WithReturnCode(code int16) Action {
	return a.Action() | Action(code)<<16
}

// ReturnCode gets the return code
func (a Action) ReturnCode() int16 {
	return int16(a >> 16)
}

// Action gets the basic action
func (a Action) Action() Action {
	return Action(a & 0xffff)
}
