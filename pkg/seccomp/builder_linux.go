package seccomp

import (
	"syscall"

	libseccomp "github.com/elastic/go-seccomp-bpf"
	"golang.org/x/net/bpf"
)

// Builder is used to build the filter from syscall names
type Builder struct {
	Allow, Block []string
	Default      Action
}

// ToSeccompAction convert action to libseccomp compatible action
func ToSeccompAction(a Action) libseccomp.Action {
	var action libseccomp.Action
	switch a.Action() {
	case ActionAllow:
		action = libseccomp.ActionAllow
	case ActionErrno:
		action = libseccomp.ActionErrno
	case ActionTrace:
		action = libseccomp.ActionTrace
	default:
		action = libseccomp.ActionKillProcess
	}
	// the least 16 bit of ret value is SECCOMP_RET_DATA
	action = action.WithReturnData(int(a.ReturnCode()))
	return action
}

// Build assembles the policy into a kernel readable BPF filter
func (b *Builder) Build() (Filter, error) {
	policy := libseccomp.Policy{
		DefaultAction: ToSeccompAction(b.Default),
	}
	if len(b.Allow) > 0 {
		policy.Syscalls = append(policy.Syscalls, libseccomp.SyscallGroup{
			Action: libseccomp.ActionAllow,
			Names:  b.Allow,
		})
	}
	if len(b.Block) > 0 {
		policy.Syscalls = append(policy.Syscalls, libseccomp.SyscallGroup{
			Action: libseccomp.ActionErrno,
			Names:  b.Block,
		})
	}
	insts, err := policy.Assemble()
	if err != nil {
		return nil, err
	}
	return ExportBPF(insts)
}

// ExportBPF convert libseccomp filter to kernel readable BPF content
func ExportBPF(insts []bpf.Instruction) (Filter, error) {
	raw, err := bpf.Assemble(insts)
	if err != nil {
		return nil, err
	}
	prog := make(Filter, 0, len(raw))
	for _, r := range raw {
		prog = append(prog, syscall.SockFilter{
			Code: r.Op,
			Jt:   r.Jt,
			Jf:   r.Jf,
			K:    r.K,
		})
	}
	return prog, nil
}
