// Command spawnprog executes a program detached from the current process with
// lifecycle controls (death signal, new session, double fork, ignored
// signals, rlimits, seccomp) applied before exec.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"syscall"

	"github.com/provak/go-spawn/pkg/pdeathsig"
	"github.com/provak/go-spawn/pkg/rlimit"
	"github.com/provak/go-spawn/pkg/seccomp"
	"github.com/provak/go-spawn/pkg/sigset"
	"github.com/provak/go-spawn/pkg/spawn"
)

var (
	deathSig, ownDeathSig              int
	sibling, searchPath, setsid        bool
	doubleFork, sigignAll, wait        bool
	showPDeathSig                      bool
	cpuLimit, fileSizeLimit, openFile  uint64
	noCore                             bool
	sigign, seccompAllow, seccompBlock arrayFlags
)

func printUsage() {
	fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [options] <path> [args...]\n", os.Args[0])
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	flag.Usage = printUsage
	flag.IntVar(&deathSig, "signal", 0, "Arm a parent death signal for the spawned process")
	flag.BoolVar(&sibling, "sibling", false, "Reparent the spawned process to our own parent")
	flag.BoolVar(&searchPath, "search-path", false, "Look the program up in $PATH")
	flag.BoolVar(&setsid, "setsid", false, "Create a new session for the spawned process")
	flag.BoolVar(&doubleFork, "doublefork", false, "Detach through an intermediate process")
	flag.Var(&sigign, "sigign", "Ignore a signal number in the spawned process (repeatable)")
	flag.BoolVar(&sigignAll, "sigign-all", false, "Ignore every signal that can be ignored")
	flag.Uint64Var(&cpuLimit, "cpu", 0, "Set cpu time limit (in second)")
	flag.Uint64Var(&fileSizeLimit, "fsize", 0, "Set file size limit (in byte)")
	flag.Uint64Var(&openFile, "nofile", 0, "Set open file limit")
	flag.BoolVar(&noCore, "no-core", false, "Disable core dumps")
	flag.Var(&seccompAllow, "seccomp-allow", "Allow a syscall by name, kill the rest (repeatable)")
	flag.Var(&seccompBlock, "seccomp-block", "Block a syscall by name, allow the rest (repeatable)")
	flag.BoolVar(&wait, "wait", false, "Wait for the spawned process and report its status")
	flag.BoolVar(&showPDeathSig, "show-pdeathsig", false, "Print our own parent death signal and exit")
	flag.IntVar(&ownDeathSig, "own-pdeathsig", 0, "Set our own parent death signal before spawning")
	flag.Parse()

	if showPDeathSig {
		sig, err := pdeathsig.Get()
		if err != nil {
			fatal(err)
		}
		fmt.Println(int(sig))
		return
	}

	if ownDeathSig != 0 {
		if err := pdeathsig.Set(syscall.Signal(ownDeathSig)); err != nil {
			fatal(err)
		}
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
	}

	r := spawn.Runner{
		Path:       args[0],
		Args:       args,
		PDeathSig:  syscall.Signal(deathSig),
		Sibling:    sibling,
		SearchPath: searchPath,
		Setsid:     setsid,
		DoubleFork: doubleFork,
	}

	if sigignAll {
		r.SigIgnore = sigset.Full()
	} else if len(sigign) > 0 {
		sigs := make([]syscall.Signal, 0, len(sigign))
		for _, s := range sigign {
			n, err := strconv.Atoi(s)
			if err != nil {
				fatal(fmt.Errorf("bad signal number %q: %w", s, err))
			}
			sigs = append(sigs, syscall.Signal(n))
		}
		mask, err := sigset.Encode(sigs)
		if err != nil {
			fatal(err)
		}
		r.SigIgnore = mask
	}

	rl := rlimit.RLimits{
		CPU:         cpuLimit,
		FileSize:    fileSizeLimit,
		OpenFile:    openFile,
		DisableCore: noCore,
	}
	r.RLimits = rl.PrepareRLimit()

	if len(seccompAllow) > 0 || len(seccompBlock) > 0 {
		b := seccomp.Builder{
			Allow:   seccompAllow,
			Block:   seccompBlock,
			Default: seccomp.ActionKill,
		}
		if len(seccompAllow) == 0 {
			b.Default = seccomp.ActionAllow
		}
		filter, err := b.Build()
		if err != nil {
			fatal(err)
		}
		r.Seccomp = filter.SockFprog()
	}

	pid, err := r.Start()
	if err != nil {
		fatal(err)
	}
	if pid == 0 {
		fmt.Println("detached")
		return
	}
	fmt.Println(pid)

	if wait {
		var ws syscall.WaitStatus
		_, err := syscall.Wait4(pid, &ws, 0, nil)
		for err == syscall.EINTR {
			_, err = syscall.Wait4(pid, &ws, 0, nil)
		}
		if err != nil {
			fatal(err)
		}
		switch {
		case ws.Exited():
			os.Exit(ws.ExitStatus())
		case ws.Signaled():
			fatal(fmt.Errorf("killed by signal %d", ws.Signal()))
		}
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
