package spawn

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/provak/go-spawn/pkg/rlimit"
	"github.com/provak/go-spawn/pkg/seccomp"
	"github.com/provak/go-spawn/pkg/sigset"
)

func waitExit(t *testing.T, pid int) syscall.WaitStatus {
	t.Helper()
	var ws syscall.WaitStatus
	_, err := syscall.Wait4(pid, &ws, 0, nil)
	for err == syscall.EINTR {
		_, err = syscall.Wait4(pid, &ws, 0, nil)
	}
	if err != nil {
		t.Fatal(err)
	}
	return ws
}

func TestSpawn_ExitCode(t *testing.T) {
	t.Parallel()
	r := Runner{
		Path: "/bin/sh",
		Args: []string{"sh", "-c", "exit 7"},
	}
	pid, err := r.Start()
	if err != nil {
		t.Fatal(err)
	}
	if pid == 0 {
		t.Fatal("expected trackable pid")
	}
	ws := waitExit(t, pid)
	if !ws.Exited() || ws.ExitStatus() != 7 {
		t.Fatalf("expected exit status 7, got %v", ws)
	}
}

func TestSpawn_DefaultArgs(t *testing.T) {
	t.Parallel()
	r := Runner{Path: "/bin/true"}
	pid, err := r.Start()
	if err != nil {
		t.Fatal(err)
	}
	if pid != 0 {
		ws := waitExit(t, pid)
		if !ws.Exited() || ws.ExitStatus() != 0 {
			t.Fatalf("expected clean exit, got %v", ws)
		}
	}
}

func TestSpawn_Env(t *testing.T) {
	t.Parallel()
	r := Runner{
		Path: "/bin/sh",
		Args: []string{"sh", "-c", "exit $CODE"},
		Env:  []string{"CODE=5"},
	}
	pid, err := r.Start()
	if err != nil {
		t.Fatal(err)
	}
	if pid == 0 {
		t.Fatal("expected trackable pid")
	}
	ws := waitExit(t, pid)
	if !ws.Exited() || ws.ExitStatus() != 5 {
		t.Fatalf("expected exit status 5, got %v", ws)
	}
}

func TestSpawn_SearchPath(t *testing.T) {
	t.Parallel()
	r := Runner{
		Path:       "true",
		SearchPath: true,
	}
	pid, err := r.Start()
	if err != nil {
		t.Fatal(err)
	}
	if pid != 0 {
		waitExit(t, pid)
	}
}

func TestSpawn_NoSearchWithoutFlag(t *testing.T) {
	t.Parallel()
	r := Runner{Path: "true"}
	_, err := r.Start()
	var se *SpawnError
	if !errors.As(err, &se) {
		t.Fatalf("expected SpawnError, got %v", err)
	}
	if se.Location != LocExecve {
		t.Fatalf("expected execve step, got %v", se.Location)
	}
	if se.Err != syscall.ENOENT {
		t.Fatalf("expected ENOENT, got %v", se.Err)
	}
}

func TestSpawn_NotFound(t *testing.T) {
	t.Parallel()
	r := Runner{Path: "/nonexistent/really-not-there"}
	_, err := r.Start()
	var se *SpawnError
	if !errors.As(err, &se) {
		t.Fatalf("expected SpawnError, got %v", err)
	}
	if se.Location != LocExecve || se.Err != syscall.ENOENT {
		t.Fatalf("expected execve/ENOENT, got %v", se)
	}
	if !errors.Is(err, syscall.ENOENT) {
		t.Fatal("expected errors.Is ENOENT to hold")
	}
}

func TestSpawn_EmptyPath(t *testing.T) {
	t.Parallel()
	r := Runner{}
	if _, err := r.Start(); err != syscall.EINVAL {
		t.Fatalf("expected EINVAL, got %v", err)
	}
}

func TestSpawn_NulInPath(t *testing.T) {
	t.Parallel()
	r := Runner{Path: "/bin/\x00true"}
	if _, err := r.Start(); err != syscall.EINVAL {
		t.Fatalf("expected EINVAL, got %v", err)
	}
}

func TestSpawn_InvalidDeathSignal(t *testing.T) {
	t.Parallel()
	r := Runner{Path: "/bin/true", PDeathSig: sigset.MaxSignal + 1}
	_, err := r.Start()
	var ise *sigset.InvalidSignalError
	if !errors.As(err, &ise) {
		t.Fatalf("expected InvalidSignalError, got %v", err)
	}
}

func TestSpawn_DoubleFork(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	marker := filepath.Join(dir, "marker")
	r := Runner{
		Path:       "/bin/sh",
		Args:       []string{"sh", "-c", "echo done > " + marker},
		DoubleFork: true,
	}
	pid, err := r.Start()
	if err != nil {
		t.Fatal(err)
	}
	if pid != 0 {
		t.Fatalf("expected no trackable pid under double fork, got %d", pid)
	}
	// the detached process still runs to completion
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(marker); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("marker file never appeared")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSpawn_DoubleForkExecFailure(t *testing.T) {
	t.Parallel()
	r := Runner{
		Path:       "/nonexistent/really-not-there",
		DoubleFork: true,
	}
	_, err := r.Start()
	var se *SpawnError
	if !errors.As(err, &se) {
		t.Fatalf("expected SpawnError, got %v", err)
	}
	// the grandchild's record survives the middle process's own exit
	if se.Location != LocExecve || se.Err != syscall.ENOENT {
		t.Fatalf("expected execve/ENOENT, got %v", se)
	}
}

func TestSpawn_Setsid(t *testing.T) {
	t.Parallel()
	r := Runner{
		Path:   "/bin/sleep",
		Args:   []string{"sleep", "10"},
		Setsid: true,
	}
	pid, err := r.Start()
	if err != nil {
		t.Fatal(err)
	}
	if pid == 0 {
		t.Fatal("expected trackable pid")
	}
	defer func() {
		syscall.Kill(pid, syscall.SIGKILL)
		waitExit(t, pid)
	}()

	sid, err := readSession(pid)
	if err != nil {
		t.Fatal(err)
	}
	if sid != pid {
		t.Fatalf("expected session leader %d, got session %d", pid, sid)
	}
}

// readSession parses the session id from /proc/pid/stat
func readSession(pid int) (int, error) {
	b, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return 0, err
	}
	// fields after the parenthesized comm: state ppid pgrp session ...
	s := string(b)
	i := strings.LastIndexByte(s, ')')
	if i < 0 {
		return 0, fmt.Errorf("malformed stat: %q", s)
	}
	fields := strings.Fields(s[i+1:])
	if len(fields) < 4 {
		return 0, fmt.Errorf("malformed stat: %q", s)
	}
	return strconv.Atoi(fields[3])
}

func TestSpawn_IgnoreSignals(t *testing.T) {
	t.Parallel()
	mask, err := sigset.Encode([]syscall.Signal{syscall.SIGTERM})
	if err != nil {
		t.Fatal(err)
	}
	r := Runner{
		Path:      "/bin/sleep",
		Args:      []string{"sleep", "10"},
		SigIgnore: mask,
	}
	pid, err := r.Start()
	if err != nil {
		t.Fatal(err)
	}
	if pid == 0 {
		t.Fatal("expected trackable pid")
	}

	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	if err := syscall.Kill(pid, 0); err != nil {
		t.Fatalf("process gone, SIGTERM was not ignored: %v", err)
	}

	syscall.Kill(pid, syscall.SIGKILL)
	ws := waitExit(t, pid)
	if !ws.Signaled() || ws.Signal() != syscall.SIGKILL {
		t.Fatalf("expected SIGKILL termination, got %v", ws)
	}
}

func TestSpawn_IgnoreForbiddenSignals(t *testing.T) {
	t.Parallel()
	mask, err := sigset.Encode([]syscall.Signal{syscall.SIGKILL, syscall.SIGSTOP})
	if err != nil {
		t.Fatal(err)
	}
	r := Runner{
		Path:      "/bin/sleep",
		Args:      []string{"sleep", "10"},
		SigIgnore: mask,
	}
	// no error: the two are skipped at application time
	pid, err := r.Start()
	if err != nil {
		t.Fatal(err)
	}
	if pid == 0 {
		t.Fatal("expected trackable pid")
	}

	// and the dispositions are untouched: SIGKILL still kills
	if err := syscall.Kill(pid, syscall.SIGKILL); err != nil {
		t.Fatal(err)
	}
	ws := waitExit(t, pid)
	if !ws.Signaled() || ws.Signal() != syscall.SIGKILL {
		t.Fatalf("expected SIGKILL termination, got %v", ws)
	}
}

func TestSpawn_Sibling(t *testing.T) {
	t.Parallel()
	r := Runner{
		Path:    "/bin/sleep",
		Args:    []string{"sleep", "10"},
		Sibling: true,
	}
	pid, err := r.Start()
	if err != nil {
		t.Fatal(err)
	}
	if pid == 0 {
		t.Fatal("expected pid of the sibling process")
	}
	defer syscall.Kill(pid, syscall.SIGKILL)

	if err := syscall.Kill(pid, 0); err != nil {
		t.Fatalf("sibling not alive: %v", err)
	}
	// reparented to our parent: not waitable from here
	var ws syscall.WaitStatus
	if _, err := syscall.Wait4(pid, &ws, syscall.WNOHANG, nil); err != syscall.ECHILD {
		t.Fatalf("expected ECHILD, got %v", err)
	}
}

func TestSpawn_RLimits(t *testing.T) {
	t.Parallel()
	rl := rlimit.RLimits{OpenFile: 64}
	r := Runner{
		Path:    "/bin/sh",
		Args:    []string{"sh", "-c", "[ \"$(ulimit -n)\" -eq 64 ]"},
		RLimits: rl.PrepareRLimit(),
	}
	pid, err := r.Start()
	if err != nil {
		t.Fatal(err)
	}
	if pid == 0 {
		t.Fatal("expected trackable pid")
	}
	ws := waitExit(t, pid)
	if !ws.Exited() || ws.ExitStatus() != 0 {
		t.Fatalf("open file limit not applied, got %v", ws)
	}
}

func TestSpawn_Seccomp(t *testing.T) {
	t.Parallel()
	b := seccomp.Builder{Default: seccomp.ActionAllow}
	filter, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	r := Runner{
		Path:    "/bin/true",
		Seccomp: filter.SockFprog(),
	}
	pid, err := r.Start()
	if err != nil {
		t.Fatal(err)
	}
	if pid != 0 {
		ws := waitExit(t, pid)
		if !ws.Exited() || ws.ExitStatus() != 0 {
			t.Fatalf("expected clean exit under filter, got %v", ws)
		}
	}
}

// TestSpawn_PDeathSig re-executes the test binary as an intermediate parent,
// has it spawn a long sleep armed with a death signal, then kills the
// intermediate and checks the sleep is gone well before its timeout.
func TestSpawn_PDeathSig(t *testing.T) {
	t.Parallel()
	exe, err := os.Executable()
	if err != nil {
		t.Fatal(err)
	}
	cmd := exec.Command(exe, "-test.run=^TestHelperSpawnPDeathSig$", "-test.v")
	cmd.Env = append(os.Environ(), "GO_SPAWN_HELPER=1")
	out, err := cmd.StdoutPipe()
	if err != nil {
		t.Fatal(err)
	}
	if err := cmd.Start(); err != nil {
		t.Fatal(err)
	}

	var child int
	sc := bufio.NewScanner(out)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "spawned ") {
			child, err = strconv.Atoi(strings.TrimPrefix(line, "spawned "))
			if err != nil {
				t.Fatal(err)
			}
			break
		}
	}
	if child == 0 {
		cmd.Process.Kill()
		cmd.Wait()
		t.Fatal("helper never reported a pid")
	}

	// kill the immediate parent; the armed signal must take the child down
	cmd.Process.Kill()
	cmd.Wait()

	deadline := time.Now().Add(10 * time.Second)
	for {
		if err := syscall.Kill(child, 0); err == syscall.ESRCH {
			return
		}
		if time.Now().After(deadline) {
			syscall.Kill(child, syscall.SIGKILL)
			t.Fatal("child survived the death of its parent")
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// TestHelperSpawnPDeathSig is not a real test; it is the intermediate parent
// for TestSpawn_PDeathSig.
func TestHelperSpawnPDeathSig(t *testing.T) {
	if os.Getenv("GO_SPAWN_HELPER") != "1" {
		t.Skip("helper process only")
	}
	r := Runner{
		Path:      "/bin/sleep",
		Args:      []string{"sleep", "60"},
		PDeathSig: syscall.SIGKILL,
	}
	pid, err := r.Start()
	if err != nil {
		t.Fatal(err)
	}
	fmt.Printf("spawned %d\n", pid)
	os.Stdout.Sync()
	// stay alive until the outer test kills us
	time.Sleep(30 * time.Second)
}
