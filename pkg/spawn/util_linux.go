package spawn

import (
	"os"
	"path/filepath"
	"strings"
	"syscall"
	_ "unsafe" // required for go:linkname
)

//go:linkname beforeFork syscall.runtime_BeforeFork
func beforeFork()

//go:linkname afterFork syscall.runtime_AfterFork
func afterFork()

// prepareExec marshals the candidate program paths, argv and envp into the
// NUL terminated form execve wants. Strings holding interior NUL bytes are
// rejected with EINVAL rather than mangled.
func prepareExec(path string, args, env []string, searchPath bool) (cand, argv, envv []*byte, err error) {
	if path == "" {
		return nil, nil, nil, syscall.EINVAL
	}
	cand, err = prepareCandidates(path, searchPath)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(args) == 0 {
		args = []string{path}
	}
	argv, err = syscall.SlicePtrFromStrings(args)
	if err != nil {
		return nil, nil, nil, err
	}
	if env == nil {
		env = syscall.Environ()
	}
	envv, err = syscall.SlicePtrFromStrings(env)
	if err != nil {
		return nil, nil, nil, err
	}
	return cand, argv, envv, nil
}

// prepareCandidates resolves path into the list of absolute candidates the
// trampoline will try in order. Without search, or when path contains a
// slash, the list is just path itself (execvp rule).
func prepareCandidates(path string, searchPath bool) ([]*byte, error) {
	if !searchPath || strings.ContainsRune(path, '/') {
		p, err := syscall.BytePtrFromString(path)
		if err != nil {
			return nil, err
		}
		return []*byte{p}, nil
	}
	list := os.Getenv("PATH")
	if list == "" {
		list = defaultPath
	}
	dirs := filepath.SplitList(list)
	cand := make([]*byte, 0, len(dirs))
	for _, dir := range dirs {
		if dir == "" {
			// empty $PATH entry means the current directory
			dir = "."
		}
		p, err := syscall.BytePtrFromString(dir + "/" + path)
		if err != nil {
			return nil, err
		}
		cand = append(cand, p)
	}
	return cand, nil
}
