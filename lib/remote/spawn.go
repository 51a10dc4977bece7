// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"golang.org/x/sys/unix"
)

// IPCFDVariable names the environment variable holding the child's end
// of the link.
const IPCFDVariable = "IPC_FD"

// childFD is the descriptor number of the first entry of ExtraFiles.
const childFD = 3

// Exit codes reported for children that did not exit normally.
const (
	// ExitWaitFailed means waiting on the child failed.
	ExitWaitFailed = -2

	// exitSignalBase is subtracted from the signal number of a child
	// killed by a signal.
	exitSignalBase = -100
)

// supplementaryGroups are granted to privileged children: audio, inet
// and system.
var supplementaryGroups = []uint32{1005, 3003, 1000}

// Child is a running child daemon.
type Child struct {
	// Conn is the parent end of the link.
	Conn io.ReadWriteCloser

	PID int

	// Wait blocks until the child exits and returns its exit code.
	Wait func() int

	// Kill terminates the child immediately.
	Kill func() error
}

// SpawnFunc starts the child daemon for a remote service.
type SpawnFunc func(name string) (*Child, error)

// ExecSpawner starts <root>/<name>/daemon with the child end of a
// socketpair as descriptor 3.
type ExecSpawner struct {
	Registrar *Registrar

	// Privileged runs children under their registrar uid and gid.
	Privileged bool

	Logger *slog.Logger
}

// Spawn implements SpawnFunc.
func (s *ExecSpawner) Spawn(name string) (*Child, error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	id, ok := s.Registrar.IDFor(name)
	if !ok {
		return nil, fmt.Errorf("remote service %q is not registered", name)
	}

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("creating socketpair: %w", err)
	}
	parentFile := os.NewFile(uintptr(fds[0]), "ipc-parent-"+name)
	childFile := os.NewFile(uintptr(fds[1]), "ipc-child-"+name)
	defer childFile.Close()

	conn, err := net.FileConn(parentFile)
	parentFile.Close()
	if err != nil {
		return nil, fmt.Errorf("wrapping parent socket: %w", err)
	}

	directory := filepath.Join(s.Registrar.Root(), name)
	command := exec.Command(filepath.Join(directory, DaemonExecutable))
	command.Dir = directory
	command.Env = append(os.Environ(),
		fmt.Sprintf("%s=%d", IPCFDVariable, childFD),
		"LD_LIBRARY_PATH="+directory,
	)
	command.Stdout = os.Stdout
	command.Stderr = os.Stderr
	command.ExtraFiles = []*os.File{childFile}
	if s.Privileged {
		command.SysProcAttr = &syscall.SysProcAttr{
			Credential: &syscall.Credential{Uid: id, Gid: id, Groups: supplementaryGroups},
		}
	}

	logger.Info("launching child daemon", "service", name, "path", command.Path, "uid", id)
	if err := command.Start(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("starting child daemon for %q: %w", name, err)
	}

	return &Child{
		Conn: conn,
		PID:  command.Process.Pid,
		Wait: func() int { return exitCode(command.Wait()) },
		Kill: func() error { return command.Process.Signal(os.Kill) },
	}, nil
}

// exitCode maps the result of exec.Cmd.Wait to the code reported to
// sessions: the exit status, -100-N for a child killed by signal N, or
// ExitWaitFailed.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitError *exec.ExitError
	if !errors.As(err, &exitError) {
		return ExitWaitFailed
	}
	if status, ok := exitError.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return exitSignalBase - int(status.Signal())
	}
	return exitError.ExitCode()
}
