// Package proc adapts running children to session handles: a local
// command started with an extra structured-message pipe, or an existing
// Docker container.
package proc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
)

// IPCEnv names the environment variable that tells the child which file
// descriptor to write structured messages to.
const IPCEnv = "BUILDWATCH_IPC_FD"

// Process is a started local command.
type Process struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr io.ReadCloser
	ipc    *os.File
}

// FromCmd starts cmd with its stdout and stderr piped back and an extra
// pipe for newline-delimited structured messages, passed as the next free
// file descriptor and advertised in IPCEnv. cmd must not have been started
// and must not set Stdout or Stderr.
func FromCmd(cmd *exec.Cmd) (*Process, error) {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("proc.FromCmd: stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("proc.FromCmd: stderr: %w", err)
	}

	ipcR, ipcW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("proc.FromCmd: ipc pipe: %w", err)
	}

	fd := 3 + len(cmd.ExtraFiles)
	cmd.ExtraFiles = append(cmd.ExtraFiles, ipcW)
	cmd.Env = append(cmd.Environ(), IPCEnv+"="+strconv.Itoa(fd))

	if err := cmd.Start(); err != nil {
		_ = ipcR.Close()
		_ = ipcW.Close()
		return nil, fmt.Errorf("proc.FromCmd: start: %w", err)
	}
	// The child holds its own copy; ours would keep the pipe open forever.
	_ = ipcW.Close()

	return &Process{cmd: cmd, stdout: stdout, stderr: stderr, ipc: ipcR}, nil
}

func (p *Process) Stdout() io.Reader { return p.stdout }
func (p *Process) Stderr() io.Reader { return p.stderr }
func (p *Process) IPC() io.Reader    { return p.ipc }

// Name returns the command line, for display.
func (p *Process) Name() string { return p.cmd.String() }

// Pid returns the process id.
func (p *Process) Pid() int { return p.cmd.Process.Pid }

// Wait waits for the command to exit and returns its exit code. A child
// killed by a signal reports -1. If ctx ends first the child is killed.
func (p *Process) Wait(ctx context.Context) (int, error) {
	done := make(chan error, 1)
	go func() { done <- p.cmd.Wait() }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		_ = p.cmd.Process.Kill()
		<-done
		_ = p.ipc.Close()
		return -1, fmt.Errorf("proc.Process.Wait: %w", ctx.Err())
	}
	_ = p.ipc.Close()

	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, fmt.Errorf("proc.Process.Wait: %w", err)
}
