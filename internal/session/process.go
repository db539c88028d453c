package session

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// Cmd describes one child process. A nil Stdin reads from the null device.
type Cmd struct {
	Argv   []string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Process is a started child.
type Process interface {
	Wait() error
	Signal(os.Signal) error
}

// Starter starts child processes.
type Starter interface {
	Start(Cmd) (Process, error)
}

// ExecStarter starts real processes with os/exec.
type ExecStarter struct{}

func (ExecStarter) Start(c Cmd) (Process, error) {
	if len(c.Argv) == 0 {
		return nil, errors.New("empty command")
	}
	cmd := exec.Command(c.Argv[0], c.Argv[1:]...)
	cmd.Stdin = c.Stdin
	cmd.Stdout = c.Stdout
	cmd.Stderr = c.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", c.Argv[0], err)
	}
	return execProcess{cmd}, nil
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p execProcess) Wait() error                { return p.cmd.Wait() }
func (p execProcess) Signal(sig os.Signal) error { return p.cmd.Process.Signal(sig) }

// exitCode extracts a child's exit status from a Wait error. ok is false for
// errors that are not an exit status.
func exitCode(err error) (code int, ok bool) {
	if err == nil {
		return 0, true
	}
	var exit interface{ ExitCode() int }
	if errors.As(err, &exit) {
		return exit.ExitCode(), true
	}
	return 0, false
}
