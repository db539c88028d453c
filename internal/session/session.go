// Package session supervises the local processes of a bastion session: the
// ssh tunnel and, for database modes, the client that runs through it.
package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/antonkrylov/xbastion/internal/command"
	"github.com/antonkrylov/xbastion/internal/fault"
)

const separator = "------------------------------------------------------------------------"

// interruptGrace is how long a failed foreground child waits for a pending
// interrupt to reach ctx. Ctrl-C hits the child and this process together,
// and the child can exit first.
var interruptGrace = 150 * time.Millisecond

// Tunnel is a handle on a running tunnel process. Terminate is safe to call
// any number of times; the process is signalled at most once.
type Tunnel struct {
	proc Process
	once sync.Once
	err  error
}

// Terminate sends SIGTERM to the tunnel and reaps it.
func (t *Tunnel) Terminate() error {
	t.once.Do(func() {
		if err := t.proc.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
			t.err = err
		}
		_ = t.proc.Wait()
	})
	return t.err
}

// Supervisor runs a command.Plan.
type Supervisor struct {
	Start  Starter
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

// Run executes plan and blocks until the session is over. Interruption
// through ctx is a clean end of session and yields nil. A child's non-zero
// exit is returned as *fault.ExitError.
func (s *Supervisor) Run(ctx context.Context, plan command.Plan) error {
	if len(plan.Tunnel) == 0 {
		return errors.New("empty tunnel command")
	}
	restore := saveTerminal(s.Stdin, s.logger())
	defer restore()

	if plan.Payload == nil {
		proc, err := s.starter().Start(Cmd{Argv: plan.Tunnel, Stdin: s.Stdin, Stdout: s.Stdout, Stderr: s.Stderr})
		if err != nil {
			return err
		}
		return s.foreground(ctx, proc)
	}
	return s.runPayload(ctx, plan)
}

func (s *Supervisor) runPayload(ctx context.Context, plan command.Plan) error {
	r, w, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("tunnel output pipe: %w", err)
	}
	proc, err := s.starter().Start(Cmd{Argv: plan.Tunnel, Stdout: w, Stderr: s.Stderr})
	_ = w.Close()
	if err != nil {
		_ = r.Close()
		return err
	}
	tunnel := &Tunnel{proc: proc}
	defer func() {
		if err := tunnel.Terminate(); err != nil {
			s.logger().Warn("terminate tunnel", "err", err)
		}
	}()

	err = s.handshake(ctx, r, tunnel)
	_ = r.Close()
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Fprintln(s.Stdout, "Tunnel connection established.")
	fmt.Fprintf(s.Stdout, "Running %s\n", command.String(plan.Payload))
	fmt.Fprintln(s.Stdout, separator)

	payload, err := s.starter().Start(Cmd{Argv: plan.Payload, Stdin: s.Stdin, Stdout: s.Stdout, Stderr: s.Stderr})
	if err != nil {
		return err
	}
	return s.foreground(ctx, payload)
}

// handshake reads the tunnel's first output line and checks it is the
// readiness token. Cancellation terminates the tunnel to unblock the read.
func (s *Supervisor) handshake(ctx context.Context, r io.Reader, tunnel *Tunnel) error {
	type result struct {
		line string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		line, err := bufio.NewReader(r).ReadString('\n')
		done <- result{line, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		_ = tunnel.Terminate()
		<-done
		return ctx.Err()
	}
	line := strings.TrimSpace(res.line)
	if line == command.ReadyToken {
		s.logger().Debug("tunnel ready")
		return nil
	}
	if res.err != nil && line == "" {
		return fault.E(fault.ErrHandshake, nil, "tunnel connection closed before it became ready")
	}
	return fault.E(fault.ErrHandshake, nil, "unexpected tunnel output %q", line)
}

// foreground waits for a child attached to the terminal. On interruption the
// signal is passed on and the child is still waited for.
func (s *Supervisor) foreground(ctx context.Context, proc Process) error {
	done := make(chan error, 1)
	go func() { done <- proc.Wait() }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		s.logger().Debug("interrupted; waiting for foreground process")
		_ = proc.Signal(os.Interrupt)
		<-done
		return nil
	}
	if ctx.Err() != nil {
		return nil
	}
	code, ok := exitCode(err)
	if !ok {
		return err
	}
	if code == 0 || s.interrupted(ctx) {
		return nil
	}
	if code < 0 {
		code = 1
	}
	return &fault.ExitError{Code: code}
}

func (s *Supervisor) interrupted(ctx context.Context) bool {
	t := time.NewTimer(interruptGrace)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return true
	case <-t.C:
		return false
	}
}

func (s *Supervisor) starter() Starter {
	if s.Start == nil {
		return ExecStarter{}
	}
	return s.Start
}

func (s *Supervisor) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}
