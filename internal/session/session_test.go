package session

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/antonkrylov/xbastion/internal/command"
	"github.com/antonkrylov/xbastion/internal/fault"
)

type exitStatus int

func (e exitStatus) Error() string { return fmt.Sprintf("exit status %d", int(e)) }
func (e exitStatus) ExitCode() int { return int(e) }

type fakeProc struct {
	name   string
	log    *events
	exit   error
	mu     sync.Mutex
	sigs   []os.Signal
	done   chan struct{}
	closed sync.Once
}

func (p *fakeProc) Wait() error {
	<-p.done
	return p.exit
}

func (p *fakeProc) Signal(sig os.Signal) error {
	p.mu.Lock()
	p.sigs = append(p.sigs, sig)
	p.mu.Unlock()
	p.log.add(p.name + " signalled")
	p.stop()
	return nil
}

func (p *fakeProc) stop() { p.closed.Do(func() { close(p.done) }) }

func (p *fakeProc) signals() []os.Signal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]os.Signal(nil), p.sigs...)
}

type events struct {
	mu  sync.Mutex
	all []string
}

func (e *events) add(s string) {
	e.mu.Lock()
	e.all = append(e.all, s)
	e.mu.Unlock()
}

// script decides how each started fake behaves, keyed by argv[0].
type script struct {
	output   string
	exit     error
	exitsNow bool
}

type fakeStarter struct {
	log     events
	scripts map[string]script
	procs   map[string]*fakeProc
}

func newFakeStarter(scripts map[string]script) *fakeStarter {
	return &fakeStarter{scripts: scripts, procs: map[string]*fakeProc{}}
}

func (f *fakeStarter) Start(c Cmd) (Process, error) {
	name := c.Argv[0]
	sc := f.scripts[name]
	p := &fakeProc{name: name, log: &f.log, exit: sc.exit, done: make(chan struct{})}
	f.procs[name] = p
	f.log.add(name + " started")
	if sc.output != "" {
		_, _ = io.WriteString(c.Stdout, sc.output)
	}
	if sc.exitsNow {
		f.log.add(name + " exited")
		p.stop()
	}
	return p, nil
}

var plan = command.Plan{
	Tunnel:  []string{"ssh", "-n", "203.0.113.7", "echo connected; sleep infinity"},
	Payload: []string{"psql", "--host", "localhost", "--port", "5432", "app", "admin"},
}

func TestPayloadFailureTerminatesTunnelOnce(t *testing.T) {
	fs := newFakeStarter(map[string]script{
		"ssh":  {output: "connected\n"},
		"psql": {exit: exitStatus(3), exitsNow: true},
	})
	var out bytes.Buffer
	s := &Supervisor{Start: fs, Stdout: &out, Stderr: io.Discard}

	err := s.Run(context.Background(), plan)
	var exit *fault.ExitError
	require.ErrorAs(t, err, &exit)
	require.Equal(t, 3, exit.Code)

	require.Equal(t, []os.Signal{syscall.SIGTERM}, fs.procs["ssh"].signals())
	require.Empty(t, fs.procs["psql"].signals())
	require.Equal(t, []string{"ssh started", "psql started", "psql exited", "ssh signalled"}, fs.log.all)
	require.Contains(t, out.String(), "Tunnel connection established.\nRunning psql --host localhost --port 5432 app admin\n")
}

func TestPayloadSuccessTerminatesTunnel(t *testing.T) {
	fs := newFakeStarter(map[string]script{
		"ssh":  {output: "connected\n"},
		"psql": {exitsNow: true},
	})
	s := &Supervisor{Start: fs, Stdout: io.Discard, Stderr: io.Discard}
	require.NoError(t, s.Run(context.Background(), plan))
	require.Len(t, fs.procs["ssh"].signals(), 1)
}

func TestHandshakeTunnelClosedOutput(t *testing.T) {
	fs := newFakeStarter(map[string]script{"ssh": {exit: exitStatus(255), exitsNow: true}})
	s := &Supervisor{Start: fs, Stdout: io.Discard, Stderr: io.Discard}

	err := s.Run(context.Background(), plan)
	require.ErrorIs(t, err, fault.ErrHandshake)
	require.NotContains(t, fs.procs, "psql")
	require.Len(t, fs.procs["ssh"].signals(), 1)
}

func TestHandshakeUnexpectedLine(t *testing.T) {
	fs := newFakeStarter(map[string]script{"ssh": {output: "Welcome!\nconnected\n"}})
	s := &Supervisor{Start: fs, Stdout: io.Discard, Stderr: io.Discard}

	err := s.Run(context.Background(), plan)
	require.ErrorIs(t, err, fault.ErrHandshake)
	require.NotContains(t, fs.procs, "psql")
}

func TestNoPayloadPropagatesExitStatus(t *testing.T) {
	shell := command.Plan{Tunnel: []string{"ssh", "203.0.113.7"}}

	fs := newFakeStarter(map[string]script{"ssh": {exitsNow: true}})
	s := &Supervisor{Start: fs, Stdout: io.Discard, Stderr: io.Discard}
	require.NoError(t, s.Run(context.Background(), shell))

	fs = newFakeStarter(map[string]script{"ssh": {exit: exitStatus(255), exitsNow: true}})
	s.Start = fs
	err := s.Run(context.Background(), shell)
	var exit *fault.ExitError
	require.ErrorAs(t, err, &exit)
	require.Equal(t, 255, exit.Code)
}

func TestNoPayloadInterruptIsClean(t *testing.T) {
	shell := command.Plan{Tunnel: []string{"ssh", "-D", "1080", "203.0.113.7"}}
	fs := newFakeStarter(map[string]script{"ssh": {exit: exitStatus(130)}})
	s := &Supervisor{Start: fs, Stdout: io.Discard, Stderr: io.Discard}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	require.NoError(t, s.Run(ctx, shell))
	require.Equal(t, []os.Signal{os.Interrupt}, fs.procs["ssh"].signals())
}

func TestNoPayloadChildExitsBeforeInterruptLands(t *testing.T) {
	shell := command.Plan{Tunnel: []string{"ssh", "203.0.113.7"}}
	fs := newFakeStarter(map[string]script{"ssh": {exit: exitStatus(255), exitsNow: true}})
	s := &Supervisor{Start: fs, Stdout: io.Discard, Stderr: io.Discard}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	require.NoError(t, s.Run(ctx, shell))
	require.Empty(t, fs.procs["ssh"].signals())
}

func TestTunnelTerminateIdempotent(t *testing.T) {
	p := &fakeProc{name: "ssh", log: &events{}, done: make(chan struct{})}
	tunnel := &Tunnel{proc: p}
	require.NoError(t, tunnel.Terminate())
	require.NoError(t, tunnel.Terminate())
	require.Len(t, p.signals(), 1)
}

// TestHelperProcess is not a real test. It stands in for ssh and database
// clients when the supervisor runs real processes.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("XBASTION_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	switch args[1] {
	case "tunnel":
		fmt.Println("connected")
		time.Sleep(time.Minute)
	case "silent":
		time.Sleep(time.Minute)
	case "exit":
		var code int
		fmt.Sscan(args[2], &code)
		os.Exit(code)
	}
	os.Exit(0)
}

func helper(args ...string) []string {
	return append([]string{os.Args[0], "-test.run=TestHelperProcess", "--"}, args...)
}

func TestExecPayloadRun(t *testing.T) {
	t.Setenv("XBASTION_WANT_HELPER_PROCESS", "1")
	var out bytes.Buffer
	s := &Supervisor{Start: ExecStarter{}, Stdout: &out, Stderr: io.Discard}

	require.NoError(t, s.Run(context.Background(), command.Plan{Tunnel: helper("tunnel"), Payload: helper("exit", "0")}))
	require.Contains(t, out.String(), "Tunnel connection established.")

	err := s.Run(context.Background(), command.Plan{Tunnel: helper("tunnel"), Payload: helper("exit", "4")})
	var exit *fault.ExitError
	require.ErrorAs(t, err, &exit)
	require.Equal(t, 4, exit.Code)
}

func TestExecHandshakeInterrupted(t *testing.T) {
	t.Setenv("XBASTION_WANT_HELPER_PROCESS", "1")
	s := &Supervisor{Start: ExecStarter{}, Stdout: io.Discard, Stderr: io.Discard}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	require.NoError(t, s.Run(ctx, command.Plan{Tunnel: helper("silent"), Payload: helper("exit", "0")}))
	require.Less(t, time.Since(start), 30*time.Second)
}

func TestExecStarterMissingBinary(t *testing.T) {
	_, err := ExecStarter{}.Start(Cmd{Argv: []string{"/nonexistent/xbastion-ssh"}})
	require.Error(t, err)
	_, err = ExecStarter{}.Start(Cmd{})
	require.Error(t, err)
}

func TestExitCode(t *testing.T) {
	code, ok := exitCode(fmt.Errorf("wait: %w", exitStatus(7)))
	require.True(t, ok)
	require.Equal(t, 7, code)

	_, ok = exitCode(exec.ErrNotFound)
	require.False(t, ok)
}
