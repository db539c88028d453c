// Package bastion runs one bastion session end to end: it provisions
// credentials, launches and awaits the bastion task, resolves its address,
// and hands the built commands to the session supervisor.
package bastion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/user"
	"time"

	"github.com/google/uuid"

	"github.com/antonkrylov/xbastion/internal/audit"
	"github.com/antonkrylov/xbastion/internal/awsclient"
	"github.com/antonkrylov/xbastion/internal/command"
	"github.com/antonkrylov/xbastion/internal/database"
	"github.com/antonkrylov/xbastion/internal/endpoint"
	"github.com/antonkrylov/xbastion/internal/fault"
	"github.com/antonkrylov/xbastion/internal/keys"
	"github.com/antonkrylov/xbastion/internal/session"
	"github.com/antonkrylov/xbastion/internal/settings"
	"github.com/antonkrylov/xbastion/internal/task"
)

// Options is the resolved intent of one invocation.
type Options struct {
	Installation string
	Request      command.Request
	// Identifier narrows database selection (database modes only).
	Identifier string
	PreferIPv6 bool
	// ReadyTimeout bounds the wait for the task; zero waits indefinitely.
	ReadyTimeout time.Duration
}

// Deps are the collaborators of a session. Zero values fall back to the
// real implementations where one exists.
type Deps struct {
	AWS       *awsclient.Clients
	Generator keys.Generator
	Start     session.Starter
	LookPath  command.LookPathFunc
	Getenv    func(string) string
	Audit     audit.Recorder
	After     func(time.Duration) <-chan time.Time
	NewID     func() string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

type runner struct {
	Deps
	opts  Options
	id    string
	event audit.Event
}

// Run executes one session.
func Run(ctx context.Context, deps Deps, opts Options) (err error) {
	r := &runner{Deps: deps, opts: opts}
	r.setDefaults()
	r.id = r.NewID()
	r.event = audit.Event{
		Session:      r.id,
		Installation: opts.Installation,
		Mode:         string(opts.Request.Mode),
		User:         currentUser(),
	}
	r.Logger = r.Logger.With("session", r.id)

	r.emit(ctx, audit.KindSessionStarted, nil)
	defer func() {
		r.emit(context.WithoutCancel(ctx), audit.KindSessionEnded, func(e *audit.Event) {
			if err != nil {
				e.Error = err.Error()
			}
			if kind := fault.KindOf(err); kind != nil {
				e.ErrorKind = kind.Error()
			}
			var exit *fault.ExitError
			if errors.As(err, &exit) {
				e.ExitCode = exit.Code
			}
		})
	}()
	return r.run(ctx)
}

func (r *runner) run(ctx context.Context) error {
	mode := r.opts.Request.Mode
	bins, err := command.LocateClients(mode, r.LookPath)
	if err != nil {
		return err
	}
	st, err := settings.Load(ctx, r.AWS.SSM, r.opts.Installation)
	if err != nil {
		return err
	}
	r.Logger.Debug("installation settings loaded",
		"installation", st.Installation, "cluster", st.Cluster, "subnets", len(st.PublicSubnets))

	var db *database.Endpoint
	if mode.IsDatabase() {
		all, err := database.Discover(ctx, r.AWS.RDS)
		if err != nil {
			return err
		}
		selected, err := database.Select(all, mode.Family(), r.opts.Identifier)
		if err != nil {
			return err
		}
		db = &selected
		if r.opts.Identifier == "" {
			fmt.Fprintf(r.Stdout, "Selected database: %s (%s)\n", db.Identifier, db.Host)
		}
		r.event.Database = db.Identifier
	}

	material, err := keys.Provision(ctx, r.Generator, r.Logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := material.Close(); err != nil {
			r.Logger.Warn("remove scratch directory", "dir", material.Dir, "err", err)
		}
	}()

	ctrl := &task.Controller{
		ECS:            r.AWS.ECS,
		Cluster:        st.Cluster,
		TaskDefinition: st.TaskDefinition,
		Container:      st.Container,
		Logger:         r.Logger,
	}
	launched, err := ctrl.Launch(ctx, task.LaunchInput{
		Subnets:              st.PublicSubnets,
		SecurityGroups:       []string{st.SecurityGroup},
		AssignPublicIP:       st.AssignPublicIP(r.opts.PreferIPv6),
		Environment:          material.RemoteEnvironment(),
		ClientToken:          r.id,
		StartedBy:            startedBy(r.id),
		EnableExecuteCommand: st.EnableExecuteCommand,
	})
	if err != nil {
		return err
	}
	r.event.Task = launched.ID
	fmt.Fprintf(r.Stdout, "Launched task: %s\n", launched.ID)
	fmt.Fprintf(r.Stdout, "Status: %s\n", launched.Status)
	r.emit(ctx, audit.KindTaskLaunched, func(e *audit.Event) { e.Status = launched.Status })

	waiter := task.WithDeadline(&task.PollWaiter{
		Describe: ctrl.Describe,
		After:    r.After,
		OnStatus: func(status string) {
			fmt.Fprintf(r.Stdout, "Status: %s\n", status)
			r.emit(ctx, audit.KindTaskStatus, func(e *audit.Event) { e.Status = status })
		},
	}, r.opts.ReadyTimeout)
	running, err := waiter.AwaitReady(ctx, launched)
	if err != nil {
		return err
	}

	addr, err := endpoint.Resolve(ctx, running.Attachment, r.opts.PreferIPv6, endpoint.ENILookup{EC2: r.AWS.EC2})
	if err != nil {
		return err
	}
	if addr.FellBack {
		fmt.Fprintln(r.Stderr, "WARNING: bastion task has no public IPv4 address; attempting with IPv6.")
	}
	fmt.Fprintf(r.Stdout, "Task IP address: %s\n\n", addr.IP)
	r.event.Address = addr.IP
	r.emit(ctx, audit.KindTaskRunning, nil)

	if _, err := material.WriteKnownHosts(addr.IP, st.SSHPort); err != nil {
		return err
	}
	plan, err := command.Builder{Binaries: bins, Getenv: r.Getenv}.Build(r.opts.Request, command.Target{
		Address:    addr.IP,
		Port:       st.SSHPort,
		Identity:   material.LoginKey,
		KnownHosts: material.KnownHosts,
	}, db)
	if err != nil {
		return err
	}
	r.Logger.Debug("commands built", "tunnel", command.String(plan.Tunnel), "payload", command.String(plan.Payload))
	if mode == command.ModeSSH {
		fmt.Fprintln(r.Stdout, "------------------------------------------------------------------------")
		fmt.Fprintln(r.Stdout)
	}

	sup := &session.Supervisor{
		Start:  r.Start,
		Stdin:  r.Stdin,
		Stdout: r.Stdout,
		Stderr: r.Stderr,
		Logger: r.Logger,
	}
	return sup.Run(ctx, plan)
}

// emit records an event. Audit failures never end a session.
func (r *runner) emit(ctx context.Context, kind string, edit func(*audit.Event)) {
	e := r.event
	e.Kind = kind
	if edit != nil {
		edit(&e)
	}
	if err := r.Audit.Record(ctx, e); err != nil {
		r.Logger.Warn("audit event not recorded", "kind", kind, "err", err)
	}
}

func (r *runner) setDefaults() {
	if r.Generator == nil {
		r.Generator = keys.Native{}
	}
	if r.Audit == nil {
		r.Audit = audit.Nop{}
	}
	if r.NewID == nil {
		r.NewID = func() string { return uuid.NewString() }
	}
	if r.Stdin == nil {
		r.Stdin = os.Stdin
	}
	if r.Stdout == nil {
		r.Stdout = os.Stdout
	}
	if r.Stderr == nil {
		r.Stderr = os.Stderr
	}
	if r.Logger == nil {
		r.Logger = slog.Default()
	}
}

// startedBy fits the ECS startedBy limit of 36 characters.
func startedBy(id string) string {
	if len(id) > 8 {
		id = id[:8]
	}
	return "xbastion-" + id
}

func currentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return os.Getenv("USER")
}
