// Package command builds the tunnel and payload argument vectors of a
// session. Everything here is pure: the only ambient input is the
// database client environment fallback, which is read through Builder.Getenv.
package command

import (
	"cmp"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/antonkrylov/xbastion/internal/database"
	"github.com/antonkrylov/xbastion/internal/fault"
)

// Mode selects what a session does once the bastion is up.
type Mode string

const (
	ModeSSH    Mode = "ssh"
	ModeProxy  Mode = "proxy"
	ModeTunnel Mode = "tunnel"
	ModePsql   Mode = "psql"
	ModeMySQL  Mode = "mysql"
)

// DefaultProxyPort is the local SOCKS port when none is given.
const DefaultProxyPort = "1080"

// ReadyToken is the line the tunnel prints once its forwards are live.
const ReadyToken = "connected"

// RemoteUser is the fixed login account on the bastion.
const RemoteUser = "root"

// IsDatabase reports whether m runs a database client as payload.
func (m Mode) IsDatabase() bool { return m == ModePsql || m == ModeMySQL }

// Client is the payload binary name for database modes, "" otherwise.
func (m Mode) Client() string {
	if m.IsDatabase() {
		return string(m)
	}
	return ""
}

// Family is the database engine family served by m.
func (m Mode) Family() string {
	switch m {
	case ModePsql:
		return database.Postgres
	case ModeMySQL:
		return database.MySQL
	default:
		return ""
	}
}

// Request is the invocation intent for one session.
type Request struct {
	Mode Mode

	// ExtraArgs pass through to ssh (shell mode) or to the database client.
	ExtraArgs []string

	// Proxy and port-forward modes.
	LocalPort  string
	RemoteHost string
	RemotePort string

	// Database modes. Empty values fall back to the environment, then to the
	// discovered endpoint, then to literal defaults.
	Database string
	Username string
	Password bool
}

// Target is where and how the tunnel connects.
type Target struct {
	Address    string
	Port       string
	Identity   string
	KnownHosts string
}

// Binaries are the resolved local executables.
type Binaries struct {
	SSH    string
	Client string
}

// Plan is a fully resolved pair of argument vectors. Payload is nil for
// modes without a foreground client.
type Plan struct {
	Tunnel  []string
	Payload []string
}

// LookPathFunc resolves an executable name, like exec.LookPath.
type LookPathFunc func(string) (string, error)

// LocateClients resolves ssh and, for database modes, the client binary.
func LocateClients(mode Mode, lookPath LookPathFunc) (Binaries, error) {
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	ssh, err := lookPath("ssh")
	if err != nil {
		return Binaries{}, fault.E(fault.ErrUnsupportedMode, nil, "command ssh not found")
	}
	bins := Binaries{SSH: ssh}
	if name := mode.Client(); name != "" {
		if bins.Client, err = lookPath(name); err != nil {
			return Binaries{}, fault.E(fault.ErrUnsupportedMode, nil, "command %s not found", name)
		}
	}
	return bins, nil
}

// ForwardSpec formats an ssh -L argument. remote defaults to local.
func ForwardSpec(local, host, remote string) string {
	if remote == "" {
		remote = local
	}
	return local + ":" + host + ":" + remote
}

// Builder assembles plans.
type Builder struct {
	Binaries Binaries
	// Getenv backs the database client defaults; nil means os.Getenv.
	Getenv func(string) string
}

// Build returns the tunnel and payload commands for req. db is required for
// database modes and ignored otherwise.
func (b Builder) Build(req Request, target Target, db *database.Endpoint) (Plan, error) {
	ssh := b.Binaries.SSH
	if ssh == "" {
		ssh = "ssh"
	}
	port := target.Port
	if port == "" {
		port = "22"
	}
	args := []string{ssh,
		"-p", port,
		"-o", "IdentityFile " + target.Identity,
		"-o", "IdentitiesOnly yes",
		"-o", "UserKnownHostsFile " + target.KnownHosts,
		"-o", "StrictHostKeyChecking yes",
		"-o", "ExitOnForwardFailure yes",
		"-l", RemoteUser,
	}

	switch req.Mode {
	case ModeSSH:
		args = append(args, target.Address)
		args = append(args, req.ExtraArgs...)
		return Plan{Tunnel: args}, nil

	case ModeProxy:
		local := req.LocalPort
		if local == "" {
			local = DefaultProxyPort
		}
		if err := checkPort(local); err != nil {
			return Plan{}, err
		}
		args = append(args, "-D", local, target.Address,
			fmt.Sprintf("echo SOCKS proxy available on port %s. Hit Ctrl-C to terminate.; sleep infinity", local))
		return Plan{Tunnel: args}, nil

	case ModeTunnel:
		if req.RemoteHost == "" {
			return Plan{}, fmt.Errorf("tunnel requires a remote host")
		}
		if err := checkPort(req.LocalPort); err != nil {
			return Plan{}, err
		}
		if req.RemotePort != "" {
			if err := checkPort(req.RemotePort); err != nil {
				return Plan{}, err
			}
		}
		args = append(args, "-L", ForwardSpec(req.LocalPort, req.RemoteHost, req.RemotePort), target.Address,
			"echo Port forwarding tunnel established. Hit Ctrl-C to terminate.; sleep infinity")
		return Plan{Tunnel: args}, nil

	case ModePsql, ModeMySQL:
		if db == nil {
			return Plan{}, fmt.Errorf("%s requires a database endpoint", req.Mode)
		}
		dbPort := strconv.FormatInt(db.Port, 10)
		// -n goes right after the binary: the tunnel never reads stdin.
		tunnel := append([]string{args[0], "-n"}, args[1:]...)
		tunnel = append(tunnel, "-L", ForwardSpec(dbPort, db.Host, dbPort), target.Address,
			"echo "+ReadyToken+"; sleep infinity")
		return Plan{Tunnel: tunnel, Payload: b.payload(req, dbPort, db)}, nil
	}
	return Plan{}, fault.E(fault.ErrUnsupportedMode, nil, "unknown mode %q", req.Mode)
}

func (b Builder) payload(req Request, port string, db *database.Endpoint) []string {
	client := b.Binaries.Client
	if client == "" {
		client = req.Mode.Client()
	}
	creds := b.Credentials(req, db)
	if req.Mode == ModePsql {
		out := []string{client, "--host", "localhost", "--port", port}
		out = append(out, req.ExtraArgs...)
		return append(out, creds.Database, creds.Username)
	}
	out := []string{client, "--protocol", "tcp", "--host", "localhost", "--port", port, "--user", creds.Username}
	if req.Password {
		out = append(out, "-p")
	}
	out = append(out, req.ExtraArgs...)
	return append(out, creds.Database)
}

// Credentials are the resolved database name and user of a client session.
type Credentials struct {
	Database string
	Username string
}

// Credentials resolves database and username: explicit value, then the
// client's environment default, then the discovered value, then a literal.
func (b Builder) Credentials(req Request, db *database.Endpoint) Credentials {
	getenv := b.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	var discovered database.Endpoint
	if db != nil {
		discovered = *db
	}
	switch req.Mode {
	case ModePsql:
		return Credentials{
			Database: cmp.Or(req.Database, getenv("PGDATABASE"), discovered.Database, "template1"),
			Username: cmp.Or(req.Username, getenv("PGUSER"), discovered.Username, "postgres"),
		}
	case ModeMySQL:
		return Credentials{
			Database: cmp.Or(req.Database, discovered.Database, "mysql"),
			Username: cmp.Or(req.Username, discovered.Username, "root"),
		}
	}
	return Credentials{}
}

func checkPort(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("invalid port %q", s)
	}
	return nil
}

// String renders argv for display.
func String(argv []string) string {
	return strings.Join(argv, " ")
}
