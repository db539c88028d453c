package main

import (
	"cmp"

	"github.com/spf13/cobra"

	"github.com/antonkrylov/xbastion/internal/audit"
	"github.com/antonkrylov/xbastion/internal/awsclient"
	"github.com/antonkrylov/xbastion/internal/bastion"
	cliconfig "github.com/antonkrylov/xbastion/internal/cli/config"
	"github.com/antonkrylov/xbastion/internal/command"
	"github.com/antonkrylov/xbastion/internal/fault"
	"github.com/antonkrylov/xbastion/internal/keys"
)

func newSSHCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ssh [-- ssh args...]",
		Short: "Start an interactive SSH session on a fresh bastion",
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.runSession(cmd, command.Request{Mode: command.ModeSSH, ExtraArgs: args}, "")
		},
	}
	cmd.Flags().SetInterspersed(false)
	return cmd
}

func newProxyCmd(root *rootOptions) *cobra.Command {
	var localPort string
	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Start a SOCKS proxy into the VPC",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return root.runSession(cmd, command.Request{Mode: command.ModeProxy, LocalPort: localPort}, "")
		},
	}
	cmd.Flags().StringVar(&localPort, "local-port", command.DefaultProxyPort, "local SOCKS port")
	return cmd
}

func newTunnelCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tunnel LOCAL_PORT REMOTE_HOST [REMOTE_PORT]",
		Short: "Forward a local port to a host inside the VPC",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := command.Request{Mode: command.ModeTunnel, LocalPort: args[0], RemoteHost: args[1]}
			if len(args) == 3 {
				req.RemotePort = args[2]
			}
			return root.runSession(cmd, req, "")
		},
	}
}

type databaseFlags struct {
	identifier string
	user       string
	username   string
	password   bool
}

func newPsqlCmd(root *rootOptions) *cobra.Command {
	var f databaseFlags
	cmd := &cobra.Command{
		Use:   "psql [DATABASE] [-- psql args...]",
		Short: "Tunnel to a PostgreSQL endpoint and launch psql",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := command.Request{Mode: command.ModePsql, Username: cmp.Or(f.user, f.username)}
			req.Database, req.ExtraArgs = splitDatabaseArgs(args, cmd.ArgsLenAtDash())
			return root.runSession(cmd, req, f.identifier)
		},
	}
	cmd.Flags().StringVarP(&f.identifier, "identifier", "i", "", "database identifier (RDS)")
	cmd.Flags().StringVarP(&f.user, "user", "u", "", "database username")
	cmd.Flags().StringVarP(&f.username, "username", "U", "", "database username")
	_ = cmd.Flags().MarkHidden("username")
	return cmd
}

func newMySQLCmd(root *rootOptions) *cobra.Command {
	var f databaseFlags
	cmd := &cobra.Command{
		Use:   "mysql [DATABASE] [-- mysql args...]",
		Short: "Tunnel to a MySQL/MariaDB endpoint and launch mysql",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := command.Request{Mode: command.ModeMySQL, Username: cmp.Or(f.username, f.user), Password: f.password}
			req.Database, req.ExtraArgs = splitDatabaseArgs(args, cmd.ArgsLenAtDash())
			return root.runSession(cmd, req, f.identifier)
		},
	}
	cmd.Flags().StringVarP(&f.identifier, "identifier", "i", "", "database identifier (RDS)")
	cmd.Flags().StringVarP(&f.username, "username", "U", "", "database username")
	cmd.Flags().StringVarP(&f.user, "user", "u", "", "database username")
	cmd.Flags().BoolVarP(&f.password, "password", "p", false, "ask for the password (passes -p to mysql)")
	_ = cmd.Flags().MarkHidden("user")
	return cmd
}

// splitDatabaseArgs separates the optional database name from client
// arguments. Everything after "--" goes to the client.
func splitDatabaseArgs(args []string, dash int) (database string, extra []string) {
	if len(args) == 0 || dash == 0 {
		return "", args
	}
	return args[0], args[1:]
}

func (o *rootOptions) runSession(cmd *cobra.Command, req command.Request, identifier string) error {
	ctx := cmd.Context()
	resolved, err := cliconfig.ResolveSession(o.flags(), nil)
	if err != nil {
		return fault.E(fault.ErrSetup, err, "load config")
	}
	gen, err := keys.NewGenerator(resolved.Keygen)
	if err != nil {
		return fault.E(fault.ErrSetup, err, "key generator")
	}
	clients, err := awsclient.New(awsclient.Options{Region: resolved.Region, Profile: resolved.Profile})
	if err != nil {
		return err
	}
	o.logger.Debug("session resolved",
		"context", resolved.ContextName, "installation", resolved.Installation,
		"region", clients.Region, "mode", req.Mode)

	var rec audit.Recorder = audit.Nop{}
	var auditOpts audit.Options
	if a := resolved.Audit; a != nil {
		auditOpts = audit.Options{
			URL:      a.NatsURL,
			User:     a.User,
			Password: a.Password,
			Prefix:   a.Subject,
			Stream:   a.Stream,
		}
	}
	if auditOpts.Enabled() {
		pub, err := audit.Connect(ctx, auditOpts, o.logger)
		if err != nil {
			o.logger.Warn("audit disabled", "url", auditOpts.URL, "err", err)
		} else {
			defer pub.Close()
			rec = pub
		}
	}

	return bastion.Run(ctx, bastion.Deps{
		AWS:       clients,
		Generator: gen,
		Audit:     rec,
		Stdin:     cmd.InOrStdin(),
		Stdout:    cmd.OutOrStdout(),
		Stderr:    cmd.ErrOrStderr(),
		Logger:    o.logger,
	}, bastion.Options{
		Installation: resolved.Installation,
		Request:      req,
		Identifier:   identifier,
		PreferIPv6:   resolved.IPv6,
		ReadyTimeout: resolved.ReadyTimeout,
	})
}
