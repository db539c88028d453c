package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	cliconfig "github.com/antonkrylov/xbastion/internal/cli/config"
	"github.com/antonkrylov/xbastion/internal/fault"
)

var (
	version   = "dev"
	commit    = ""
	buildTime = ""
)

type rootOptions struct {
	configPath   string
	contextName  string
	installation string
	region       string
	profile      string
	keygen       string
	ipv6         bool
	readyTimeout time.Duration
	logLevel     string
	verbose      bool

	logger *slog.Logger
}

func (o *rootOptions) flags() cliconfig.Flags {
	return cliconfig.Flags{
		ConfigPath:   o.configPath,
		ContextName:  o.contextName,
		Installation: o.installation,
		Region:       o.region,
		Profile:      o.profile,
		Keygen:       o.keygen,
		IPv6:         o.ipv6,
		ReadyTimeout: o.readyTimeout,
	}
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run executes the CLI and returns the process exit code. Deferred cleanup
// inside the session has finished by the time it returns.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	root := newRootCmd()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	return fault.Report(err, stdout, stderr)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "xbastion",
		Short:         "On-demand ephemeral SSH bastions into private AWS networks",
		Version:       versionString(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			opts.logger = newLogger(cmd.ErrOrStderr(), opts.logLevel, opts.verbose)
			return nil
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", cliconfig.DefaultConfigPath(), "path to xbastion config file (default $XBASTION_CONFIG or $HOME/.xbastion/config)")
	pf.StringVar(&opts.contextName, "context", "", "context name within the config (overrides currentContext)")
	pf.StringVar(&opts.installation, "installation", "", "installation id (overrides config and XBASTION_INSTALLATION)")
	pf.StringVar(&opts.region, "region", "", "AWS region (overrides config and AWS_REGION)")
	pf.StringVar(&opts.profile, "profile", "", "AWS shared config profile")
	pf.BoolVarP(&opts.ipv6, "ipv6", "6", false, "connect over IPv6 (disables public IPv4 when possible)")
	pf.DurationVar(&opts.readyTimeout, "ready-timeout", 0, "give up if the bastion is not running after this long (0 waits indefinitely)")
	pf.StringVar(&opts.keygen, "keygen", "", "key generator: native|ssh-keygen (default native)")
	pf.StringVar(&opts.logLevel, "log-level", "warn", "log level: debug|info|warn|error")
	pf.BoolVar(&opts.verbose, "verbose", false, "enable verbose debug logging (same as --log-level=debug)")

	root.AddCommand(newSSHCmd(opts))
	root.AddCommand(newProxyCmd(opts))
	root.AddCommand(newTunnelCmd(opts))
	root.AddCommand(newPsqlCmd(opts))
	root.AddCommand(newMySQLCmd(opts))
	root.AddCommand(newDoctorCmd(opts))
	root.AddCommand(newConfigCmd(opts))
	root.AddCommand(newVersionCmd())
	return root
}

func newLogger(w io.Writer, logLevel string, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	} else {
		switch l := strings.ToLower(strings.TrimSpace(logLevel)); l {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn", "warning", "":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			fmt.Fprintf(w, "WARNING: unknown --log-level=%q (expected debug|info|warn|error); defaulting to info\n", logLevel)
			level = slog.LevelInfo
		}
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func versionString() string {
	v := version
	if commit != "" {
		v += " (" + commit + ")"
	}
	if buildTime != "" {
		v += " built " + buildTime
	}
	return v
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the xbastion version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "xbastion %s\n", versionString())
			return nil
		},
	}
}
