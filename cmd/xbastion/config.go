package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	cliconfig "github.com/antonkrylov/xbastion/internal/cli/config"
	"github.com/antonkrylov/xbastion/internal/keys"
)

func newConfigCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and edit the local xbastion config",
	}
	cmd.AddCommand(newConfigViewCmd(root))
	cmd.AddCommand(newConfigUseContextCmd(root))
	cmd.AddCommand(newConfigSetContextCmd(root))
	return cmd
}

func newConfigViewCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "view",
		Short: "Print the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := cliconfig.Load(root.configPath)
			if err != nil {
				return err
			}
			if cfg == nil {
				cfg = &cliconfig.Config{}
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newConfigUseContextCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "use-context NAME",
		Short: "Set currentContext",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cliconfig.Load(root.configPath)
			if err != nil {
				return err
			}
			if cfg == nil || cfg.Contexts[args[0]] == nil {
				return fmt.Errorf("%w: %s", cliconfig.ErrContextNotFound, args[0])
			}
			cfg.CurrentContext = args[0]
			if err := cfg.Save(root.configPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Switched to context %q.\n", args[0])
			return nil
		},
	}
}

type auditFlags struct {
	natsURL string
	subject string
	stream  string
}

func newConfigSetContextCmd(root *rootOptions) *cobra.Command {
	var af auditFlags
	cmd := &cobra.Command{
		Use:   "set-context NAME",
		Short: "Create or update a context from --installation, --region, --profile and friends",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			cfg, err := cliconfig.Load(root.configPath)
			if err != nil {
				return err
			}
			if cfg == nil {
				cfg = &cliconfig.Config{}
			}
			ctx := cfg.Contexts[name]
			if ctx == nil {
				ctx = &cliconfig.Context{}
			}
			flags := cmd.Flags()
			if flags.Changed("installation") {
				ctx.InstallationID = root.installation
			}
			if flags.Changed("region") {
				ctx.Region = root.region
			}
			if flags.Changed("profile") {
				ctx.Profile = root.profile
			}
			if flags.Changed("ipv6") {
				ctx.IPv6 = root.ipv6
			}
			if flags.Changed("ready-timeout") {
				ctx.ReadyTimeoutSeconds = int(root.readyTimeout.Seconds())
			}
			if flags.Changed("keygen") {
				if _, err := keys.NewGenerator(root.keygen); err != nil {
					return err
				}
				ctx.Keygen = root.keygen
			}
			if flags.Changed("nats-url") || flags.Changed("audit-subject") || flags.Changed("audit-stream") {
				if ctx.Audit == nil {
					ctx.Audit = &cliconfig.Audit{}
				}
				if flags.Changed("nats-url") {
					ctx.Audit.NatsURL = af.natsURL
				}
				if flags.Changed("audit-subject") {
					ctx.Audit.Subject = af.subject
				}
				if flags.Changed("audit-stream") {
					ctx.Audit.Stream = af.stream
				}
				if ctx.Audit.NatsURL == "" {
					ctx.Audit = nil
				}
			}
			cfg.Set(name, ctx)
			if cfg.CurrentContext == "" {
				cfg.CurrentContext = name
			}
			if err := cfg.Save(root.configPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Context %q saved to %s.\n", name, root.configPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&af.natsURL, "nats-url", "", "publish session audit events to this NATS server (empty disables)")
	cmd.Flags().StringVar(&af.subject, "audit-subject", "", "subject prefix for audit events (default xbastion)")
	cmd.Flags().StringVar(&af.stream, "audit-stream", "", "JetStream stream for audit events (empty publishes without persistence)")
	return cmd
}
