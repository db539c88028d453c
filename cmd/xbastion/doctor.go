package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	cliconfig "github.com/antonkrylov/xbastion/internal/cli/config"
)

// doctorTools are the local binaries a session may execute.
var doctorTools = []string{"ssh", "ssh-keygen", "psql", "mysql"}

func newDoctorCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Print local diagnostic information for troubleshooting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			exe, _ := os.Executable()
			exe = strings.TrimSpace(exe)
			look, _ := exec.LookPath("xbastion")
			look = strings.TrimSpace(look)

			fmt.Fprintf(out, "xbastion_executable=%s\n", exe)
			fmt.Fprintf(out, "xbastion_version=%s\n", versionString())
			if look != "" {
				fmt.Fprintf(out, "xbastion_on_path=%s\n", look)
			}
			if exe != "" && look != "" {
				absExe, _ := filepath.EvalSymlinks(exe)
				absLook, _ := filepath.EvalSymlinks(look)
				if absExe != "" && absLook != "" && absExe != absLook {
					fmt.Fprintln(out, "warning=you_are_not_running_the_same_xbastion_as_on_PATH (adjust PATH or call the intended binary explicitly)")
				}
			}
			fmt.Fprintf(out, "PATH=%s\n", os.Getenv("PATH"))
			for _, tool := range doctorTools {
				path, err := exec.LookPath(tool)
				if err != nil {
					fmt.Fprintf(out, "tool=%s found=false\n", tool)
					continue
				}
				fmt.Fprintf(out, "tool=%s found=true path=%s\n", tool, path)
			}
			for _, key := range []string{"XBASTION_INSTALLATION", "AWS_REGION", "AWS_DEFAULT_REGION", "AWS_PROFILE"} {
				if v := os.Getenv(key); v != "" {
					fmt.Fprintf(out, "%s=%s\n", key, v)
				}
			}

			fmt.Fprintf(out, "config_path=%s\n", root.configPath)
			cfg, err := cliconfig.Load(root.configPath)
			if err != nil {
				fmt.Fprintf(out, "config_error=%s\n", err.Error())
				return nil
			}
			if cfg == nil {
				fmt.Fprintln(out, "config_present=false")
				return nil
			}
			fmt.Fprintln(out, "config_present=true")
			fmt.Fprintf(out, "current_context=%s\n", strings.TrimSpace(cfg.CurrentContext))
			for _, name := range cfg.Names() {
				c := cfg.Contexts[name]
				if c == nil {
					continue
				}
				audit := ""
				if c.Audit != nil {
					audit = c.Audit.NatsURL
				}
				fmt.Fprintf(out, "context=%s installation=%s region=%s profile=%s ipv6=%t ready_timeout=%d keygen=%s audit=%s\n",
					name,
					strings.TrimSpace(c.InstallationID),
					strings.TrimSpace(c.Region),
					strings.TrimSpace(c.Profile),
					c.IPv6,
					c.ReadyTimeoutSeconds,
					strings.TrimSpace(c.Keygen),
					audit,
				)
			}
			return nil
		},
	}
	return cmd
}
