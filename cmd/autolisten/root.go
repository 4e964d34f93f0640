package main

import (
	"autolisten/internal/config"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath   string
	workspaceDir string
	noWorkspace  bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "autolisten",
		Short:         "Press the listen button of each new chat response, once.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "explicit config file, applied over the workspace config")
	flags.StringVar(&opts.workspaceDir, "workspace-dir", "", "use this directory as the workspace root")
	flags.BoolVar(&opts.noWorkspace, "no-workspace", false, "skip .autolisten workspace discovery")

	cmd.AddCommand(
		newRunCmd(opts),
		newStatusCmd(opts),
		newToggleCmd(opts, true),
		newToggleCmd(opts, false),
		newInitCmd(),
	)
	return cmd
}

func (o *rootOptions) load() (config.Config, error) {
	cfg, _, err := config.LoadWithWorkspace(o.configPath, config.WorkspaceOptions{
		Disable:     o.noWorkspace,
		ExplicitDir: o.workspaceDir,
	})
	if err != nil {
		return cfg, err
	}
	if cfg.Server.Version == "" {
		cfg.Server.Version = version
	}
	return cfg, nil
}
