package main

import (
	"fmt"

	"autolisten/internal/settings"

	"github.com/spf13/cobra"
)

func newToggleCmd(root *rootOptions, enable bool) *cobra.Command {
	use, short := "disable", "Stop pressing listen buttons"
	if enable {
		use, short = "enable", "Resume pressing listen buttons"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Long:  short + ". A running watcher picks the change up from the settings file.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			store := settings.NewStore(cfg.Settings.Path, nil)
			if err := store.SetEnabled(enable); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Auto-listen: %s\n", enabledLabel(enable))
			return nil
		},
	}
}
