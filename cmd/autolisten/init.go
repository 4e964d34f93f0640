package main

import (
	"fmt"
	"os"

	"autolisten/internal/config"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newInitCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a .autolisten workspace with a template config",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dir == "" {
				cwd, err := os.Getwd()
				if err != nil {
					return err
				}
				dir = cwd
			}
			if err := config.InitWorkspace(dir); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s workspace in %s\n", color.New(color.FgGreen).Sprint("Created"), dir)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "workspace root (default: current directory)")
	return cmd
}
