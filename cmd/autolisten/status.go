package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"autolisten/internal/diagnostics"
	"autolisten/internal/settings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newStatusCmd(root *rootOptions) *cobra.Command {
	var asJSON bool
	var logs int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the enabled flag and the last status exported by the watcher",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			enabled, err := settings.ReadEnabled(cfg.Settings.Path)
			if err != nil {
				return err
			}
			status, statusErr := diagnostics.ReadStatusFile(cfg.Diagnostics.StatusFile)
			if statusErr != nil && !errors.Is(statusErr, os.ErrNotExist) {
				return statusErr
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return printStatusJSON(out, enabled, status, statusErr == nil)
			}
			printStatus(out, enabled, status, statusErr == nil, logs, time.Now())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw status object")
	cmd.Flags().IntVar(&logs, "logs", 5, "number of recent log entries to show")
	return cmd
}

func enabledLabel(enabled bool) string {
	if enabled {
		return color.New(color.FgGreen).Sprint("enabled")
	}
	return color.New(color.FgRed).Sprint("disabled")
}

func printStatus(w io.Writer, enabled bool, status diagnostics.Status, found bool, logs int, now time.Time) {
	fmt.Fprintf(w, "Auto-listen: %s\n", enabledLabel(enabled))
	if !found {
		fmt.Fprintf(w, "Watcher:     %s\n", color.New(color.FgYellow).Sprint("no status exported yet"))
		return
	}

	state := "waiting for the page"
	switch {
	case status.IsProcessing:
		state = "clicking"
	case status.IsGenerating:
		state = "response in progress"
	case status.Initialized:
		state = "watching"
	}
	fmt.Fprintf(w, "Watcher:     v%s, %s\n", status.Version, state)
	fmt.Fprintf(w, "Buttons:     %d\n", status.ListenButtonCount)
	fmt.Fprintf(w, "Clicks:      %d attempted, %s, %s\n",
		status.ClickAttempts,
		color.New(color.FgGreen).Sprintf("%d confirmed", status.ClickSuccesses),
		color.New(color.FgRed).Sprintf("%d failed", status.ClickFailures))

	if status.LastEvent != "" {
		ago := now.Sub(status.LastEventAt()).Truncate(time.Second)
		fmt.Fprintf(w, "Last event:  %s (%s ago)\n", status.LastEvent, ago)
	}

	if logs <= 0 || len(status.Logs) == 0 {
		return
	}
	start := len(status.Logs) - logs
	if start < 0 {
		start = 0
	}
	fmt.Fprintln(w, "Recent:")
	for _, e := range status.Logs[start:] {
		fmt.Fprintf(w, "  %s  %s\n", color.New(color.FgHiBlack).Sprint(e.Timestamp.Format("15:04:05")), e.Message)
	}
}

func printStatusJSON(w io.Writer, enabled bool, status diagnostics.Status, found bool) error {
	payload := map[string]interface{}{
		"autoListenEnabled": enabled,
		"running":           found,
	}
	if found {
		payload["status"] = status
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}
