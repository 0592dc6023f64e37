// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The moist Authors

package cmd

import (
	"fmt"
	"os"

	"github.com/fchabrun/moist/pkg/settings"
	"github.com/spf13/cobra"
)

var loopDelaySeconds float64

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Inspect or change the live settings document",
	Long: `Inspect or change <rundir>/settings.json.

The daemon re-reads this file before every request, so changes take effect
from the next cycle without a restart.`,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current settings (creating defaults if absent)",
	RunE: func(cmd *cobra.Command, args []string) error {
		store := settings.NewStore(rundir, logger)
		s, err := store.Load()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Path: %s\n", store.Path())
		fmt.Fprintf(cmd.OutOrStdout(), "loop_delay_seconds: %g\n", s.LoopDelaySeconds)
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Write new settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cmd.Flags().Changed("loop-delay") {
			return fmt.Errorf("nothing to set (use --loop-delay)")
		}

		store := settings.NewStore(rundir, logger)
		s, err := store.Load()
		if err != nil {
			// An invalid document is replaced wholesale
			s = settings.Defaults()
		}
		s.LoopDelaySeconds = loopDelaySeconds

		if err := store.Save(s); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "loop_delay_seconds set to %g in %s\n", s.LoopDelaySeconds, store.Path())
		return nil
	},
}

var settingsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the settings document (defaults are recreated on next read)",
	RunE: func(cmd *cobra.Command, args []string) error {
		store := settings.NewStore(rundir, logger)
		removed, err := store.Clear()
		if err != nil {
			return err
		}
		if removed {
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", store.Path())
		} else {
			fmt.Fprintf(os.Stderr, "No settings at %s\n", store.Path())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(settingsCmd)
	settingsCmd.AddCommand(settingsShowCmd, settingsSetCmd, settingsClearCmd)
	settingsSetCmd.Flags().Float64Var(&loopDelaySeconds, "loop-delay", settings.DefaultLoopDelaySeconds, "Seconds between requests")
}
