package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	purgeTracker string
	purgeYes     bool
)

func init() {
	rootCmd.AddCommand(purgeCmd)
	purgeCmd.AddCommand(purgeTrackerCmd, purgeProjectCmd)

	purgeCmd.PersistentFlags().BoolVar(&purgeYes, "yes", false, "confirm the deletion")
	purgeTrackerCmd.Flags().StringVar(&purgeTracker, "tracker", "", "tracker to empty (required)")
	_ = purgeTrackerCmd.MarkFlagRequired("tracker")
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete every item of a tracker or project",
	Long: `Delete items in passes until a scan finds nothing left. Items the server
still lists after a pass are deleted again on the next pass. The first delete
the server rejects stops the purge and is reported with the count so far.

Deletion cannot be undone; --yes is required.`,
}

func confirmed() error {
	if !purgeYes {
		return fmt.Errorf("refusing to delete without --yes")
	}
	return nil
}

var purgeTrackerCmd = &cobra.Command{
	Use:   "tracker",
	Short: "Delete every item of one tracker",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := confirmed(); err != nil {
			return err
		}
		s, err := current.open(cmd.Context(), true)
		if err != nil {
			return err
		}
		rep, err := current.svc.PurgeTracker(cmd.Context(), s, purgeTracker)
		return printReport(cmd.OutOrStdout(), rep, err)
	},
}

var purgeProjectCmd = &cobra.Command{
	Use:   "project",
	Short: "Delete every item of every tracker in the project",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := confirmed(); err != nil {
			return err
		}
		s, err := current.open(cmd.Context(), true)
		if err != nil {
			return err
		}
		rep, err := current.svc.PurgeProject(cmd.Context(), s)
		return printReport(cmd.OutOrStdout(), rep, err)
	},
}
