package main

import (
	"github.com/spf13/cobra"
)

var (
	updTracker string
	updSel     selectionFlags
)

func init() {
	rootCmd.AddCommand(updateCmd)
	updateCmd.AddCommand(updFieldsCmd, updStatusesCmd)

	updateCmd.PersistentFlags().StringVar(&updTracker, "tracker", "", "tracker to update (required)")
	_ = updateCmd.MarkPersistentFlagRequired("tracker")
	updSel.register(updFieldsCmd)
	updSel.register(updStatusesCmd)
}

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Randomize existing items",
	Long: `Randomize fields or statuses of existing items.

Examples:
  # Random choice, user and integer values on every requirement
  almseed update fields --project Demo --tracker "System Requirements" --all

  # Move two items one step through the workflow
  almseed update statuses --project Demo --tracker Risks --item "Overdose" --item "Air in line"`,
}

var updFieldsCmd = &cobra.Command{
	Use:   "fields",
	Short: "Assign random values to choice, user and integer fields",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		sel, err := updSel.selection()
		if err != nil {
			return err
		}
		s, err := current.open(cmd.Context(), true)
		if err != nil {
			return err
		}
		res, err := current.svc.UpdateMetadata(cmd.Context(), s, updTracker, sel)
		return printResult(cmd.OutOrStdout(), res, err)
	},
}

var updStatusesCmd = &cobra.Command{
	Use:   "statuses",
	Short: "Move items to a random status reachable from their current one",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		sel, err := updSel.selection()
		if err != nil {
			return err
		}
		s, err := current.open(cmd.Context(), true)
		if err != nil {
			return err
		}
		res, err := current.svc.UpdateStatuses(cmd.Context(), s, updTracker, sel)
		return printResult(cmd.OutOrStdout(), res, err)
	},
}
