package main

import (
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(projectsCmd, trackersCmd, itemsCmd)
}

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List the projects of the tracker server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := current.open(cmd.Context(), false)
		if err != nil {
			return err
		}
		names, err := s.ProjectNames()
		if err != nil {
			return err
		}
		return printNames(cmd.OutOrStdout(), names)
	},
}

var trackersCmd = &cobra.Command{
	Use:     "trackers",
	Short:   "List the trackers of a project",
	Example: `  almseed trackers --project "Infusion Pump"`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := current.open(cmd.Context(), true)
		if err != nil {
			return err
		}
		names, err := s.TrackerNames()
		if err != nil {
			return err
		}
		return printNames(cmd.OutOrStdout(), names)
	},
}

var itemsCmd = &cobra.Command{
	Use:     "items <tracker>",
	Short:   "List the item names of a tracker, newest first",
	Example: `  almseed items "System Requirements" --project "Infusion Pump"`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := current.open(cmd.Context(), true)
		if err != nil {
			return err
		}
		names, err := current.svc.TrackerItems(cmd.Context(), s, args[0])
		if err != nil {
			return err
		}
		return printNames(cmd.OutOrStdout(), names)
	},
}
