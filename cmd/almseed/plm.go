package main

import (
	"github.com/spf13/cobra"
)

var (
	plmTracker string
	plmProduct string
)

func init() {
	rootCmd.AddCommand(plmCmd)
	plmCmd.AddCommand(plmProductsCmd, plmPartsCmd)

	plmPartsCmd.Flags().StringVar(&plmTracker, "tracker", "", "tracker whose items the parts realize (required)")
	plmPartsCmd.Flags().StringVar(&plmProduct, "plm-product", "", "PLM product container (required)")
	_ = plmPartsCmd.MarkFlagRequired("tracker")
	_ = plmPartsCmd.MarkFlagRequired("plm-product")
}

var plmCmd = &cobra.Command{
	Use:   "plm",
	Short: "Work with the PLM server configured under plm.*",
}

var plmProductsCmd = &cobra.Command{
	Use:   "products",
	Short: "List PLM product containers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		s := current.svc.Store.Create()
		if err := current.openPLM(cmd.Context(), s); err != nil {
			return err
		}
		names, err := current.svc.PLMProducts(cmd.Context(), s)
		if err != nil {
			return err
		}
		return printNames(cmd.OutOrStdout(), names)
	},
}

var plmPartsCmd = &cobra.Command{
	Use:   "parts",
	Short: "Synthesize PLM parts for the items of a tracker",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := current.open(cmd.Context(), true)
		if err != nil {
			return err
		}
		if err := current.openPLM(cmd.Context(), s); err != nil {
			return err
		}
		res, err := current.svc.GenerateParts(cmd.Context(), s, plmTracker, plmProduct)
		return printResult(cmd.OutOrStdout(), res, err)
	},
}
