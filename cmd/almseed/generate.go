package main

import (
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/almseed/internal/session"
	"github.com/fyrsmithlabs/almseed/internal/synthesis"
)

var (
	genTracker    string
	genTopCount   int
	genPerItem    int
	genBatchCount int
	genCategory   string
	genRules      string
	genUpstream   string
	genDownstream string
	genPercent    int
	genRunTracker string
	genPassed     int
	genFailed     int
	genBlocked    int

	genTraceSel   selectionFlags
	genStepsSel   selectionFlags
	genTestRunSel selectionFlags
)

func init() {
	rootCmd.AddCommand(generateCmd)
	generateCmd.AddCommand(genTopLevelCmd, genTraceabilityCmd, genComplianceCmd,
		genComplianceDownstreamCmd, genTestStepsCmd, genTestRunCmd, genBatchCmd)

	genTopLevelCmd.Flags().StringVar(&genTracker, "tracker", "", "tracker to fill (required)")
	genTopLevelCmd.Flags().IntVar(&genTopCount, "count", 5, "number of items")
	genTopLevelCmd.Flags().StringVar(&genCategory, "category", "", "content category: hardware, software, mixed or none")
	genTopLevelCmd.Flags().StringVar(&genRules, "rules", "", "extra writing rules for the generated content")
	_ = genTopLevelCmd.MarkFlagRequired("tracker")

	genTraceabilityCmd.Flags().StringVar(&genUpstream, "upstream", "", "upstream tracker (required)")
	genTraceabilityCmd.Flags().StringVar(&genDownstream, "downstream", "", "downstream tracker (required)")
	genTraceabilityCmd.Flags().IntVar(&genPerItem, "count", 2, "downstream items per upstream item")
	genTraceabilityCmd.Flags().StringVar(&genRules, "rules", "", "extra writing rules for the generated content")
	genTraceSel.register(genTraceabilityCmd)
	_ = genTraceabilityCmd.MarkFlagRequired("upstream")
	_ = genTraceabilityCmd.MarkFlagRequired("downstream")

	genComplianceCmd.Flags().StringVar(&genTracker, "tracker", "", "tracker named after a standard, e.g. \"ISO 14971\" (required)")
	_ = genComplianceCmd.MarkFlagRequired("tracker")

	genComplianceDownstreamCmd.Flags().StringVar(&genUpstream, "compliance", "", "compliance tracker (required)")
	genComplianceDownstreamCmd.Flags().StringVar(&genDownstream, "downstream", "", "downstream tracker (required)")
	genComplianceDownstreamCmd.Flags().IntVar(&genPercent, "percent", 30, "percentage of compliance entries to cover")
	_ = genComplianceDownstreamCmd.MarkFlagRequired("compliance")
	_ = genComplianceDownstreamCmd.MarkFlagRequired("downstream")

	genTestStepsCmd.Flags().StringVar(&genTracker, "tracker", "", "test case tracker (required)")
	genStepsSel.register(genTestStepsCmd)
	_ = genTestStepsCmd.MarkFlagRequired("tracker")

	genTestRunCmd.Flags().StringVar(&genTracker, "cases", "", "test case tracker (required)")
	genTestRunCmd.Flags().StringVar(&genRunTracker, "runs", "", "test run tracker (required)")
	genTestRunCmd.Flags().IntVar(&genPassed, "passed", 0, "number of passed results")
	genTestRunCmd.Flags().IntVar(&genFailed, "failed", 0, "number of failed results")
	genTestRunCmd.Flags().IntVar(&genBlocked, "blocked", 0, "number of blocked results")
	genTestRunSel.register(genTestRunCmd)
	_ = genTestRunCmd.MarkFlagRequired("cases")
	_ = genTestRunCmd.MarkFlagRequired("runs")

	genBatchCmd.Flags().StringVar(&genTracker, "tracker", "", "tracker to fill (required)")
	genBatchCmd.Flags().IntVar(&genBatchCount, "count", 100, "number of items")
	_ = genBatchCmd.MarkFlagRequired("tracker")
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Create demo items",
	Long: `Create demo items in the selected project.

Examples:
  # Five functional requirements
  almseed generate top-level --project Demo --product "Infusion Pump" --tracker "System Requirements" --category software

  # Two risks per requirement
  almseed generate traceability --project Demo --upstream "System Requirements" --downstream Risks --all

  # 500 placeholder items
  almseed generate batch --project Demo --tracker Tasks --count 500`,
}

var genTopLevelCmd = &cobra.Command{
	Use:   "top-level",
	Short: "Synthesize items with no upstream trace",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		category, err := synthesis.ParseCategory(genCategory)
		if err != nil {
			return err
		}
		s, err := current.open(cmd.Context(), true)
		if err != nil {
			return err
		}
		res, err := current.svc.GenerateTopLevel(cmd.Context(), s, session.TopLevelParams{
			Tracker:  genTracker,
			Count:    genTopCount,
			Category: category,
			Rules:    genRules,
		})
		return printResult(cmd.OutOrStdout(), res, err)
	},
}

var genTraceabilityCmd = &cobra.Command{
	Use:   "traceability",
	Short: "Synthesize downstream items linked to selected upstream items",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		sel, err := genTraceSel.selection()
		if err != nil {
			return err
		}
		s, err := current.open(cmd.Context(), true)
		if err != nil {
			return err
		}
		res, err := current.svc.GenerateTraceability(cmd.Context(), s, session.TraceabilityParams{
			UpstreamTracker:   genUpstream,
			Upstream:          sel,
			DownstreamTracker: genDownstream,
			CountPerUpstream:  genPerItem,
			Rules:             genRules,
		})
		return printResult(cmd.OutOrStdout(), res, err)
	},
}

var genComplianceCmd = &cobra.Command{
	Use:   "compliance",
	Short: "Synthesize the entries of the standard a tracker is named after",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := current.open(cmd.Context(), true)
		if err != nil {
			return err
		}
		res, err := current.svc.GenerateCompliance(cmd.Context(), s, genTracker)
		return printResult(cmd.OutOrStdout(), res, err)
	},
}

var genComplianceDownstreamCmd = &cobra.Command{
	Use:   "compliance-downstream",
	Short: "Synthesize items covering a sample of compliance entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := current.open(cmd.Context(), true)
		if err != nil {
			return err
		}
		res, err := current.svc.GenerateComplianceDownstream(cmd.Context(), s, session.ComplianceDownstreamParams{
			ComplianceTracker: genUpstream,
			DownstreamTracker: genDownstream,
			Percent:           genPercent,
		})
		return printResult(cmd.OutOrStdout(), res, err)
	},
}

var genTestStepsCmd = &cobra.Command{
	Use:   "test-steps",
	Short: "Write synthesized steps into selected test cases",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		sel, err := genStepsSel.selection()
		if err != nil {
			return err
		}
		s, err := current.open(cmd.Context(), true)
		if err != nil {
			return err
		}
		res, err := current.svc.GenerateTestSteps(cmd.Context(), s, genTracker, sel)
		return printResult(cmd.OutOrStdout(), res, err)
	},
}

var genTestRunCmd = &cobra.Command{
	Use:   "test-run",
	Short: "Create a test run over selected test cases with a fixed result mix",
	Long: `Create a test run over the selected test cases. The passed, failed and
blocked counts must add up to the number of selected test cases; results are
assigned to cases in random order.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		sel, err := genTestRunSel.selection()
		if err != nil {
			return err
		}
		s, err := current.open(cmd.Context(), true)
		if err != nil {
			return err
		}
		res, err := current.svc.GenerateTestRun(cmd.Context(), s, session.TestRunParams{
			TestCaseTracker: genTracker,
			TestCases:       sel,
			TestRunTracker:  genRunTracker,
			Passed:          genPassed,
			Failed:          genFailed,
			Blocked:         genBlocked,
		})
		return printResult(cmd.OutOrStdout(), res, err)
	},
}

var genBatchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Create placeholder items without synthesis",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := current.open(cmd.Context(), true)
		if err != nil {
			return err
		}
		res, err := current.svc.GenerateBatch(cmd.Context(), s, genTracker, genBatchCount)
		return printResult(cmd.OutOrStdout(), res, err)
	},
}
