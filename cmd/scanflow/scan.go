package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/raysh454/scanflow/internal/guard"
	"github.com/raysh454/scanflow/internal/model"
	"github.com/raysh454/scanflow/internal/scan"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Submit a scan and follow it to completion",
	Long: `Submit a website for auditing with the chosen analysis modules and poll the
task until it finishes. Results are merged as modules complete and printed as
JSON at the end.

link-health and deep-scan are mutually exclusive; when both are given the
last one wins. Premium modules are checked against your credit balance before
the task is created.

Examples:
  scanflow scan -u example.com
  scanflow scan -u https://example.com -o website-info,seo,security
  scanflow scan -u example.com -o ai-analysis --ai-mode detailed --locale ar`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rawURL, _ := cmd.Flags().GetString("url")
		optionsFlag, _ := cmd.Flags().GetString("options")
		locale, _ := cmd.Flags().GetString("locale")
		aiMode, _ := cmd.Flags().GetString("ai-mode")
		quiet, _ := cmd.Flags().GetBool("quiet")

		opts, err := model.ParseOptions(optionsFlag)
		if err != nil {
			return err
		}

		a, err := newApplication()
		if err != nil {
			return err
		}
		defer a.Shutdown()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		v := a.OpenView(ctx)
		events, unsubscribe := v.Subscribe()
		defer unsubscribe()

		outcome, err := v.Submit(scan.SubmitRequest{URL: rawURL, Options: opts, Locale: locale, AIMode: aiMode})
		if err != nil {
			return err
		}
		if outcome == guard.Rejected {
			return fmt.Errorf("submission rejected")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "[*] Scanning %s with %v\n", rawURL, opts.Strings())
		return follow(ctx, cmd.OutOrStdout(), v, events, !quiet)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch <task-id>",
	Short: "Follow an existing task to completion",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		quiet, _ := cmd.Flags().GetBool("quiet")

		a, err := newApplication()
		if err != nil {
			return err
		}
		defer a.Shutdown()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		v := a.OpenView(ctx)
		events, unsubscribe := v.Subscribe()
		defer unsubscribe()

		if err := v.Load(model.TaskID(args[0])); err != nil {
			return err
		}
		return follow(ctx, cmd.OutOrStdout(), v, events, !quiet)
	},
}

func init() {
	scanCmd.Flags().StringP("url", "u", "", "Target website (required)")
	scanCmd.Flags().StringP("options", "o", "website-info", "Comma-separated analysis modules")
	scanCmd.Flags().String("locale", "", "Report language (default from config)")
	scanCmd.Flags().String("ai-mode", "", "AI analysis mode, only sent with ai-analysis")
	scanCmd.Flags().BoolP("quiet", "q", false, "Do not print the merged results")
	scanCmd.MarkFlagRequired("url")
	rootCmd.AddCommand(scanCmd)

	watchCmd.Flags().BoolP("quiet", "q", false, "Do not print the merged results")
	rootCmd.AddCommand(watchCmd)
}
