package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/raysh454/scanflow/internal/model"
)

var featuresCmd = &cobra.Command{
	Use:   "features [codes...]",
	Short: "Show which analysis modules the current account can use",
	Long: `Check access to analysis modules against the backend pricing, your credit
balance and your session. With no arguments every known module is checked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		codes := model.AllModules
		if len(args) > 0 {
			opts, err := model.ParseOptions(strings.Join(args, ","))
			if err != nil {
				return err
			}
			codes = opts.List()
		}

		a, err := newApplication()
		if err != nil {
			return err
		}
		defer a.Shutdown()

		res := a.Resolver.CheckMultipleFeatures(cmd.Context(), codes)

		const separator = "──────────────────────────────────────────────────────────"
		w := cmd.OutOrStdout()
		fmt.Fprintln(w, separator)
		fmt.Fprintf(w, "  %-14s  %-6s  %-22s  %s\n", "Module", "Access", "Reason", "Credits")
		fmt.Fprintln(w, separator)
		for _, code := range codes {
			r := res[code]
			fmt.Fprintf(w, "  %-14s  %-6s  %-22s  %s\n", code, yesNo(r.CanAccess), r.Reason, formatCredits(r))
		}
		fmt.Fprintln(w, separator)
		return nil
	},
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// formatCredits renders "current/required", or "-" for free modules.
func formatCredits(r model.FeatureAccessResult) string {
	if r.CreditsRequired == nil {
		return "-"
	}
	if r.CurrentCredits == nil {
		return fmt.Sprintf("?/%d", *r.CreditsRequired)
	}
	return fmt.Sprintf("%d/%d", *r.CurrentCredits, *r.CreditsRequired)
}

func init() {
	rootCmd.AddCommand(featuresCmd)
}
