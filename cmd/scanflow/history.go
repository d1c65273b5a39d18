package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/raysh454/scanflow/internal/history"
	"github.com/raysh454/scanflow/internal/logging"
	"github.com/raysh454/scanflow/internal/model"
)

var historyCmd = &cobra.Command{
	Use:   "history [task-id]",
	Short: "Show tasks seen by this client",
	Long: `Without arguments, list recent tasks newest-first. With a task id, print the
stored record including its merged results as JSON.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		if cfg.HistoryDB == "" {
			return errors.New("history is disabled (history_db is empty)")
		}
		store, err := history.Open(cfg.HistoryDB, logging.NewStdoutLogger("scanflow").SetOutput(os.Stderr).SetLevel(cfg.LogLevel))
		if err != nil {
			return fmt.Errorf("opening history: %w", err)
		}
		defer store.Close()

		w := cmd.OutOrStdout()
		if len(args) == 1 {
			rec, err := store.Get(cmd.Context(), model.TaskID(args[0]))
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(rec, "", "  ")
			if err != nil {
				return fmt.Errorf("encoding record: %w", err)
			}
			fmt.Fprintln(w, string(out))
			return nil
		}

		recs, err := store.List(cmd.Context(), limit)
		if err != nil {
			return fmt.Errorf("listing history: %w", err)
		}
		if len(recs) == 0 {
			fmt.Fprintln(w, "No tasks recorded yet")
			return nil
		}

		const separator = "────────────────────────────────────────────────────────────────────────"
		fmt.Fprintln(w, separator)
		fmt.Fprintf(w, "  %-12s  %-20s  %-8s  %-30s  %s\n", "Task", "Started", "State", "Target", "Options")
		fmt.Fprintln(w, separator)
		for _, rec := range recs {
			fmt.Fprintf(w, "  %-12s  %-20s  %-8s  %-30s  %s\n",
				shortID(string(rec.TaskID)),
				rec.StartedAt.Local().Format("2006-01-02 15:04"),
				rec.State,
				rec.TargetURL,
				formatOptions(rec.Options))
		}
		fmt.Fprintln(w, separator)
		fmt.Fprintf(w, "Total: %d task(s)\n", len(recs))
		return nil
	},
}

func shortID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:9] + "..."
}

func formatOptions(opts []string) string {
	if len(opts) == 0 {
		return "-"
	}
	return strings.Join(opts, ", ")
}

func init() {
	historyCmd.Flags().Int("limit", 20, "Maximum number of tasks to display")
	rootCmd.AddCommand(historyCmd)
}
