package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/raysh454/scanflow/internal/scan"
)

// follow prints events from v until the task reaches a terminal state, the
// submission is stopped by a prompt, or ctx ends. events must be subscribed
// before the submission or load it follows.
func follow(ctx context.Context, w io.Writer, v *scan.Controller, events <-chan scan.Event, printResults bool) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return errors.New("view closed")
			}
			done, err := printEvent(w, v, ev, printResults)
			if done || err != nil {
				return err
			}
		}
	}
}

func printEvent(w io.Writer, v *scan.Controller, ev scan.Event, printResults bool) (bool, error) {
	switch ev.Type {
	case scan.EventRedirect:
		fmt.Fprintf(w, "[*] Task %s\n", ev.TaskID)
	case scan.EventProgress:
		if ev.Progress != nil {
			fmt.Fprintf(w, "[*] Progress %d/%d\n", ev.Progress.Current, ev.Progress.Total)
		}
	case scan.EventResult:
		fmt.Fprintf(w, "[+] Results: %s\n", strings.Join(ev.Modules, ", "))
	case scan.EventPrompt:
		if ev.Prompt != nil {
			return true, fmt.Errorf("%s (%s required for %s)", ev.Prompt.Message, ev.Prompt.Kind, ev.Prompt.Feature)
		}
		return true, errors.New("submission stopped")
	case scan.EventError:
		if ev.Classification != nil {
			return true, fmt.Errorf("%s [%s, recovery: %s]", ev.Classification.Message, ev.Classification.Kind, ev.Classification.Recovery)
		}
		return true, errors.New("task failed")
	case scan.EventState:
		if ev.State != scan.StateDone {
			return false, nil
		}
		snap := v.Snapshot()
		if snap.Warning != "" {
			fmt.Fprintf(w, "[!] %s\n", snap.Warning)
		}
		fmt.Fprintf(w, "[+] Task %s done in %dms\n", snap.TaskID, snap.DurationMS)
		if printResults {
			out, err := json.MarshalIndent(snap.Results, "", "  ")
			if err != nil {
				return true, fmt.Errorf("encoding results: %w", err)
			}
			fmt.Fprintln(w, string(out))
		}
		return true, nil
	}
	return false, nil
}
