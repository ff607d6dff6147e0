package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"civsphere/event-ingester/internal/importbuf"
	"civsphere/event-ingester/internal/model"
	"civsphere/event-ingester/internal/scanner"
	"civsphere/event-ingester/internal/sink"
)

func newScanCommand(ctx *commandContext) *cobra.Command {
	var (
		commit   bool
		mode     string
		progress bool
		quiet    bool
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Fetch every configured source once and stage the new events",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := importbuf.ParseMode(mode); err != nil {
				return err
			}
			a, err := ctx.openApp(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if progress {
				updates, cancel := a.scanner.Subscribe()
				defer cancel()
				go printProgress(cmd.ErrOrStderr(), updates)
			}
			res, err := a.scanner.ScanOnce(cmd.Context(), scanner.Options{UpdateBuffer: true})
			if err != nil {
				return err
			}
			if !quiet {
				if table := renderEvents(res.Events); table != "" {
					fmt.Fprintln(out, table)
				}
			}
			fmt.Fprintln(out, res.Summary())
			if len(res.Failed) > 0 {
				fmt.Fprintf(out, "Failed sources: %s\n", strings.Join(res.Failed, ", "))
			}
			if !commit {
				return nil
			}
			return commitAndPublish(cmd.Context(), a, mode, out)
		},
	}
	cmd.Flags().BoolVar(&commit, "commit", false, "Commit the staged events to the store")
	cmd.Flags().StringVar(&mode, "mode", "", "Commit mode: append or replace (default from config)")
	cmd.Flags().BoolVar(&progress, "progress", false, "Print scan progress to stderr")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Only print the summary")
	return cmd
}

// commitAndPublish writes the staged buffer to the store and pushes the
// committed events to the configured sinks.
func commitAndPublish(ctx context.Context, a *app, mode string, out io.Writer) error {
	res, err := a.scanner.Buffer().Commit(ctx, a.store, a.commitOptions(mode))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Committed %d events in %d batches.\n", len(res.Events), res.Batches)
	sinks, err := a.sinks(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = sink.CloseAll(sinks) }()
	return sink.FanOut(ctx, sinks, res.Events)
}

func printProgress(w io.Writer, updates <-chan scanner.Progress) {
	for p := range updates {
		fmt.Fprintf(w, "[%3d%%] %s %s\n", p.Percent(), p.Phase, p.Message)
	}
}

func renderEvents(events []model.Event) string {
	if len(events) == 0 {
		return ""
	}
	rows := make([][]string, 0, len(events))
	for _, e := range events {
		rows = append(rows, []string{
			strconv.FormatInt(e.ID, 10),
			e.Date,
			e.Category,
			e.Region,
			strconv.Itoa(e.Importance),
			truncate(e.Title, 60),
		})
	}
	return renderTable(
		[]string{"ID", "Date", "Category", "Region", "Imp", "Title"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
