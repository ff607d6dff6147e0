package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

func newSourcesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List the configured sources and their schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.openApp(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer a.Close()

			states := a.scanner.States()
			descs := a.scanner.Sources()
			if len(descs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No sources configured.")
				return nil
			}
			rows := make([][]string, 0, len(descs))
			for _, d := range descs {
				st := states[d.ID]
				rows = append(rows, []string{
					d.ID,
					d.Type,
					strconv.Itoa(d.Priority),
					d.Interval.String(),
					formatTime(st.LastRun),
					formatTime(st.NextRun),
					strconv.Itoa(st.ErrorCount),
					truncate(st.LastError, 40),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Type", "Priority", "Interval", "Last Run", "Next Run", "Errors", "Last Error"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
