package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"civsphere/event-ingester/internal/csvimport"
	"civsphere/event-ingester/internal/dedup"
	"civsphere/event-ingester/internal/importbuf"
	"civsphere/event-ingester/internal/model"
	"civsphere/event-ingester/internal/normalize"
	"civsphere/event-ingester/internal/store"
)

func newImportCommand(ctx *commandContext) *cobra.Command {
	var (
		format       string
		dateFormat   string
		dedupMode    string
		mode         string
		mappings     []string
		defaultToday bool
		dryRun       bool
	)
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import events from a CSV or JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mapping, err := parseMappings(mappings)
			if err != nil {
				return err
			}
			dm, err := dedup.ParseMode(dedupMode)
			if err != nil {
				return err
			}
			commitMode, err := importbuf.ParseMode(mode)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read import file: %w", err)
			}

			a, err := ctx.openApp(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer a.Close()

			existing, err := a.store.Events(cmd.Context())
			if err != nil {
				return err
			}
			cats, err := a.store.Categories(cmd.Context())
			if err != nil {
				return err
			}
			ids := normalize.NewSequence(store.MaxID(existing))
			if dateFormat == "" {
				dateFormat = a.cfg.Scanner.DateFormat
			}
			res, err := csvimport.Import(string(data), csvimport.Options{
				Format:       format,
				DateFormat:   dateFormat,
				DedupMode:    dm,
				ImportMode:   commitMode,
				FieldMapping: mapping,
				DefaultToday: defaultToday,
				Classifier:   a.cfg.NewClassifier(),
			}, existing, model.CategoryNames(cats), ids)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, res.Summary())
			if res.Duplicates > 0 {
				fmt.Fprintf(out, "Duplicates ignored: %d.\n", res.Duplicates)
			}
			if dryRun {
				if table := renderEvents(res.Events); table != "" {
					fmt.Fprintln(out, table)
				}
				return nil
			}
			buf := a.scanner.Buffer()
			buf.Set(res.Events)
			opts := a.commitOptions(commitMode)
			opts.IDs = ids
			committed, err := buf.Commit(cmd.Context(), a.store, opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Committed %d events (%s).\n", len(committed.Events), commitMode)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", csvimport.FormatAuto, "Input format: auto, csv or json")
	cmd.Flags().StringVar(&dateFormat, "date-format", "", "Date format: auto, ISO, YYYY-MM-DD, DD/MM/YYYY or MM/DD/YYYY")
	cmd.Flags().StringVar(&dedupMode, "dedup", string(dedup.ModeAuto), "Dedup mode: off, title_date_coords or auto")
	cmd.Flags().StringVar(&mode, "mode", importbuf.ModeAppend, "Commit mode: append or replace")
	cmd.Flags().StringArrayVar(&mappings, "map", nil, "Field mapping target=header (repeatable)")
	cmd.Flags().BoolVar(&defaultToday, "default-today", false, "Use today's date for rows without one")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Parse and validate without committing")
	return cmd
}

func parseMappings(values []string) (map[string]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(values))
	for _, v := range values {
		target, header, ok := strings.Cut(v, "=")
		target, header = strings.TrimSpace(target), strings.TrimSpace(header)
		if !ok || target == "" || header == "" {
			return nil, fmt.Errorf("invalid mapping %q: want target=header", v)
		}
		out[target] = header
	}
	return out, nil
}
