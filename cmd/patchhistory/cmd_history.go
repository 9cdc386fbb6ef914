package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rpattn/patchhistory/internal/export"
)

func newHistoryCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "history <collection> <ref>",
		Short: "Print the patches recorded for a document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, catalog, s, err := opts.bootstrap(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeStore(ctx, s)

			service := export.NewService(catalog)
			ref, err := service.ParseRef(args[1])
			if err != nil {
				return err
			}
			patches, err := service.History(ctx, args[0], ref)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), patches)
		},
	}
}

func newStateCmd(opts *options) *cobra.Command {
	var version int
	cmd := &cobra.Command{
		Use:   "state <collection> <ref>",
		Short: "Rebuild a document's state from its patches",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, catalog, s, err := opts.bootstrap(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeStore(ctx, s)

			service := export.NewService(catalog)
			ref, err := service.ParseRef(args[1])
			if err != nil {
				return err
			}
			state, err := service.State(ctx, args[0], ref, version)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), state)
		},
	}
	cmd.Flags().IntVar(&version, "version", 0, "number of patches to apply (0 applies all)")
	return cmd
}

func newExportCmd(opts *options) *cobra.Command {
	var (
		format string
		out    string
	)
	cmd := &cobra.Command{
		Use:   "export <collection> <ref>",
		Short: "Write a document's history as an xlsx or csv file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			format = strings.ToLower(strings.TrimSpace(format))
			if format != "xlsx" && format != "csv" {
				return fmt.Errorf("unsupported format %q", format)
			}
			ctx := cmd.Context()
			_, catalog, s, err := opts.bootstrap(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeStore(ctx, s)

			service := export.NewService(catalog)
			ref, err := service.ParseRef(args[1])
			if err != nil {
				return err
			}
			if out == "" {
				out = export.FileName(args[0], ref, format)
			}
			file, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", out, err)
			}
			defer file.Close()

			if format == "csv" {
				err = service.WriteCSV(ctx, file, args[0], ref)
			} else {
				err = service.WriteWorkbook(ctx, file, args[0], ref)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "xlsx", "output format (xlsx or csv)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (defaults to <collection>-<ref>-history.<format>)")
	return cmd
}

func printJSON(w io.Writer, payload any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}
