package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/percolate-dev/percolate-core/internal/export"
)

var exportFormat string

var exportCmd = &cobra.Command{
	Use:   "export <schema> <output-file>",
	Short: "Export every entity of a schema to csv, jsonl, or parquet",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := requireHandle()
		if err != nil {
			return err
		}
		f, err := os.Create(args[1])
		if err != nil {
			return err
		}
		defer f.Close()

		if err := h.Export(args[0], export.Format(exportFormat), f); err != nil {
			return err
		}
		fmt.Printf("exported %s entities to %s\n", args[0], args[1])
		return nil
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <schema> <input-file>",
	Short: "Insert one entity per JSON-object line of a JSONL file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := requireHandle()
		if err != nil {
			return err
		}
		f, err := os.Open(args[1])
		if err != nil {
			return err
		}
		defer f.Close()

		n, err := h.Ingest(cmd.Context(), f, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("ingested %d entities into %s\n", n, args[0])
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "jsonl", "csv, jsonl, or parquet")
}
