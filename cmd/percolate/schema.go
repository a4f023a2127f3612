package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Manage the schema registry",
}

var schemaAddCmd = &cobra.Command{
	Use:   "add <file.json>",
	Short: "Register a JSON-Schema document (with Percolate extensions)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := requireHandle()
		if err != nil {
			return err
		}
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		s, err := h.RegisterSchema(raw)
		if err != nil {
			return err
		}
		fmt.Printf("registered schema %q (%s)\n", s.ShortName, s.FullyQualifiedName)
		return nil
	},
}

var schemaListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered schemas",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := requireHandle()
		if err != nil {
			return err
		}
		schemas, err := h.ListSchemas()
		if err != nil {
			return err
		}
		if len(schemas) == 0 {
			fmt.Println("no schemas registered")
			return nil
		}
		fmt.Printf("%-20s %-40s %s\n", "SHORT_NAME", "FULLY_QUALIFIED_NAME", "KEY_FIELD")
		for _, s := range schemas {
			fmt.Printf("%-20s %-40s %s\n", s.ShortName, s.FullyQualifiedName, s.Extensions.KeyField)
		}
		return nil
	},
}

func init() {
	schemaCmd.AddCommand(schemaAddCmd, schemaListCmd)
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
