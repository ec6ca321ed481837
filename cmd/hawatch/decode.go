package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/gyaneshwarpardhi/hawatch/internal/stats"
)

// NewDecodeCommand creates the decode command.
func NewDecodeCommand(_ *RootOptions) *cobra.Command {
	var compact bool
	cmd := &cobra.Command{
		Use:   "decode <file|->",
		Short: "Decode a saved CSV stats report and print its records as JSON",
		Long: `Decode a HAProxy CSV stats report (as served by "show stat" or the
stats page with ;csv) and print the typed records. Numeric fields are printed
as JSON numbers, empty fields as "". Use - to read from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				raw []byte
				err error
			)
			if args[0] == "-" {
				raw, err = io.ReadAll(cmd.InOrStdin())
			} else {
				raw, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("read report: %w", err)
			}
			snap, err := stats.Decode(string(raw))
			if err != nil {
				return fmt.Errorf("decode %s: %w", args[0], err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			if !compact {
				enc.SetIndent("", "  ")
			}
			return enc.Encode(snap)
		},
	}
	cmd.Flags().BoolVar(&compact, "compact", false, "print one-line JSON")
	return cmd
}
