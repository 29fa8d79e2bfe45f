package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loopcoach/programsync/internal/program"
)

var validateCmd = &cobra.Command{
	Use:   "validate <template.yaml>",
	Short: "Validate a program template file",
	Long: `Parses and validates a YAML program template without importing it,
reporting structural problems like non-contiguous modules or unknown
task kinds.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	p, err := program.LoadFile(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("ok: %q (%d days, %d modules, %d weeks)\n",
		p.Title, p.LengthDays, len(p.Modules), len(p.Weeks))
	return nil
}
