package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	writeFC   string
	writeType string
)

var writeCmd = &cobra.Command{
	Use:   "write <reference> <value>",
	Short: "Write a data attribute",
	Long: `Write sets the value of a single data attribute.

Value types: bool, int, int32, uint, float, double, string, octets (hex), time (RFC 3339).

Examples:
  # Write a setting
  iec61850 write "GenericIO/GGIO1.Setting.setVal[SP]" 42 --type int32

  # Write a description
  iec61850 write GenericIO/GGIO1.NamPlt.d "feeder 1" --fc DC --type string`,

	Args: cobra.ExactArgs(2),
	RunE: runWrite,
}

func init() {
	writeCmd.Flags().StringVar(&writeFC, "fc", "", "Functional constraint (SP, SV, CF, DC, ...)")
	writeCmd.Flags().StringVar(&writeType, "type", "string", "Value type")
}

func runWrite(cmd *cobra.Command, args []string) error {
	fc, err := functionalConstraint(writeFC)
	if err != nil {
		return err
	}
	value, err := parseValue(writeType, args[1])
	if err != nil {
		return fmt.Errorf("invalid value: %w", err)
	}

	ctx, cancel := requestContext()
	defer cancel()

	s, err := connect(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.conn.WriteObject(ctx, args[0], fc, value); err != nil {
		return fmt.Errorf("write %s: %w", args[0], err)
	}
	fmt.Printf("%s %s = %s\n", okColor("OK"), refColor(args[0]), value)
	return nil
}
