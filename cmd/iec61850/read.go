package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var readFC string

var readCmd = &cobra.Command{
	Use:   "read <reference>...",
	Short: "Read data attributes or data objects",
	Long: `Read retrieves the values of data attributes or whole data objects.

The functional constraint is taken from the reference suffix in square
brackets or from --fc.

Examples:
  # Read a single attribute
  iec61850 read "GenericIO/GGIO1.AnIn1.mag.f[MX]"

  # Read a whole data object with FC ST
  iec61850 read GenericIO/GGIO1.Ind1 --fc ST

  # Read a setting array element
  iec61850 read "GenericIO/GGIO1.Setting.weights(2)[SP]" -o json`,

	Args: cobra.MinimumNArgs(1),
	RunE: runRead,
}

func init() {
	readCmd.Flags().StringVar(&readFC, "fc", "", "Functional constraint (ST, MX, SP, CF, DC, ...)")
}

func runRead(cmd *cobra.Command, args []string) error {
	fc, err := functionalConstraint(readFC)
	if err != nil {
		return err
	}

	ctx, cancel := requestContext()
	defer cancel()

	s, err := connect(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	p := newPrinter(viper.GetString("output"))
	for _, ref := range args {
		v, err := s.conn.ReadObject(ctx, ref, fc)
		if err != nil {
			return fmt.Errorf("read %s: %w", ref, err)
		}
		if err := p.value(ref, v); err != nil {
			return err
		}
	}
	return nil
}
