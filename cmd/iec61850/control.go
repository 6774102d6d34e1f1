package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/careychow/libIEC61850-sub000/iec61850/client"
	"github.com/careychow/libIEC61850-sub000/osi/mms/variant"
)

var (
	controlType      string
	controlOrCat     string
	controlOrIdent   string
	controlTest      bool
	controlInterlock bool
	controlSynchro   bool
	controlDelay     time.Duration
	controlCancel    bool
	controlWait      time.Duration
)

var controlCmd = &cobra.Command{
	Use:   "control <LD/LN.DO> <ctlVal>",
	Short: "Operate a controllable data object",
	Long: `Control operates a controllable data object according to its control model.

Select-before-operate objects are selected first (SBO with normal security
reads SBO, enhanced security writes SBOw with the same control value).
With enhanced security the command waits for the CommandTermination.

The control value type is taken from the Oper structure unless --type is set.

Examples:
  # Direct control
  iec61850 control GenericIO/GGIO1.SPCSO1 true

  # Time activated operate in 2 seconds
  iec61850 control GenericIO/GGIO1.SPCSO3 true --delay 2s

  # Select with value and cancel
  iec61850 control GenericIO/GGIO1.SPCSO4 true --cancel`,

	Args: cobra.ExactArgs(2),
	RunE: runControl,
}

func init() {
	flags := controlCmd.Flags()
	flags.StringVar(&controlType, "type", "", "Control value type (default from the Oper structure)")
	flags.StringVar(&controlOrCat, "or-cat", "remote", "Originator category (bay, station, remote, automatic-*, maintenance, process)")
	flags.StringVar(&controlOrIdent, "or-ident", "iec61850-cli", "Originator identification")
	flags.BoolVar(&controlTest, "test", false, "Set the Test flag")
	flags.BoolVar(&controlInterlock, "interlock", false, "Request interlock check")
	flags.BoolVar(&controlSynchro, "synchro", false, "Request synchrocheck")
	flags.DurationVar(&controlDelay, "delay", 0, "Operate at now + delay (time activated control)")
	flags.BoolVar(&controlCancel, "cancel", false, "Select and cancel instead of operating")
	flags.DurationVar(&controlWait, "wait", 10*time.Second, "Time to wait for the CommandTermination")
}

// ctlValType выбирает тип значения по ctlVal в структуре Oper
func ctlValType(t variant.Type) string {
	switch t {
	case variant.Boolean:
		return "bool"
	case variant.Integer:
		return "int32"
	case variant.Unsigned:
		return "uint"
	case variant.Float32:
		return "float"
	case variant.Float64:
		return "double"
	case variant.VisibleString, variant.MMSString:
		return "string"
	}
	return ""
}

func runControl(cmd *cobra.Command, args []string) error {
	orCat, err := parseOriginator(controlOrCat)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*viper.GetDuration("timeout")+controlDelay+controlWait)
	defer cancel()

	s, err := connect(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	co, err := s.conn.NewControlObject(ctx, args[0])
	if err != nil {
		return fmt.Errorf("control object %s: %w", args[0], err)
	}
	defer co.Close()

	typ := controlType
	if typ == "" {
		typ = ctlValType(co.CtlValType())
		if typ == "" {
			return fmt.Errorf("ctlVal of type %s needs --type", co.CtlValType())
		}
	}
	ctlVal, err := parseValue(typ, args[1])
	if err != nil {
		return fmt.Errorf("invalid control value: %w", err)
	}

	co.SetOrigin(controlOrIdent, orCat)
	co.SetTestMode(controlTest)
	co.EnableInterlockCheck(controlInterlock)
	co.EnableSynchroCheck(controlSynchro)

	ctlModel := co.ControlModel()
	fmt.Printf("%s control model %s\n", refColor(co.Reference()), typeColor(ctlModel))

	terminated := make(chan client.CommandTermination, 1)
	co.SetCommandTerminationHandler(func(_ *client.ControlObject, t client.CommandTermination) {
		terminated <- t
	})

	if ctlModel.IsSBO() {
		if err := selectControl(ctx, co, ctlVal); err != nil {
			return err
		}
		fmt.Println(okColor("selected"))
	}

	if controlCancel {
		if err := co.Cancel(ctx); err != nil {
			return controlFailure("cancel", co, err)
		}
		fmt.Println(okColor("cancelled"))
		return nil
	}

	var operTime time.Time
	if controlDelay > 0 {
		if !co.HasTimeActivatedMode() {
			return errors.New("control object has no time activated mode")
		}
		operTime = time.Now().Add(controlDelay)
	}
	if err := co.Operate(ctx, ctlVal, operTime); err != nil {
		return controlFailure("operate", co, err)
	}
	fmt.Printf("%s ctlNum %d\n", okColor("operated"), co.CtlNum())

	if !ctlModel.IsEnhanced() {
		return nil
	}

	select {
	case t := <-terminated:
		if !t.Positive {
			return fmt.Errorf("%s: %s", errColor("negative command termination"), describeApplError(t.Error))
		}
		fmt.Println(okColor("command terminated"))
		return nil
	case <-time.After(controlWait + controlDelay):
		return errors.New("no command termination received")
	}
}

func selectControl(ctx context.Context, co *client.ControlObject, ctlVal *variant.Variant) error {
	var err error
	if co.ControlModel().IsEnhanced() {
		err = co.SelectWithValue(ctx, ctlVal)
	} else {
		err = co.Select(ctx)
	}
	if err != nil {
		return controlFailure("select", co, err)
	}
	return nil
}

func controlFailure(action string, co *client.ControlObject, err error) error {
	last := co.LastApplError()
	if last.ControlObject == "" {
		return fmt.Errorf("%s: %w", action, err)
	}
	return fmt.Errorf("%s: %w (%s)", action, err, describeApplError(last))
}

func describeApplError(e client.LastApplError) string {
	return fmt.Sprintf("error %s, add cause %s, ctlNum %d", e.Error, e.AddCause, e.CtlNum)
}
