package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/careychow/libIEC61850-sub000/iec61850/client"
	"github.com/careychow/libIEC61850-sub000/iec61850/model"
)

var (
	watchDataSet string
	watchTrgOps  string
	watchGI      bool
	watchReserve bool
)

var watchCmd = &cobra.Command{
	Use:   "watch <LD/LN.RP.name | LD/LN.BR.name>",
	Short: "Enable a report control block and print reports",
	Long: `Watch enables a report control block and prints every received report
until interrupted. The report control block is disabled on exit.

Examples:
  # Unbuffered reports with general interrogation
  iec61850 watch GenericIO/LLN0.RP.EventsRCB --gi

  # Buffered reports, only on data change
  iec61850 watch GenericIO/LLN0.BR.EventsBRCB --trg-ops dchg`,

	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	flags := watchCmd.Flags()
	flags.StringVar(&watchDataSet, "dataset", "", "Expected data set reference (LD/LN.name)")
	flags.StringVar(&watchTrgOps, "trg-ops", "", "Trigger options, e.g. dchg|qchg|gi")
	flags.BoolVar(&watchGI, "gi", false, "Request a general interrogation after enabling")
	flags.BoolVar(&watchReserve, "reserve", false, "Reserve an unbuffered report control block before enabling")
}

func runWatch(cmd *cobra.Command, args []string) error {
	rcbRef := args[0]

	var trgOps model.TriggerOptions
	if watchTrgOps != "" {
		if err := trgOps.UnmarshalText([]byte(watchTrgOps)); err != nil {
			return fmt.Errorf("invalid trigger options: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 2*viper.GetDuration("timeout"))
	defer cancel()

	lost := make(chan struct{})
	var lostOnce sync.Once
	s, err := connect(connectCtx, client.WithConnectionClosedHandler(func(*client.Connection) {
		lostOnce.Do(func() { close(lost) })
	}))
	if err != nil {
		return err
	}
	defer s.Close()

	rcb, err := s.conn.GetRCBValues(connectCtx, rcbRef)
	if err != nil {
		return fmt.Errorf("read %s: %w", rcbRef, err)
	}
	members, _, err := s.conn.DataSetDirectory(connectCtx, rcb.DatSet)
	if err != nil {
		return fmt.Errorf("data set %s: %w", rcb.DatSet, err)
	}

	if watchReserve {
		if err := s.conn.ReserveRCB(connectCtx, rcbRef); err != nil {
			return fmt.Errorf("reserve %s: %w", rcbRef, err)
		}
	}

	reports := make(chan *client.Report, 16)
	handler := func(r *client.Report) {
		select {
		case reports <- r:
		default:
			log.Warning("report %s dropped", r.RptID)
		}
	}
	if err := s.conn.EnableReporting(connectCtx, rcbRef, watchDataSet, trgOps, handler); err != nil {
		return fmt.Errorf("enable %s: %w", rcbRef, err)
	}
	defer func() {
		disableCtx, cancel := requestContext()
		defer cancel()
		if err := s.conn.DisableReporting(disableCtx, rcbRef); err != nil {
			log.Warning("disable %s: %v", rcbRef, err)
		}
	}()

	if watchGI {
		if err := s.conn.TriggerGI(connectCtx, rcbRef); err != nil {
			return fmt.Errorf("general interrogation: %w", err)
		}
	}

	fmt.Printf("Watching %s (data set %s, %d members)\n", refColor(rcbRef), model.DataSetReferenceFromMms(rcb.DatSet), len(members))
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	p := newPrinter(viper.GetString("output"))
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "\nStopping watch...")
			return nil
		case <-lost:
			return errors.New("connection lost")
		case r := <-reports:
			if err := printReport(p, r, members); err != nil {
				return err
			}
		}
	}
}

// reportRecord отчёт для JSON вывода
type reportRecord struct {
	RptID   string        `json:"rptId"`
	SeqNum  *uint16       `json:"seqNum,omitempty"`
	Time    string        `json:"time,omitempty"`
	EntryID string        `json:"entryId,omitempty"`
	Values  []valueRecord `json:"values"`
}

func printReport(p *printer, r *client.Report, members []string) error {
	member := func(i int) string {
		if i < len(r.DataReferences) && r.DataReferences[i] != "" {
			return r.DataReferences[i]
		}
		if i < len(members) {
			return members[i]
		}
		return fmt.Sprintf("#%d", i)
	}

	if p.format == formatJSON {
		record := reportRecord{RptID: r.RptID}
		if r.HasSeqNum() {
			seq := r.SeqNum
			record.SeqNum = &seq
		}
		if r.HasTimestamp() {
			record.Time = r.Timestamp.Format(time.RFC3339Nano)
		}
		if len(r.EntryID) > 0 {
			record.EntryID = fmt.Sprintf("%x", r.EntryID)
		}
		for i, v := range r.Values {
			if v != nil {
				rec := newValueRecord(member(i), v)
				rec.Reason = r.Reasons[i].String()
				record.Values = append(record.Values, rec)
			}
		}
		return p.json(record)
	}

	header := fmt.Sprintf("[%s] %s", formatTime(r.Timestamp), titleColor(r.RptID))
	if r.HasSeqNum() {
		header += fmt.Sprintf(" seq %d", r.SeqNum)
	}
	if len(r.EntryID) > 0 {
		header += fmt.Sprintf(" entry %x", r.EntryID)
	}
	if r.BufOverflow {
		header += " " + errColor("buffer overflow")
	}
	fmt.Fprintln(p.out, header)

	for i, v := range r.Values {
		if v == nil {
			continue
		}
		fmt.Fprintf(p.out, "  %s = %s (%s)\n", refColor(member(i)), v.String(), typeColor(r.Reasons[i]))
	}
	return nil
}
