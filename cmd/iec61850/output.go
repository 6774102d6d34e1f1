package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/careychow/libIEC61850-sub000/osi/mms/variant"
)

// Форматы вывода
const (
	formatTable = "table"
	formatJSON  = "json"
	formatRaw   = "raw"
)

var (
	refColor   = color.New(color.FgCyan).SprintFunc()
	typeColor  = color.New(color.FgYellow).SprintFunc()
	okColor    = color.New(color.FgGreen).SprintFunc()
	errColor   = color.New(color.FgRed).SprintFunc()
	titleColor = color.New(color.Bold).SprintFunc()
)

func setupColor(disable bool) {
	if disable {
		color.NoColor = true
	}
}

// valueRecord значение атрибута для JSON вывода
type valueRecord struct {
	Reference string `json:"reference"`
	Type      string `json:"type"`
	Value     string `json:"value"`
	Reason    string `json:"reason,omitempty"`
}

func newValueRecord(ref string, v *variant.Variant) valueRecord {
	return valueRecord{Reference: ref, Type: v.Type().String(), Value: v.String()}
}

// printer выводит результаты в выбранном формате
type printer struct {
	format string
	out    io.Writer
}

func newPrinter(format string) *printer {
	return &printer{format: format, out: os.Stdout}
}

func (p *printer) value(ref string, v *variant.Variant) error {
	switch p.format {
	case formatJSON:
		return p.json(newValueRecord(ref, v))
	case formatRaw:
		fmt.Fprintln(p.out, v.String())
	default:
		fmt.Fprintf(p.out, "%s = %s (%s)\n", refColor(ref), v.String(), typeColor(v.Type()))
	}
	return nil
}

func (p *printer) json(v any) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// table выводит таблицу с выравниванием колонок по ширине
func (p *printer) table(headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	for i, h := range headers {
		fmt.Fprint(p.out, titleColor(fmt.Sprintf("%-*s ", widths[i], h)))
	}
	fmt.Fprintln(p.out)
	for i := range headers {
		fmt.Fprint(p.out, strings.Repeat("-", widths[i]), " ")
	}
	fmt.Fprintln(p.out)

	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				fmt.Fprintf(p.out, "%-*s ", widths[i], cell)
			}
		}
		fmt.Fprintln(p.out)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05.000")
}
