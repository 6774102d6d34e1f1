package main

import (
	"fmt"
	"io"
	"os"
	"path"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var getOutput string

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "Access the server file store",
	Long: `Files lists, downloads and deletes files of the server virtual file store
(COMTRADE records, logs, configuration files).

Examples:
  iec61850 files list
  iec61850 files list COMTRADE/
  iec61850 files get COMTRADE/rec1.cfg -f rec1.cfg
  iec61850 files delete COMTRADE/rec1.cfg`,
}

var filesListCmd = &cobra.Command{
	Use:   "list [directory]",
	Short: "List a directory",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		directory := ""
		if len(args) == 1 {
			directory = args[0]
		}

		ctx, cancel := requestContext()
		defer cancel()

		s, err := connect(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		entries, err := s.conn.FileDirectory(ctx, directory)
		if err != nil {
			return fmt.Errorf("file directory: %w", err)
		}

		p := newPrinter(viper.GetString("output"))
		if p.format == formatJSON {
			return p.json(entries)
		}
		rows := make([][]string, 0, len(entries))
		for _, e := range entries {
			rows = append(rows, []string{e.Name, strconv.FormatUint(uint64(e.Size), 10), formatTime(e.LastModified)})
		}
		p.table([]string{"NAME", "SIZE", "MODIFIED"}, rows)
		return nil
	},
}

var filesGetCmd = &cobra.Command{
	Use:   "get <file>",
	Short: "Download a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := getOutput
		if target == "" {
			target = path.Base(args[0])
		}

		var out io.Writer = os.Stdout
		if target != "-" {
			f, err := os.Create(target)
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}

		ctx, cancel := requestContext()
		defer cancel()

		s, err := connect(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		var (
			size     int
			writeErr error
		)
		err = s.conn.GetFile(ctx, args[0], func(data []byte) bool {
			n, err := out.Write(data)
			size += n
			writeErr = err
			return err == nil
		})
		if err != nil {
			return fmt.Errorf("get %s: %w", args[0], err)
		}
		if writeErr != nil {
			return writeErr
		}
		if target != "-" {
			fmt.Fprintf(os.Stderr, "%s %s (%d bytes)\n", okColor("saved"), target, size)
		}
		return nil
	},
}

var filesDeleteCmd = &cobra.Command{
	Use:   "delete <file>",
	Short: "Delete a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext()
		defer cancel()

		s, err := connect(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.conn.DeleteFile(ctx, args[0]); err != nil {
			return fmt.Errorf("delete %s: %w", args[0], err)
		}
		fmt.Printf("%s %s\n", okColor("deleted"), args[0])
		return nil
	},
}

func init() {
	filesGetCmd.Flags().StringVarP(&getOutput, "file", "f", "", "Output file, - for stdout (default is the base name)")

	filesCmd.AddCommand(filesListCmd)
	filesCmd.AddCommand(filesGetCmd)
	filesCmd.AddCommand(filesDeleteCmd)
}
