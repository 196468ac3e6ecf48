package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/pior/mcdump"
	"github.com/pior/mcdump/datafile"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Print the records of a data file",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

func init() {
	inspectCmd.Flags().Bool("summary", false, "only print the record count and sizes")
}

func runInspect(cmd *cobra.Command, args []string) error {
	summaryOnly, _ := cmd.Flags().GetBool("summary")

	f, err := datafile.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	out := cmd.OutOrStdout()
	rr := mcdump.NewRecordReader(f)

	var records, valueBytes int
	for {
		rec, err := rr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("record %d: %w", records, err)
		}
		records++
		valueBytes += len(rec.Value)

		if summaryOnly {
			continue
		}
		fmt.Fprintf(out, "%s\tflags=%d\texpiry=%s\tsize=%d\n", rec.Key, rec.Flags, formatExpiry(rec.Expiry), len(rec.Value))
	}

	fmt.Fprintf(out, "%d records, %d value bytes\n", records, valueBytes)
	return nil
}

func formatExpiry(expiry int32) string {
	if expiry <= 0 {
		return "never"
	}
	return time.Unix(int64(expiry), 0).UTC().Format(time.RFC3339)
}
