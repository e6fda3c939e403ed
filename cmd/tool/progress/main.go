package progress

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"code.cloudfoundry.org/bytefmt"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/alpacahq/seriesdb/initsync"
)

const (
	progressUsage     = "progress"
	progressShortDesc = "Inspect an initial sync progress file"
	progressLongDesc  = "This command decodes an initial sync progress file and prints the checkpoint it holds. " +
		"It does not take the progress file lock, so it can be run against a live node."
	progressFileDesc = "path to the progress file, or to the directory of the database holding it"
)

var (
	// Cmd is the progress command.
	Cmd = &cobra.Command{
		Use:     progressUsage,
		Short:   progressShortDesc,
		Long:    progressLongDesc,
		Example: "seriesdb tool progress --file /data/db0",
		RunE:    executeProgress,
	}
	// progressFile is the path to the progress file.
	progressFile string
)

// nolint:gochecknoinits // cobra's standard way to initialize flags
func init() {
	Cmd.Flags().StringVarP(&progressFile, "file", "f", "", progressFileDesc)
	_ = Cmd.MarkFlagRequired("file")
}

func executeProgress(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true
	path := resolvePath(progressFile)
	rec, size, err := initsync.ReadRecord(path)
	if err != nil {
		return fmt.Errorf("read progress file %s: %w", path, err)
	}
	printRecord(cmd.OutOrStdout(), path, rec, size)
	return nil
}

// resolvePath accepts either the progress file itself or its database directory.
func resolvePath(p string) string {
	p = filepath.Clean(p)
	if fi, err := os.Stat(p); err == nil && fi.IsDir() {
		return filepath.Join(p, initsync.FileName)
	}
	return p
}

func printRecord(w io.Writer, path string, rec initsync.Record, size int64) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendRows([]table.Row{
		{"file", path},
		{"size", bytefmt.ByteSize(uint64(size))},
		{"next series", uint64(rec.NextSeriesID)},
		{"peer highest", uint64(rec.PeerHighestID)},
		{"series applied", rec.Synced},
		{"bytes consumed", bytefmt.ByteSize(rec.ConsumedBytes)},
	})
	t.Render()
}
