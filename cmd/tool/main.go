package tool

import (
	"github.com/spf13/cobra"

	"github.com/alpacahq/seriesdb/cmd/tool/progress"
)

const (
	toolUsage     = "tool"
	toolShortDesc = "Executes tools as subcommands"
	toolLongDesc  = "This command executes the specified offline tool against a seriesdb root directory."
	toolExample   = "seriesdb tool progress --file <root>/<db>/initsync.dat"
)

// Cmd is the tool command.
var Cmd = &cobra.Command{
	Use:        toolUsage,
	Short:      toolShortDesc,
	Long:       toolLongDesc,
	SuggestFor: []string{"progress"},
	Example:    toolExample,
}

// nolint:gochecknoinits // cobra's standard way to initialize flags
func init() {
	Cmd.AddCommand(progress.Cmd)
}
