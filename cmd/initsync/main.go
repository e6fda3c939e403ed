package initsync

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/alpacahq/seriesdb/frontend"
	"github.com/alpacahq/seriesdb/frontend/client"
)

const (
	initSyncUsage     = "initsync"
	initSyncShortDesc = "Control the initial sync of the series catalog from the peer"
	initSyncLongDesc  = "This command starts, stops and reports the initial sync sessions of a running seriesdb node " +
		"through its admin gRPC API."
	initSyncExample = "seriesdb initsync start --db db0 --fresh"

	defaultAdminAddr = "localhost:5995"
	requestTimeout   = 10 * time.Second
)

var (
	// Cmd is the initsync command.
	Cmd = &cobra.Command{
		Use:     initSyncUsage,
		Short:   initSyncShortDesc,
		Long:    initSyncLongDesc,
		Example: initSyncExample,
	}
	startCmd = &cobra.Command{
		Use:   "start",
		Short: "Start or resume the initial sync of a database",
		RunE:  withClient(executeStart),
	}
	stopCmd = &cobra.Command{
		Use:   "stop",
		Short: "Stop the initial sync of a database at its next safe point",
		RunE:  withClient(executeStop),
	}
	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show the initial sync status of one or every database",
		RunE:  withClient(executeStatus),
	}

	adminAddr string
	database  string
	fresh     bool
)

// nolint:gochecknoinits // cobra's standard way to initialize flags
func init() {
	Cmd.PersistentFlags().StringVarP(&adminAddr, "admin", "a", defaultAdminAddr, "gRPC address of the seriesdb node")
	Cmd.PersistentFlags().StringVarP(&database, "db", "d", "", "database name")
	startCmd.Flags().BoolVar(&fresh, "fresh", false, "discard any earlier progress and start from the first series")
	_ = startCmd.MarkFlagRequired("db")
	_ = stopCmd.MarkFlagRequired("db")

	Cmd.AddCommand(startCmd, stopCmd, statusCmd)
}

type command func(ctx context.Context, cmd *cobra.Command, cl *client.Client) error

func withClient(run command) func(cmd *cobra.Command, _ []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cmd.SilenceUsage = true
		cl, err := client.NewClient(adminAddr)
		if err != nil {
			return err
		}
		defer cl.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()
		return run(ctx, cmd, cl)
	}
}

func executeStart(ctx context.Context, cmd *cobra.Command, cl *client.Client) error {
	st, err := cl.StartInitSync(ctx, database, fresh)
	if err != nil {
		return fmt.Errorf("start initial sync of %s: %w", database, err)
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: session %s %s\n", st.Database, st.SessionID, st.Summary)
	return err
}

func executeStop(ctx context.Context, cmd *cobra.Command, cl *client.Client) error {
	st, err := cl.StopInitSync(ctx, database)
	if err != nil {
		return fmt.Errorf("stop initial sync of %s: %w", database, err)
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: stop requested, %s\n", st.Database, st.Summary)
	return err
}

func executeStatus(ctx context.Context, cmd *cobra.Command, cl *client.Client) error {
	statuses, err := cl.InitSyncStatus(ctx, database)
	if err != nil {
		return fmt.Errorf("get initial sync status: %w", err)
	}
	renderStatuses(cmd.OutOrStdout(), statuses)
	return nil
}

func renderStatuses(w io.Writer, statuses []frontend.SyncStatus) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Database", "Session", "State", "Cursor", "Peer Highest", "Synced", "Progress", "Updated"})
	for _, st := range statuses {
		updated := "-"
		if st.UpdatedAt > 0 {
			updated = st.Updated().UTC().Format(time.RFC3339)
		}
		t.AppendRow(table.Row{
			st.Database, st.SessionID, st.State, st.Cursor, st.PeerHighest, st.Synced, st.Summary, updated,
		})
	}
	t.Render()
}
