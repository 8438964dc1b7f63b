package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/pilotsync/internal/pilot"
	"github.com/user/pilotsync/internal/types"
	"github.com/user/pilotsync/pkg/pilotapi"
)

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionShowCmd, sessionListCmd)

	sessionListCmd.Flags().String("canvas", "", "canvas id (required)")
	sessionListCmd.Flags().Int("limit", pilotapi.DefaultListLimit, "maximum number of sessions")
	_ = sessionListCmd.MarkFlagRequired("canvas")
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect pilot sessions",
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Fetch a session once and print its ordered steps",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		client := newClient(cfg)

		// A view without a dispatcher is read-only.
		view := pilot.NewView("", types.SessionID(args[0]), client, nil)
		defer view.Close()
		if err := view.Sync(context.Background()); err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), renderSnapshot(view.Snapshot()))
		return nil
	},
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the pilot sessions of a canvas",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		canvasID, _ := cmd.Flags().GetString("canvas")
		limit, _ := cmd.Flags().GetInt("limit")

		cfg := loadConfig()
		client := newClient(cfg)
		list, err := client.ListSessions(context.Background(), canvasID, "canvas", limit)
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(list) == 0 {
			fmt.Fprintln(out, "No sessions found.")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tTITLE\tCREATED")
		for _, s := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				s.SessionID,
				s.Status,
				truncate(s.Title, 50),
				s.CreatedAt,
			)
		}
		return w.Flush()
	},
}
