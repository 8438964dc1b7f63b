package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/pilotsync/internal/types"
)

func init() {
	rootCmd.AddCommand(watchesCmd)
	watchesCmd.AddCommand(watchesAddCmd, watchesListCmd, watchesRemoveCmd)
}

var watchesCmd = &cobra.Command{
	Use:   "watches",
	Short: "Manage the canvases the daemon watches",
}

var watchesAddCmd = &cobra.Command{
	Use:   "add <canvas-id> [session-id]",
	Short: "Watch a canvas; without a session id a fresh session is expected",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		canvasID := types.CanvasID(args[0])
		sessionID := types.NewSessionSentinel
		if len(args) == 2 {
			sessionID = types.SessionID(args[1])
		}

		// A running daemon owns the watch list; otherwise edit the file.
		err := newDaemonClient(cfg).Watch(context.Background(), canvasID, sessionID)
		if errors.Is(err, errDaemonDown) {
			err = watchStore(cfg).Put(canvasID, sessionID)
		}
		if err != nil {
			return fmt.Errorf("add watch: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Watching canvas %s.\n", canvasID)
		return nil
	},
}

var watchesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List watched canvases",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		watches, err := watchStore(cfg).List()
		if err != nil {
			return fmt.Errorf("list watches: %w", err)
		}

		if len(watches) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No canvases watched.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CANVAS\tSESSION\tUPDATED")
		for _, wt := range watches {
			session := string(wt.SessionID)
			if wt.SessionID == types.NewSessionSentinel {
				session = "(new)"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n",
				wt.CanvasID,
				session,
				wt.UpdatedAt.Format("2006-01-02 15:04:05"),
			)
		}
		return w.Flush()
	},
}

var watchesRemoveCmd = &cobra.Command{
	Use:   "remove <canvas-id>",
	Short: "Stop watching a canvas",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		canvasID := types.CanvasID(args[0])

		err := newDaemonClient(cfg).Unwatch(context.Background(), canvasID)
		if errors.Is(err, errDaemonDown) {
			err = watchStore(cfg).Remove(canvasID)
		}
		if err != nil {
			return fmt.Errorf("remove watch: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Canvas %s removed.\n", canvasID)
		return nil
	},
}
