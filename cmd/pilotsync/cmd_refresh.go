package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/user/pilotsync/internal/types"
)

func init() {
	rootCmd.AddCommand(refreshCmd, viewsCmd, selectCmd)
}

var refreshCmd = &cobra.Command{
	Use:   "refresh <canvas-id>",
	Short: "Refetch a watched canvas's session on the running daemon",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		client := newDaemonClient(cfg)

		snap, err := client.Refresh(context.Background(), types.CanvasID(args[0]))
		if err != nil {
			var derr *daemonError
			if errors.As(err, &derr) && derr.View != nil {
				fmt.Fprint(cmd.OutOrStdout(), renderSnapshot(*derr.View))
			}
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), renderSnapshot(*snap))
		return nil
	},
}

var viewsCmd = &cobra.Command{
	Use:   "views",
	Short: "Show every view of the running daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		snaps, err := newDaemonClient(cfg).Views(context.Background())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(snaps) == 0 {
			fmt.Fprintln(out, "No canvases watched.")
			return nil
		}
		for i, snap := range snaps {
			if i > 0 {
				fmt.Fprintln(out)
			}
			fmt.Fprint(out, renderSnapshot(snap))
		}
		return nil
	},
}

var selectCmd = &cobra.Command{
	Use:   "select <canvas-id> <step-id>",
	Short: "Select a step of a watched canvas",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		if err := newDaemonClient(cfg).SelectStep(context.Background(), types.CanvasID(args[0]), types.StepID(args[1])); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Step %s selected.\n", args[1])
		return nil
	},
}
