package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/pilotsync/internal/state"
	"github.com/user/pilotsync/internal/types"
)

func init() {
	rootCmd.AddCommand(canvasCmd)
	canvasCmd.AddCommand(canvasListCmd, canvasNodesCmd, canvasDispatchesCmd)

	canvasDispatchesCmd.Flags().Int("limit", 20, "number of most recent dispatches")
}

var canvasCmd = &cobra.Command{
	Use:   "canvas",
	Short: "Inspect local canvases",
}

var canvasListCmd = &cobra.Command{
	Use:   "list",
	Short: "List canvases that have nodes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		ids, err := state.NewCanvasStore(cfg.DataDir).List()
		if err != nil {
			return fmt.Errorf("list canvases: %w", err)
		}
		out := cmd.OutOrStdout()
		if len(ids) == 0 {
			fmt.Fprintln(out, "No canvases found.")
			return nil
		}
		for _, id := range ids {
			fmt.Fprintln(out, id)
		}
		return nil
	},
}

var canvasNodesCmd = &cobra.Command{
	Use:   "nodes <canvas-id>",
	Short: "List the nodes of a canvas",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		board := state.NewCanvasStore(cfg.DataDir).Board(types.CanvasID(args[0]))
		nodes, err := board.Nodes(context.Background())
		if err != nil {
			return fmt.Errorf("list nodes: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(nodes) == 0 {
			fmt.Fprintln(out, "No nodes.")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTYPE\tX\tY\tSTATUS\tPILOT STEP\tTITLE")
		for _, n := range nodes {
			fmt.Fprintf(w, "%s\t%s\t%.0f\t%.0f\t%s\t%s\t%s\n",
				n.ID,
				n.Type,
				n.Position.X,
				n.Position.Y,
				n.Data.Metadata.Status,
				n.Data.Metadata.PilotStepID,
				truncate(n.Data.Title, 40),
			)
		}
		return w.Flush()
	},
}

var canvasDispatchesCmd = &cobra.Command{
	Use:   "dispatches <canvas-id>",
	Short: "Show the most recent steps dispatched onto a canvas",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		cfg := loadConfig()
		records, err := state.NewDispatchLog(cfg.DataDir).Tail(context.Background(), types.CanvasID(args[0]), limit)
		if err != nil {
			return fmt.Errorf("read dispatch log: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(records) == 0 {
			fmt.Fprintln(out, "No dispatches.")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SEQ\tAT\tSESSION\tSTEP\tRESULT\tNODE")
		for _, r := range records {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
				r.Seq,
				r.At.Format("2006-01-02 15:04:05"),
				r.SessionID,
				r.StepID,
				r.ResultID,
				r.NodeID,
			)
		}
		return w.Flush()
	},
}
