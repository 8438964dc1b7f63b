package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/user/pilotsync/internal/pilot"
	"github.com/user/pilotsync/internal/scheduler"
	"github.com/user/pilotsync/internal/state"
	"github.com/user/pilotsync/internal/types"
)

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().Bool("dry-run", false, "show the session without invoking actions")
}

var watchCmd = &cobra.Command{
	Use:   "watch <canvas-id> <session-id>",
	Short: "Follow a session in the foreground",
	Long: `Follow a pilot session in the foreground, dispatching ready steps onto
the canvas like the daemon does. Commands on stdin:

  r        refresh now
  s <n>    select step n
  q        quit`,
	Args: cobra.ExactArgs(2),
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	canvasID := types.CanvasID(args[0])
	sessionID := types.SessionID(args[1])
	client := newClient(cfg)

	var dispatcher *pilot.Dispatcher
	if !dryRun {
		board := state.NewCanvasStore(cfg.DataDir).Board(canvasID)
		dispatcher = pilot.NewDispatcher(client, board, pilot.Layout{
			Margin:     cfg.Layout.Margin,
			RowSpacing: cfg.Layout.RowSpacing,
		})
		dispatchLog := state.NewDispatchLog(cfg.DataDir)
		dispatcher.OnDispatch = func(d pilot.Dispatched) {
			rec := &types.DispatchRecord{
				CanvasID:  canvasID,
				SessionID: d.SessionID,
				StepID:    d.StepID,
				ResultID:  d.ResultID,
				NodeID:    d.NodeID,
				Position:  d.Position,
				At:        d.At,
			}
			if err := dispatchLog.Append(context.Background(), rec); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "record dispatch: %v\n", err)
			}
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	out := cmd.OutOrStdout()
	var outMu sync.Mutex
	sched := scheduler.New()
	sched.Start()
	defer sched.Stop()

	var view *pilot.View
	poller := sched.Poller(string(canvasID), cfg.PollInterval(), func() {
		if err := view.Sync(ctx); err != nil {
			outMu.Lock()
			fmt.Fprintf(out, "%s\n", errorStyle.Render(err.Error()))
			outMu.Unlock()
		}
	})
	view = pilot.NewView(canvasID, sessionID, client, dispatcher,
		pilot.WithTicker(poller),
		pilot.WithHooks(pilot.Hooks{
			OnUpdate: func(snap pilot.Snapshot) {
				outMu.Lock()
				defer outMu.Unlock()
				fmt.Fprintln(out, strings.Repeat("─", 60))
				fmt.Fprint(out, renderSnapshot(snap))
			},
			OnStepClick: func(_ types.CanvasID, step *types.Step) {
				outMu.Lock()
				defer outMu.Unlock()
				fmt.Fprintf(out, "selected step %s\n", step.StepID)
			},
		}),
	)
	defer view.Close()

	if err := view.Sync(ctx); err != nil {
		fmt.Fprintf(out, "%s\n", errorStyle.Render(err.Error()))
	}

	lines := make(chan string)
	go readLines(cmd.InOrStdin(), lines)

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				<-ctx.Done()
				return nil
			}
			if quit := handleWatchInput(ctx, view, line, out); quit {
				return nil
			}
		}
	}
}

func readLines(r io.Reader, lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines <- strings.TrimSpace(scanner.Text())
	}
}

// handleWatchInput runs one stdin command against view. It reports whether
// the watch should end.
func handleWatchInput(ctx context.Context, view *pilot.View, line string, out io.Writer) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	switch fields[0] {
	case "q", "quit":
		return true
	case "r", "refresh":
		if err := view.Refresh(ctx); err != nil {
			fmt.Fprintf(out, "refresh: %v\n", err)
		}
	case "s", "select":
		if len(fields) != 2 {
			fmt.Fprintln(out, "usage: s <n>")
			return false
		}
		n, err := strconv.Atoi(fields[1])
		steps := view.Snapshot().Steps
		if err != nil || n < 1 || n > len(steps) {
			fmt.Fprintf(out, "no step %s\n", fields[1])
			return false
		}
		if err := view.SelectStep(steps[n-1].StepID); err != nil {
			fmt.Fprintf(out, "select: %v\n", err)
		}
	default:
		fmt.Fprintf(out, "unknown command %q\n", fields[0])
	}
	return false
}
