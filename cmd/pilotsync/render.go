package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/user/pilotsync/internal/pilot"
	"github.com/user/pilotsync/internal/types"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	metaStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	tagStyle = lipgloss.NewStyle().Padding(0, 1)
)

// statusColor maps a status name to the tag colour used for it.
func statusColor(status string) lipgloss.Color {
	switch status {
	case "executing":
		return lipgloss.Color("33")
	case "waiting":
		return lipgloss.Color("214")
	case "completed", "finish":
		return lipgloss.Color("42")
	case "failed":
		return lipgloss.Color("196")
	default:
		return lipgloss.Color("245")
	}
}

func statusTag(status string) string {
	if status == "" {
		status = "unknown"
	}
	return tagStyle.Foreground(statusColor(status)).Render("[" + status + "]")
}

// renderSnapshot draws the panel for one view: header, then either the
// ordered steps or a placeholder.
func renderSnapshot(snap pilot.Snapshot) string {
	var b strings.Builder

	if snap.State == pilot.StateNoSession {
		switch {
		case snap.Loading:
			b.WriteString(mutedStyle.Render("Loading session..."))
		case snap.Failed:
			b.WriteString(errorStyle.Render("Failed to load session: " + snap.Error))
		case snap.SessionID == types.NewSessionSentinel:
			b.WriteString(mutedStyle.Render("No session. Start one to see its steps here."))
		default:
			b.WriteString(mutedStyle.Render(fmt.Sprintf("Session %s not found yet.", snap.SessionID)))
		}
		b.WriteString("\n")
		return b.String()
	}

	title := snap.Title
	if title == "" {
		title = "Untitled session"
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteString(statusTag(snap.Status.String()))
	if snap.Polling {
		b.WriteString(metaStyle.Render(" (polling)"))
	}
	b.WriteString("\n")
	b.WriteString(metaStyle.Render(fmt.Sprintf("canvas %s  session %s", snap.CanvasID, snap.SessionID)))
	b.WriteString("\n")
	if snap.Failed {
		b.WriteString(errorStyle.Render("Refresh failed: " + snap.Error))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	if len(snap.Steps) == 0 {
		b.WriteString(mutedStyle.Render("No steps available yet"))
		b.WriteString("\n")
		return b.String()
	}

	for i, step := range snap.Steps {
		b.WriteString(renderStep(i+1, step, step.StepID == snap.SelectedStepID))
		b.WriteString("\n")
	}
	b.WriteString(mutedStyle.Render("No more"))
	b.WriteString("\n")
	return b.String()
}

func renderStep(n int, step *types.Step, selected bool) string {
	name := step.Name
	if name == "" {
		name = string(step.StepID)
	}
	line := fmt.Sprintf("%2d. %s", n, name)
	if selected {
		line = selectedStyle.Render("> " + line)
	} else {
		line = "  " + line
	}
	line += statusTag(step.Status.String())
	if step.Epoch != nil {
		line += metaStyle.Render(fmt.Sprintf(" epoch %d", *step.Epoch))
	}
	if step.ActionResult != nil && step.ActionResult.Input.Query != "" {
		line += "\n      " + metaStyle.Render(truncate(step.ActionResult.Input.Query, 100))
	}
	return line
}

// truncate shortens s to at most max runes, marking the cut with "...".
func truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
