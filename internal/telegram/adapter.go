package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/pilotsync/internal/notify"
	"github.com/user/pilotsync/internal/pilot"
	"github.com/user/pilotsync/internal/types"
)

const maxTelegramMessage = 4096

// Controller is the part of the hub the bot commands drive.
type Controller interface {
	Snapshots() []pilot.Snapshot
	Refresh(ctx context.Context, canvasID types.CanvasID) error
}

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Adapter reports hub notifications to one Telegram chat and answers a few
// read-mostly commands from that chat.
type Adapter struct {
	bot    *tgbotapi.BotAPI
	send   sender
	chatID int64
	hub    Controller
}

// New creates a Telegram adapter that reports to chatID.
func New(token string, chatID int64, hub Controller) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	a := newAdapter(bot, chatID, hub)
	a.bot = bot
	return a, nil
}

func newAdapter(s sender, chatID int64, hub Controller) *Adapter {
	return &Adapter{send: s, chatID: chatID, hub: hub}
}

// Notify sends an event to the configured chat. It is a notify.Handler.
func (a *Adapter) Notify(event notify.Event) error {
	if a.chatID == 0 {
		return nil
	}
	return a.sendResponse(a.chatID, formatEvent(event))
}

// Start begins long-polling for Telegram updates.
func (a *Adapter) Start(ctx context.Context) {
	if a.bot == nil {
		return
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := a.bot.GetUpdatesChan(u)

	for {
		select {
		case update := <-updates:
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			a.handleMessage(ctx, update.Message)
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return
		}
	}
}

func (a *Adapter) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	if a.chatID != 0 && chatID != a.chatID {
		slog.Warn("ignoring message from unknown chat", "chat_id", chatID)
		return
	}
	if !msg.IsCommand() {
		a.reply(chatID, "Send /views to list watched canvases.")
		return
	}
	a.handleCommand(ctx, chatID, msg.Command(), strings.TrimSpace(msg.CommandArguments()))
}

func (a *Adapter) handleCommand(ctx context.Context, chatID int64, command, args string) {
	switch command {
	case "start":
		a.reply(chatID, "Hello! I report pilot session activity. Available: /views, /refresh <canvas>")

	case "views":
		a.reply(chatID, formatViews(a.hub.Snapshots()))

	case "refresh":
		if args == "" {
			a.reply(chatID, "Usage: /refresh <canvas>")
			return
		}
		if err := a.hub.Refresh(ctx, types.CanvasID(args)); err != nil {
			a.reply(chatID, fmt.Sprintf("Refresh failed: %v", err))
			return
		}
		a.reply(chatID, fmt.Sprintf("Refreshed %s.", args))

	default:
		a.reply(chatID, "Unknown command. Available: /start, /views, /refresh <canvas>")
	}
}

func (a *Adapter) reply(chatID int64, text string) {
	if err := a.sendResponse(chatID, text); err != nil {
		slog.Error("send message error", "chat_id", chatID, "error", err)
	}
}

func (a *Adapter) sendResponse(chatID int64, text string) error {
	for _, part := range splitMessage(text) {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = "Markdown"
		if _, err := a.send.Send(msg); err != nil {
			// Retry without markdown if it fails
			msg.ParseMode = ""
			if _, err := a.send.Send(msg); err != nil {
				return fmt.Errorf("send message: %w", err)
			}
		}
	}
	return nil
}

func formatEvent(e notify.Event) string {
	var b strings.Builder
	switch e.Kind {
	case notify.KindStepDispatched:
		fmt.Fprintf(&b, "*Step dispatched* on canvas %s", e.CanvasID)
	case notify.KindDispatchError:
		fmt.Fprintf(&b, "*Dispatch failed* on canvas %s", e.CanvasID)
	case notify.KindFetchError:
		fmt.Fprintf(&b, "*Session fetch failed* on canvas %s", e.CanvasID)
	case notify.KindSessionSwitch:
		if e.SessionID == types.NewSessionSentinel {
			fmt.Fprintf(&b, "*New session* requested on canvas %s", e.CanvasID)
		} else {
			fmt.Fprintf(&b, "*Session switched* on canvas %s", e.CanvasID)
		}
	case notify.KindStepClick:
		fmt.Fprintf(&b, "*Step selected* on canvas %s", e.CanvasID)
	default:
		fmt.Fprintf(&b, "*%s* on canvas %s", e.Kind, e.CanvasID)
	}
	if e.SessionID != "" {
		fmt.Fprintf(&b, "\nSession: %s", e.SessionID)
	}
	if e.StepID != "" {
		fmt.Fprintf(&b, "\nStep: %s", e.StepID)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, "\n%s", e.Message)
	}
	return b.String()
}

func formatViews(snaps []pilot.Snapshot) string {
	if len(snaps) == 0 {
		return "No canvases are being watched."
	}
	var b strings.Builder
	for i, s := range snaps {
		if i > 0 {
			b.WriteString("\n")
		}
		title := s.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(&b, "%s: %s [%s, %d steps]", s.CanvasID, title, s.State, len(s.Steps))
		if s.Failed {
			b.WriteString(" (fetch failing)")
		}
	}
	return b.String()
}

func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := maxTelegramMessage
		if end > len(text) {
			end = len(text)
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}
