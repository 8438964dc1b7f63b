package main

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/user/pilotsync/internal/config"
)

func TestRunSetup_AcceptsAnswers(t *testing.T) {
	cfg := config.Default()
	input := strings.Join([]string{
		"https://pilot.example.com/v1",
		"pk-123",
		"1500",
		"0.0.0.0:8080",
		"bot-token",
		"987654",
	}, "\n") + "\n"

	var out bytes.Buffer
	runSetup(bufio.NewScanner(strings.NewReader(input)), &out, cfg)

	if cfg.Pilot.BaseURL != "https://pilot.example.com/v1" {
		t.Errorf("BaseURL = %q", cfg.Pilot.BaseURL)
	}
	if cfg.Pilot.APIKey != "pk-123" {
		t.Errorf("APIKey = %q", cfg.Pilot.APIKey)
	}
	if cfg.Pilot.PollIntervalMS != 1500 {
		t.Errorf("PollIntervalMS = %d", cfg.Pilot.PollIntervalMS)
	}
	if cfg.HTTP.Listen != "0.0.0.0:8080" {
		t.Errorf("Listen = %q", cfg.HTTP.Listen)
	}
	if cfg.Telegram.Token != "bot-token" || cfg.Telegram.ChatID != 987654 {
		t.Errorf("Telegram = %q/%d", cfg.Telegram.Token, cfg.Telegram.ChatID)
	}
	if !strings.Contains(out.String(), "Pilot API base URL [http://localhost:5800/v1]: ") {
		t.Errorf("expected default shown in prompt, got %q", out.String())
	}
}

func TestRunSetup_KeepsDefaults(t *testing.T) {
	cfg := config.Default()
	// Empty answers everywhere; invalid interval is ignored.
	input := "\n\nsoon\n\n\n"

	runSetup(bufio.NewScanner(strings.NewReader(input)), &bytes.Buffer{}, cfg)

	def := config.Default()
	if cfg.Pilot.BaseURL != def.Pilot.BaseURL {
		t.Errorf("BaseURL changed to %q", cfg.Pilot.BaseURL)
	}
	if cfg.Pilot.PollIntervalMS != def.Pilot.PollIntervalMS {
		t.Errorf("PollIntervalMS changed to %d", cfg.Pilot.PollIntervalMS)
	}
	if cfg.Telegram.Token != "" || cfg.Telegram.ChatID != 0 {
		t.Errorf("telegram should stay unset, got %q/%d", cfg.Telegram.Token, cfg.Telegram.ChatID)
	}
}
