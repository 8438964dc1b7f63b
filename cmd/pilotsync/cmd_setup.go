package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/user/pilotsync/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		scanner := bufio.NewScanner(cmd.InOrStdin())
		out := cmd.OutOrStdout()

		fmt.Fprintln(out, "pilotsync setup")
		fmt.Fprintln(out, "Press Enter to accept the default value shown in brackets.")
		fmt.Fprintln(out)

		runSetup(scanner, out, cfg)

		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Fprintln(out)
		fmt.Fprintln(out, "Configuration saved to", cfgPath)
		return nil
	},
}

// runSetup asks for every setting the daemon needs, keeping the current
// value when the answer is empty or invalid.
func runSetup(scanner *bufio.Scanner, out io.Writer, cfg *config.Config) {
	cfg.Pilot.BaseURL = prompt(scanner, out, "Pilot API base URL", cfg.Pilot.BaseURL)
	cfg.Pilot.APIKey = prompt(scanner, out, "Pilot API key", cfg.Pilot.APIKey)

	interval := prompt(scanner, out, "Poll interval (ms)", strconv.Itoa(cfg.Pilot.PollIntervalMS))
	if n, err := strconv.Atoi(interval); err == nil && n > 0 {
		cfg.Pilot.PollIntervalMS = n
	}

	cfg.HTTP.Listen = prompt(scanner, out, "Control API listen address", cfg.HTTP.Listen)

	cfg.Telegram.Token = prompt(scanner, out, "Telegram bot token (optional)", cfg.Telegram.Token)
	if cfg.Telegram.Token != "" {
		chat := prompt(scanner, out, "Telegram chat ID for notifications", strconv.FormatInt(cfg.Telegram.ChatID, 10))
		if id, err := strconv.ParseInt(chat, 10, 64); err == nil {
			cfg.Telegram.ChatID = id
		}
	}
}

// prompt displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func prompt(scanner *bufio.Scanner, out io.Writer, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "%s [%s]: ", label, defaultVal)
	} else {
		fmt.Fprintf(out, "%s: ", label)
	}
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}
