package main

import (
	"log/slog"
	"os"

	"github.com/nightshift/droplet-scheduler/cmd/droplet-scheduler/commands"
)

func main() {
	// Text logs until the configured level and format are known
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	commands.Execute()
}
