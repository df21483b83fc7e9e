// chatdesk agent console - polls the store and mirrors one conversation
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avoronin/chatdesk/internal/client"
	"github.com/avoronin/chatdesk/internal/config"
	"github.com/avoronin/chatdesk/internal/sync"
	"github.com/joho/godotenv"
)

func main() {
	storeURL := flag.String("store", "http://localhost:8080", "base URL of the message store service")
	agentName := flag.String("name", "Support", "agent display name on outbound messages")
	focus := flag.String("focus", "", "session id to focus on startup")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	c := client.New(*storeURL)
	registry := sync.NewRegistry(cfg.SessionPollInterval)
	presence := sync.NewPresenceController(c)
	syncer := sync.NewSynchronizer(c, registry, presence, sync.SlogNotifier{}, sync.Options{
		ChatInterval:    cfg.ChatPollInterval,
		SessionInterval: cfg.SessionPollInterval,
		AgentName:       *agentName,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	onlineCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = presence.SetOnline(onlineCtx, true)
	cancel()
	if err != nil {
		slog.Error("Failed to go online", "error", err)
		os.Exit(1)
	}
	// Offline is best effort; a crash leaves the flag stale until the
	// next clean start.
	defer presence.Shutdown()

	if *focus != "" {
		if err := syncer.Focus(ctx, *focus); err != nil {
			slog.Error("Failed to focus session", "session_id", *focus, "error", err)
			os.Exit(1)
		}
		for _, msg := range syncer.Messages() {
			slog.Info("history", "id", msg.MessageID, "from", msg.SenderType, "text", msg.TextContent)
		}
	}

	slog.Info("Agent online, polling",
		"store", *storeURL,
		"chat_interval", cfg.ChatPollInterval,
		"session_interval", cfg.SessionPollInterval)

	syncer.Run(ctx)
}
