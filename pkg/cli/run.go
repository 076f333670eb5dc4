package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/verastack/switchboard/pkg/auth"
	"github.com/verastack/switchboard/pkg/config"
	"github.com/verastack/switchboard/pkg/directline"
	"github.com/verastack/switchboard/pkg/logger"
	"github.com/verastack/switchboard/pkg/storage"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to a conversation and chat over stdin/stdout",
	RunE:  runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	opts := directline.Options{
		Token:          cfg.Token,
		Domain:         cfg.Domain,
		ConversationID: cfg.ConversationID,
		BotAgent:       cfg.BotAgent,
	}

	// Prefer a persisted, still-valid token for the resumed conversation
	var store *storage.TokenStore
	if cfg.PersistenceEnabled() {
		store, err = storage.NewTokenStore(cfg.TokenDBPath, cfg.SecretKeyBase)
		if err != nil {
			return fmt.Errorf("failed to open token store: %w", err)
		}
		defer store.Close()
		opts.TokenStore = store

		if cfg.ConversationID != "" {
			if token, expiresAt, err := store.LoadToken(cfg.ConversationID); err == nil {
				logger.Info("Loaded persisted token", "conversation_id", cfg.ConversationID, "expires", expiresAt)
				opts.Token = token
			}
		}
	}

	if claims, err := auth.ParseClaims(opts.Token); err == nil {
		logger.Info("Token parsed", "expires_in", claims.ExpiresIn().Round(time.Second))
	}

	client, err := directline.New(opts)
	if err != nil {
		return err
	}

	if cfg.HealthCheckPort > 0 {
		health := directline.NewHealthServer(client, cfg.HealthCheckPort)
		if err := health.Start(); err != nil {
			return fmt.Errorf("failed to start health check server: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := health.Stop(ctx); err != nil {
				logger.Warn("Error stopping health check server", "error", err)
			}
		}()
	}

	statusCh, cancelStatus := client.ConnectionStatus()
	defer cancelStatus()
	go func() {
		for status := range statusCh {
			logger.Info("Connection status", "status", status.String())
		}
	}()

	sub := client.Activities()
	go func() {
		for activity := range sub.C {
			printActivity(activity)
		}
		if err := sub.Err(); err != nil {
			logger.Error("Activity stream failed", "error", err)
		}
	}()

	// Post stdin lines as message activities
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			text := scanner.Text()
			if text == "" {
				continue
			}

			activity := directline.Activity{
				Type: directline.ActivityTypeMessage,
				From: &directline.ChannelAccount{ID: cfg.UserID, Name: cfg.UserName},
				Text: text,
			}

			ctx, cancel := context.WithTimeout(context.Background(), directline.RequestTimeout)
			id, err := client.PostActivity(ctx, activity)
			cancel()
			if err != nil {
				logger.Error("Failed to post activity", "error", err)
				continue
			}
			logger.Debug("Activity posted", "id", id)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Switchboard is running. Press Ctrl+C to stop.")

	sig := <-sigChan
	logger.Info("Received signal, shutting down", "signal", sig.String())

	client.End()
	return nil
}

// printActivity renders an inbound activity for the terminal.
func printActivity(a directline.Activity) {
	from := "server"
	if a.From != nil && a.From.ID != "" {
		from = a.From.ID
	}

	if a.Text != "" {
		fmt.Printf("[%s] %s\n", from, a.Text)
	} else {
		fmt.Printf("[%s] <%s activity>\n", from, a.Type)
	}

	for _, att := range a.Attachments {
		fmt.Printf("  attachment: %s (%d bytes encoded)\n", att.ContentType, len(att.ContentURL))
	}
}
