/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/railbook/apiserver/config"
	"github.com/railbook/apiserver/internal/events"
	"github.com/railbook/apiserver/internal/logging"
	"github.com/railbook/apiserver/internal/mq"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect auth events on the configured broker",
}

var eventsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Log auth events as they are published",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		logger := logging.New(cfg.Log, os.Stdout)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		broker, err := mq.Open(ctx, cfg)
		if err != nil {
			return err
		}
		if broker == nil {
			return fmt.Errorf("EVENTS_BACKEND is %q; nothing to tail", cfg.Events.Backend)
		}
		defer broker.Close()

		err = broker.Subscribe(ctx, cfg.Events.Channel, func(ctx context.Context, msg mq.Message) error {
			event, err := events.Decode(msg)
			if err != nil {
				// Unreadable messages are dropped rather than redelivered forever.
				logger.WithError(err).Warn("skipping message")
				return nil
			}
			logger.WithFields(logrus.Fields{
				"type":        event.Type,
				"user_id":     event.UserID,
				"email":       event.Email,
				"occurred_at": event.OccurredAt,
			}).Info("auth event")
			return nil
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsTailCmd)
}
