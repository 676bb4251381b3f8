package main

import (
	"context"
	"errors"
	"time"

	"wacrm/api"
	"wacrm/whatsapp"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the WhatsApp listener",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if !cfg.API.Enabled && !cfg.WhatsApp.Enabled {
		return errors.New("nothing to serve: enable api and/or whatsapp in the config file")
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	g, ctx := errgroup.WithContext(cmd.Context())

	if cfg.API.Enabled {
		srv := api.NewServer(cfg.API.ListenAddress, store, logger)
		g.Go(srv.Start)
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if cfg.WhatsApp.Enabled {
		g.Go(func() error {
			client, err := whatsapp.NewWhatsAppClient(ctx, cfg, logger)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}

			handler := whatsapp.NewHandler(ctx, store, cfg, logger).WithLIDResolver(client.Store.LIDs)
			client.AddEventHandler(handler.Handle)

			<-ctx.Done()
			client.Disconnect()
			logger.Info("disconnected from whatsapp")
			return nil
		})
	}

	logger.Info("wacrm started",
		zap.Bool("api", cfg.API.Enabled),
		zap.Bool("whatsapp", cfg.WhatsApp.Enabled),
	)

	if err = g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
