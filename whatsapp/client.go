package whatsapp

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"wacrm/state"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/mdp/qrterminal/v3"
	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.uber.org/zap"
)

// NewWhatsAppClient opens the session store, pairs by QR code when no session
// exists yet and returns a connected client.
func NewWhatsAppClient(ctx context.Context, cfg *state.Config, logger *zap.Logger) (*whatsmeow.Client, error) {
	logger = logger.Named("WhatsApp")
	waLogger := NewWhatsmeowLogger(logger)

	dbType := cfg.WhatsApp.LoginDatabase.Type
	db, err := sql.Open(dbType, cfg.WhatsApp.LoginDatabase.URL)
	if err != nil {
		return nil, fmt.Errorf("could not open whatsapp login database: %w", err)
	}

	container := sqlstore.NewWithDB(db, dbType, waLogger.Sub("Database"))
	if err = container.Upgrade(ctx); err != nil {
		return nil, fmt.Errorf("could not upgrade whatsapp login database: %w", err)
	}

	device, err := loadDevice(ctx, container)
	if err != nil {
		return nil, err
	}

	client := whatsmeow.NewClient(device, waLogger.Sub("Client"))
	client.EnableAutoReconnect = true

	if client.Store.ID != nil {
		if err = client.Connect(); err != nil {
			return nil, fmt.Errorf("could not connect to whatsapp: %w", err)
		}
		logger.Info("connected to whatsapp with stored session",
			zap.String("jid", client.Store.ID.String()),
		)
		return client, nil
	}

	qrChan, err := client.GetQRChannel(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not get qr channel: %w", err)
	}
	if err = client.Connect(); err != nil {
		return nil, fmt.Errorf("could not connect to whatsapp: %w", err)
	}

	for item := range qrChan {
		switch item.Event {
		case "code":
			logger.Info("scan the qr code with whatsapp (linked devices)")
			qrterminal.GenerateHalfBlock(item.Code, qrterminal.L, os.Stdout)
			if path := cfg.WhatsApp.QrCodePath; path != "" {
				if err := qrcode.WriteFile(item.Code, qrcode.Medium, 256, path); err != nil {
					logger.Warn("failed to write qr code image",
						zap.String("path", path),
						zap.Error(err),
					)
				}
			}
		case "success":
			logger.Info("paired with whatsapp successfully")
			return client, nil
		case "timeout":
			client.Disconnect()
			return nil, fmt.Errorf("qr code pairing timed out")
		case "error":
			client.Disconnect()
			return nil, fmt.Errorf("qr code pairing failed: %w", item.Error)
		}
	}

	client.Disconnect()
	return nil, fmt.Errorf("qr channel closed before pairing finished")
}

func loadDevice(ctx context.Context, container *sqlstore.Container) (*store.Device, error) {
	devices, err := container.GetAllDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not load whatsapp devices: %w", err)
	}
	if len(devices) > 0 {
		return devices[0], nil
	}
	return container.NewDevice(), nil
}
