// Command datagen inserts a synthetic telemetry sample every few
// seconds and raises the table's change notification, so a local
// stack has live data to subscribe to. Test fixture, not part of the
// served core.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pgtelemetry/backend/internal/config"
	"github.com/pgtelemetry/backend/internal/database"
	"github.com/pgtelemetry/backend/internal/session"
)

const insertInterval = 5 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	table := flag.String("table", "telemetry", "Table to insert samples into")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		ForceColors:   true,
		FullTimestamp: true,
	})

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("Configuration error")
	}

	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Configuration error")
	}

	if !cfg.Database.Configured() {
		logger.Fatal("datagen needs a configured database")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := database.NewPool(logger, cfg.Database)
	if err := pool.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start database pool")
	}

	defer pool.Stop()

	go run(ctx, logger, pool, *table)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Stopping data generator")
}

func run(ctx context.Context, logger *logrus.Logger, pool *database.Pool, table string) {
	insert := fmt.Sprintf(
		`INSERT INTO %q ("timestamp", "attribute", "value") VALUES (NOW(), 'test', $1)`,
		table,
	)
	notify := fmt.Sprintf(`NOTIFY %q`, session.ChannelName(table))

	ticker := time.NewTicker(insertInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			value := rand.Float64() * 25 //nolint:gosec // Synthetic sample data, not crypto.

			if err := pool.Exec(ctx, insert, value); err != nil {
				logger.WithError(err).Error("Insert failed")

				continue
			}

			if err := pool.Exec(ctx, notify); err != nil {
				logger.WithError(err).Error("Notify failed")

				continue
			}

			logger.WithField("value", value).Debug("Inserted sample")
		}
	}
}
