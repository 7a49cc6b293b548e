// Command fxdesk runs the trading desk: live prices from a public exchange
// feed, a local position book with stop-loss and take-profit handling, remote
// wallet sync and an HTTP dashboard.
//
// Usage:
//
//	fxdesk --config config.yaml
//	fxdesk --symbols EURUSD,XAUUSD --wallet-url https://wallet.example.com
//	fxdesk --setup
//
// The wallet bearer token is read from FXDESK_WALLET_TOKEN.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/vadiminshakov/fxdesk/config"
	"github.com/vadiminshakov/fxdesk/internal"
	"github.com/vadiminshakov/fxdesk/internal/setup"
	"go.uber.org/zap"
)

const generatedConfig = "config.gen.yaml"

func main() {
	conf, opts, err := config.Get()
	if err != nil {
		log.Fatal(err)
	}

	if opts.Setup {
		if err := setup.RunTUI(generatedConfig); err != nil {
			log.Fatal(err)
		}
		if conf, err = config.Load(generatedConfig); err != nil {
			log.Fatal(err)
		}
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	desk, err := internal.NewDesk(conf, logger)
	if err != nil {
		logger.Fatal("failed to create desk", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := desk.Run(ctx); err != nil {
		logger.Fatal("desk stopped with error", zap.Error(err))
	}
}
