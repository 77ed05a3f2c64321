package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/boro-labs/borod/internal/assets"
	"github.com/boro-labs/borod/internal/config"
	"github.com/boro-labs/borod/internal/engine"
	"github.com/boro-labs/borod/internal/logger"
	"github.com/boro-labs/borod/internal/morpho"
	"github.com/boro-labs/borod/internal/notify"
	"github.com/boro-labs/borod/internal/overlay"
	"github.com/boro-labs/borod/internal/prices"
	"github.com/boro-labs/borod/internal/server"
	"github.com/boro-labs/borod/internal/service"
	"github.com/boro-labs/borod/internal/storage"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	store, err := storage.New(cfg.Storage.HistoryCap, cfg.Storage.DBPath)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dialCtx, dialCancel := context.WithTimeout(ctx, cfg.Chain.Timeout)
	chain, err := morpho.Dial(dialCtx, cfg.Chain.RPCURL, assets.MorphoBlue)
	dialCancel()
	if err != nil {
		logger.Fatal("Failed to connect to %s: %v", cfg.Chain.RPCURL, err)
	}

	var (
		submitter service.TxSubmitter = service.ReadOnlySubmitter{}
		account   common.Address
	)
	if cfg.Chain.PrivateKey != "" {
		signer, err := morpho.NewSubmitter(chain.Backend(), assets.MorphoBlue, cfg.Chain.PrivateKey, cfg.Chain.ChainID)
		if err != nil {
			logger.Fatal("Failed to initialize transaction signer: %v", err)
		}
		submitter = signer
		account = signer.Account()
		logger.Info("Signing enabled for account %s", account)
	} else {
		account = common.HexToAddress(cfg.Chain.Account)
		logger.Info("No private key configured, watching %s read-only", account)
	}

	var notifier *notify.Notifier
	if cfg.Telegram.Enabled {
		notifier, err = notify.New(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.AlertCooldown)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram notifier: %v", err)
		}
		logger.Info("Telegram notifier initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	graph := morpho.NewGraphClient(cfg.Chain.GraphAPIURL, cfg.Chain.Timeout)
	calc := engine.New(engine.Config{
		WarningRatio: decimal.NewFromFloat(cfg.Engine.WarningRatio),
		DangerRatio:  decimal.NewFromFloat(cfg.Engine.DangerRatio),
	})

	sessions := make([]*service.Session, 0, len(cfg.Chain.Assets))
	for _, sym := range cfg.Chain.Assets {
		asset, err := assets.Parse(sym)
		if err != nil {
			logger.Fatal("Unknown asset %q: %v", sym, err)
		}

		discoverCtx, discoverCancel := context.WithTimeout(ctx, cfg.Chain.Timeout)
		meta, err := graph.DiscoverMarket(discoverCtx, cfg.Chain.ChainID, asset)
		discoverCancel()
		if err != nil {
			logger.Fatal("Market discovery failed for %s: %v", asset, err)
		}
		if !meta.MaxLTV.IsPositive() {
			logger.Warn("Discovery returned no liquidation LTV for %s, using fallback %.2f", asset, cfg.Engine.FallbackMaxLTV)
			meta.MaxLTV = decimal.NewFromFloat(cfg.Engine.FallbackMaxLTV)
		}
		logger.Info("Tracking %s market %s (max LTV %s)", asset, meta.ID, meta.MaxLTV)

		ov := overlay.New(overlay.Config{ZeroDebtWindow: cfg.Engine.ZeroDebtWindow})
		warmStart(store, asset, ov)

		sessions = append(sessions, service.NewSession(service.SessionConfig{
			Asset:       asset,
			Account:     account,
			Meta:        meta,
			ReReadDelay: cfg.Chain.ReReadDelay,
		}, chain, submitter, store, sessionAlerter(notifier), ov, calc))
	}

	priceClient := prices.NewClient(cfg.Prices.APIURL, cfg.Prices.Timeout)

	svc := service.New(service.Config{
		ChainPollInterval: cfg.Chain.PollInterval,
		PricePollInterval: cfg.Prices.PollInterval,
	}, sessions, priceClient, serviceNotifier(notifier))

	var srv *server.Server
	if cfg.Server.Enabled {
		srv = server.New(svc, store, cfg.Server.ListenAddr)
		go func() {
			if err := srv.Run(); err != nil {
				logger.Error("HTTP server stopped: %v", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		if srv != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("HTTP server shutdown failed: %v", err)
			}
			shutdownCancel()
		}
		cancel()
	}()

	logger.Info("Starting position service (chain interval: %v, price interval: %v, assets: %v)",
		cfg.Chain.PollInterval, cfg.Prices.PollInterval, cfg.Chain.Assets)
	svc.Run(ctx)
	logger.Info("Service stopped")
}

// warmStart seeds the overlay with the last persisted reads so the dashboard
// shows the previous state instead of zeros until the first poll lands.
func warmStart(store *storage.Storage, asset assets.Asset, ov *overlay.Overlay) {
	if m, err := store.LoadMarketRead(asset.String()); err != nil {
		logger.Warn("Failed to load persisted market read for %s: %v", asset, err)
	} else if m != nil {
		ov.ObserveMarket(m)
	}
	if p, err := store.LoadPositionRead(asset.String()); err != nil {
		logger.Warn("Failed to load persisted position read for %s: %v", asset, err)
	} else if p != nil {
		ov.ObservePosition(p)
	}
}

// sessionAlerter avoids handing a typed nil to the Alerter interface.
func sessionAlerter(n *notify.Notifier) service.Alerter {
	if n == nil {
		return nil
	}
	return n
}

func serviceNotifier(n *notify.Notifier) service.ErrorNotifier {
	if n == nil {
		return nil
	}
	return n
}
