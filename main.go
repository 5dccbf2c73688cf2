package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"enginesync/config"
	"enginesync/internal/backend"
	"enginesync/internal/dashboard"
	"enginesync/internal/engine"
	"enginesync/internal/marketdata"
	"enginesync/internal/oauth"
	"enginesync/internal/telemetry"
	"enginesync/logger"
	"enginesync/models"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":  cfg.EngineSync.Name,
		"version":  cfg.EngineSync.Version,
		"api_base": cfg.EngineSync.APIBase,
		"env":      config.AppEnvironment(),
	}).Info("starting enginesync")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.CloudWatch {
		logger.InitCloudWatch(cfg.Metrics.Region, cfg.Metrics.Namespace, cfg.Metrics.DashboardName)
	}
	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	apiClient := backend.NewClient(cfg.EngineSync.APIBase, cfg.Market.RequestTimeout)

	manager := engine.NewManager(cfg.Engine, apiClient, nil)
	defer manager.Close()

	stream := telemetry.NewStream(cfg.Telemetry.Capacity)
	unsubscribe := manager.SubscribeFrames(func(frame models.RawFrame) {
		stream.Append(frame)
	})
	defer unsubscribe()

	var priceSource marketdata.PriceSource
	if cfg.Market.Source == "backend" {
		priceSource = marketdata.NewBackendSource(apiClient)
	} else {
		priceSource = marketdata.NewBinanceSource()
	}

	synchronizer := marketdata.NewSynchronizer(cfg.Market, log, priceSource, apiClient, nil)
	if err := synchronizer.Start(ctx); err != nil {
		log.WithError(err).Error("Failed to start market synchronizer")
		os.Exit(1)
	}
	defer synchronizer.Stop()

	// Pulses are drained here so full buffers never stall the poll loops;
	// the dashboard reads trends from /api/market instead.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-synchronizer.Pulses():
				log.WithComponent("market_sync").WithFields(logger.Fields{
					"symbol": ev.Symbol,
					"pulse":  string(ev.Pulse),
				}).Debug("price pulse")
			}
		}
	}()

	bridge := oauth.NewBridge(cfg.OAuth, apiClient, log)

	server, err := dashboard.NewServer(cfg.Dashboard, log, dashboard.Providers{
		State:     manager,
		Telemetry: stream,
		Market:    synchronizer,
		OAuth:     bridge,
	})
	if err != nil {
		log.WithError(err).Error("Failed to build dashboard server")
		os.Exit(1)
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Run(ctx)
	}()

	manager.Connect(ctx)

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			log.WithError(err).Error("dashboard server failed")
		}
	}

	log.Info("starting graceful shutdown")
	cancel()

	log.Info("stopping market synchronizer")
	synchronizer.Stop()

	log.Info("disconnecting engine")
	manager.Close()

	select {
	case <-serverErr:
	case <-time.After(10 * time.Second):
		log.Warn("dashboard shutdown timeout exceeded")
	}

	log.Info("enginesync stopped")
}
