package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"homeconnect-bridge/internal/api"
	"homeconnect-bridge/internal/clock"
	"homeconnect-bridge/internal/config"
	"homeconnect-bridge/internal/ha"
	"homeconnect-bridge/internal/hass"
	"homeconnect-bridge/internal/homeconnect"
	"homeconnect-bridge/internal/metrics"
	"homeconnect-bridge/internal/mqtt"
	_ "homeconnect-bridge/internal/plugins/selects"
	_ "homeconnect-bridge/internal/plugins/sensors"
	"homeconnect-bridge/pkg/plugin"
)

func main() {
	// Bootstrap logger until the configured level is known
	bootstrap, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.LoadEnv(bootstrap)
	if err != nil {
		bootstrap.Fatal("Invalid configuration", zap.Error(err))
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		bootstrap.Fatal("Invalid LOG_LEVEL", zap.Error(err))
	}
	defer logger.Sync()

	logger.Info("Starting Home Connect bridge",
		zap.String("api_url", cfg.HCAPIURL),
		zap.String("broker", cfg.MQTTBrokerURL),
		zap.Bool("read_only", cfg.ReadOnly),
		zap.Strings("plugins", plugin.Names()))

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Bridge stopped with error", zap.Error(err))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = lvl
	return zc.Build()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loader := config.NewLoader(cfg.ConfigDir, logger)
	if err := loader.Load(); err != nil {
		return fmt.Errorf("failed to load entity table: %w", err)
	}

	m := metrics.New()

	broker, err := mqtt.Connect(mqtt.Options{
		BrokerURL:   cfg.MQTTBrokerURL,
		ClientID:    cfg.MQTTClientID,
		StatusTopic: hass.BridgeStatusTopic,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	defer broker.Close()

	var notifier hass.Notifier = hass.NopNotifier{}
	if cfg.NotificationsEnabled() {
		haClient := ha.NewClient(cfg.HAURL, cfg.HAToken, logger)
		if err := haClient.ConnectWithRetry(); err != nil {
			logger.Warn("Home Assistant unreachable, retrying in the background", zap.Error(err))
		}
		defer haClient.Disconnect()
		notifier = hass.NewHANotifier(haClient, logger)
	} else {
		logger.Info("HA_URL or HA_TOKEN not set, command failures will only be logged")
	}

	client := homeconnect.NewClient(ctx, cfg.HCAPIURL, homeconnect.Credentials{
		ClientID:     cfg.HCClientID,
		ClientSecret: cfg.HCClientSecret,
		RefreshToken: cfg.HCRefreshToken,
	}, logger)
	hub := homeconnect.New(client, logger)
	statusSub := hub.Subscribe(func(*homeconnect.Appliance) {
		m.SetServiceStatus(int(hub.Status()))
	}, homeconnect.EventStatusChanged)
	defer statusSub.Unsubscribe()

	clk := clock.NewRealClock()
	platform := hass.NewPlatform(broker, notifier, clk, m, hass.Options{
		DiscoveryPrefix: cfg.MQTTDiscoveryPrefix,
		CommandTimeout:  cfg.CommandTimeout,
		ReadOnly:        cfg.ReadOnly,
	}, logger)
	if err := platform.Start(); err != nil {
		return fmt.Errorf("failed to start host platform: %w", err)
	}
	defer platform.Stop()

	pctx := plugin.NewContext(hub, platform, loader.Entities(), clk, logger, cfg.ReadOnly)
	plugins, err := plugin.CreateAll(pctx)
	if err != nil {
		return err
	}
	if err := plugin.StartAll(plugins); err != nil {
		return err
	}
	defer plugin.StopAll(plugins)

	refresher := homeconnect.NewRefresher(client, hub, cfg.HCRefreshSchedule, logger).WithObserver(m.RefreshDone)
	if err := refresher.Start(ctx); err != nil {
		return err
	}
	defer refresher.Stop()

	server := api.NewServer(hub, platform, plugins, refresher, m, logger, cfg.APIPort)
	if err := server.Start(); err != nil {
		return err
	}
	defer func() {
		if err := server.Stop(); err != nil {
			logger.Error("Failed to stop HTTP API server", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Bridge running. Press Ctrl+C to exit.")
	<-sigChan

	logger.Info("Shutting down gracefully...")
	return nil
}
