package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"onemeter-mqtt-bridge/pkg/builder"
	"onemeter-mqtt-bridge/pkg/config"
	"onemeter-mqtt-bridge/pkg/health"
	bridgehttp "onemeter-mqtt-bridge/pkg/http"
	"onemeter-mqtt-bridge/pkg/logger"
	"onemeter-mqtt-bridge/pkg/metrics"
	"onemeter-mqtt-bridge/pkg/mqtt"
	"onemeter-mqtt-bridge/pkg/scheduler"
	"onemeter-mqtt-bridge/pkg/services"
	"onemeter-mqtt-bridge/pkg/ws"
)

// bridgeVersion is reported on the /health endpoint.
const bridgeVersion = "1.1.0"

func main() {
	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle SIGINT and SIGTERM for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Parse command line arguments
	configPath := ""
	for i, arg := range os.Args[1:] {
		if arg == "--help" || arg == "-h" {
			fmt.Printf("Usage: %s [config_path]\n", os.Args[0])
			fmt.Printf("  config_path: Path to configuration file (optional)\n")
			fmt.Printf("Environment: MQTT_USERNAME / MQTT_PASSWORD override broker credentials\n")
			return
		} else if i == 0 { // First argument is config path
			configPath = arg
		}
	}

	// Optional .env next to the binary; real environment wins
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.LogError("Configuration error: %v", err)
		os.Exit(1)
	}
	applyEnvOverrides(cfg)

	logger.GlobalLogging = &cfg.Logging
	logger.LogStartup("Logging initialized with level: %s", cfg.Logging.Level)

	// Prometheus registry shared by the pulse recorder, the snapshot
	// collector and the /metrics endpoint
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	pulseRecorder := metrics.NewPulseRecorder(registry)

	gracePeriod := time.Duration(cfg.Bridge.ErrorGracePeriodSeconds) * time.Second
	subscriber := mqtt.NewClient(&cfg.MQTT, &cfg.HomeAssistant)
	healthMonitor := health.NewBrokerHealthMonitor(gracePeriod)
	availability := services.NewAvailabilityService(subscriber, healthMonitor)

	appBuilder := builder.NewApplicationBuilder(cfg).
		WithSubscriber(subscriber).
		WithHealthMonitor(healthMonitor).
		WithRecorder(pulseRecorder).
		WithRecorder(availability)

	var hub *ws.Hub
	if cfg.HTTP.Enabled {
		hub = ws.NewHub()
		appBuilder.WithObserver(ws.NewBroadcaster(hub))
	}

	app, err := appBuilder.Build()
	if err != nil {
		logger.LogError("Application build error: %v", err)
		os.Exit(1)
	}
	registry.MustRegister(metrics.NewSnapshotCollector(app))

	if err := app.Start(ctx); err != nil {
		logger.LogError("Application start error: %v", err)
		os.Exit(1)
	}

	// Forecast ticks (and re-attach retries) per device
	tickScheduler := scheduler.NewTickScheduler(app, app.TickIntervals())
	go tickScheduler.Start(ctx)

	// Heartbeat refreshes the retained availability messages
	devicePresence := make(map[string]services.DevicePresencePublisher)
	for _, deviceID := range app.DeviceIDs() {
		devicePresence[deviceID] = app.Publisher(deviceID)
	}
	heartbeat := services.NewHeartbeatService(subscriber, devicePresence, healthMonitor, cfg.MQTT.HeartbeatInterval)
	go heartbeat.Start(ctx)

	if diagnosticManager := app.DiagnosticManager(); diagnosticManager != nil {
		go diagnosticManager.StartDiagnosticsLoop(ctx)
	}

	if cfg.HTTP.Enabled {
		healthHandler := bridgehttp.NewHealthHandler(healthMonitor, bridgeVersion)
		server := bridgehttp.NewServer(cfg.HTTP.Port, healthHandler, registry, ws.NewHandler(hub, app))
		go func() {
			if err := server.Start(ctx); err != nil {
				logger.LogError("❌ HTTP endpoint error: %v", err)
			}
		}()
	}

	// Wait for stop signal
	<-sigChan
	logger.LogInfo("📢 Stop signal received...")
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	app.Stop(stopCtx)
}

// applyEnvOverrides lets credentials live outside the config file.
func applyEnvOverrides(cfg *config.Config) {
	if username := os.Getenv("MQTT_USERNAME"); username != "" {
		cfg.MQTT.Username = username
	}
	if password := os.Getenv("MQTT_PASSWORD"); password != "" {
		cfg.MQTT.Password = password
	}
	if broker := os.Getenv("MQTT_BROKER"); broker != "" {
		cfg.MQTT.Broker = broker
	}
}
