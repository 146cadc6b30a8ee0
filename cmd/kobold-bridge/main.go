package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"kobold-bridge/internal/api"
	"kobold-bridge/internal/auth"
	"kobold-bridge/internal/robot"
	"kobold-bridge/internal/store"
	"kobold-bridge/internal/web"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

const (
	defaultAPIHost       = "https://orbital.ksecosys.com"
	defaultCompanionHost = "https://api-2-prod.companion.kobold.vorwerk.com"
	defaultSocketURL     = "wss://api-2-prod.companion.kobold.vorwerk.com/api/ws"
)

type Config struct {
	Cloud struct {
		Token         string `yaml:"token"` // long-lived identity token
		APIHost       string `yaml:"api_host"`
		CompanionHost string `yaml:"companion_host"`
		SocketURL     string `yaml:"socket_url"`
		Market        string `yaml:"market"` // locale, e.g. de-DE
	} `yaml:"cloud"`
	Web struct {
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	MQTT struct {
		Enabled     bool   `yaml:"enabled"`
		Broker      string `yaml:"broker"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		TopicPrefix string `yaml:"topic_prefix"`
	} `yaml:"mqtt"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	ScriptsDir string `yaml:"scripts_dir"`
}

func (c *Config) validate() error {
	if c.Cloud.Token == "" {
		return fmt.Errorf("cloud.token is required")
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	return nil
}

func main() {
	// Temporary logger for config loading errors.
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		os.Exit(1)
	}

	if err := cfg.validate(); err != nil {
		bootLogger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	// Create configured logger.
	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("kobold-bridge starting", "version", version)

	// Open store
	db, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	httpClient := &http.Client{Timeout: 30 * time.Second}

	provider := auth.NewProvider(httpClient, cfg.Cloud.CompanionHost, cfg.Cloud.Market, logger)
	cloud := api.NewClient(httpClient, cfg.Cloud.APIHost, cfg.Cloud.Token, logger)

	// Register the bridge as a companion device. A failure here is logged
	// but not fatal; existing registrations keep working.
	regCtx, regCancel := context.WithTimeout(context.Background(), 30*time.Second)
	reg, err := cloud.RegisterDevice(regCtx, api.NewRegisterDeviceRequest(auth.NormalizeLocale(cfg.Cloud.Market)))
	regCancel()
	if err != nil {
		logger.Warn("device registration failed", "err", err)
	} else {
		logger.Info("device registered", "device_id", reg.DeviceID)
	}

	bus := robot.NewEventBus(logger)
	mgr := robot.NewManager(robot.Config{
		SocketURL: cfg.Cloud.SocketURL,
		Login: func(ctx context.Context) (string, error) {
			return provider.Obtain(ctx, cfg.Cloud.Token)
		},
	}, cloud, db, bus, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := mgr.Start(ctx); err != nil {
		logger.Error("start robot manager", "err", err)
		cancel()
		os.Exit(1)
	}
	cancel()

	// Start automation engine (no-op when built with no_automation tag).
	auto, autoWebOpts := initAutomation(mgr, cfg, logger)

	// Start web server
	var webOpts []web.ServerOption
	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	webOpts = append(webOpts, web.WithVersion(version))
	webOpts = append(webOpts, autoWebOpts...)

	webServer := web.NewServer(mgr, logger, webOpts...)

	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", "err", err)
		}
	}()

	// Start MQTT bridge (no-op when built with no_mqtt tag).
	mqtt := initMQTT(mgr, cfg, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	signal.Stop(sigCh)
	logger.Info("shutting down", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	auto.Stop()
	mqtt.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}
	webServer.Stop()
	mgr.Stop()

	logger.Info("goodbye")
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Cloud.APIHost == "" {
		cfg.Cloud.APIHost = defaultAPIHost
	}
	if cfg.Cloud.CompanionHost == "" {
		cfg.Cloud.CompanionHost = defaultCompanionHost
	}
	if cfg.Cloud.SocketURL == "" {
		cfg.Cloud.SocketURL = defaultSocketURL
	}
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "127.0.0.1:8080"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "kobold-bridge.db"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "kobold"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.ScriptsDir == "" {
		cfg.ScriptsDir = "scripts"
	}
	return &cfg, nil
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
