package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"psila-go/internal/blockcipher"
	"psila-go/internal/capture"
	"psila-go/internal/decoder"
	"psila-go/internal/hostlink"
	"psila-go/internal/radio"
	"psila-go/internal/security"
	"psila-go/internal/store"
	"psila-go/internal/web"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

// KeyConfig is a named key tried when unsecuring frames.
type KeyConfig struct {
	Name string `yaml:"name"`
	Key  string `yaml:"key"`
}

type Config struct {
	Serial struct {
		Port string `yaml:"port"`
		Baud int    `yaml:"baud"`
	} `yaml:"serial"`
	Radio struct {
		// Channel is set on the device at startup; 0 leaves it alone.
		Channel uint8 `yaml:"channel"`
	} `yaml:"radio"`
	Keys  []KeyConfig `yaml:"keys"`
	Store struct {
		Path string `yaml:"path"`
		Keep int    `yaml:"keep"`
	} `yaml:"store"`
	Capture struct {
		History int `yaml:"history"`
	} `yaml:"capture"`
	MQTT struct {
		Enabled       bool   `yaml:"enabled"`
		Broker        string `yaml:"broker"`
		Username      string `yaml:"username"`
		Password      string `yaml:"password"`
		ClientID      string `yaml:"client_id"`
		TopicPrefix   string `yaml:"topic_prefix"`
		StatsInterval string `yaml:"stats_interval"`
	} `yaml:"mqtt"`
	Web struct {
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	ScriptsDir string `yaml:"scripts_dir"`
}

func (c *Config) validate() error {
	if c.Serial.Port == "" {
		return fmt.Errorf("serial.port is required")
	}
	if c.Radio.Channel != 0 && !radio.ValidChannel(c.Radio.Channel) {
		return fmt.Errorf("radio.channel must be %d-%d, got %d", radio.MinChannel, radio.MaxChannel, c.Radio.Channel)
	}
	for i, k := range c.Keys {
		if k.Name == "" {
			return fmt.Errorf("keys[%d]: name is required", i)
		}
		if _, err := security.ParseKey(k.Key); err != nil {
			return fmt.Errorf("keys[%d] %q: %w", i, k.Name, err)
		}
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	if c.MQTT.StatsInterval != "" {
		if _, err := time.ParseDuration(c.MQTT.StatsInterval); err != nil {
			return fmt.Errorf("mqtt.stats_interval: %w", err)
		}
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

func main() {
	// Temporary logger for config loading errors.
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfgPath := "psila-host.yaml"
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

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("psila-host starting", "version", version)

	if err := run(cfg, logger); err != nil {
		logger.Error("psila-host stopped", "err", err)
		os.Exit(1)
	}
	logger.Info("goodbye")
}

func run(cfg *Config, logger *slog.Logger) error {
	db, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	keys := security.NewKeyRing(security.WellKnownKeys()...)
	for _, k := range cfg.Keys {
		key, _ := security.ParseKey(k.Key) // checked by validate
		keys.Add(k.Name, key)
	}
	dec := decoder.New(blockcipher.NewSoftware(), keys, logger)

	c, err := capture.New(capture.Config{
		Decoder: dec,
		Logger:  logger,
		Store:   db,
		Port:    cfg.Serial.Port,
		Channel: cfg.Radio.Channel,
		History: cfg.Capture.History,
		Keep:    cfg.Store.Keep,
	})
	if err != nil {
		return err
	}
	if err := c.Start(); err != nil {
		return err
	}

	link, err := hostlink.OpenSerial(cfg.Serial.Port, cfg.Serial.Baud, c.HandleMessage, logger)
	if err != nil {
		return err
	}
	defer link.Close()
	c.Attach(link)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Radio.Channel != 0 {
		if err := c.SetChannel(ctx, cfg.Radio.Channel); err != nil {
			logger.Warn("set startup channel", "channel", cfg.Radio.Channel, "err", err)
		}
	}
	if err := c.RequestRadioState(ctx); err != nil {
		logger.Warn("request radio state", "err", err)
	}

	// No-ops when built with the no_automation and no_mqtt tags.
	auto, autoWebOpts := initAutomation(c, cfg, logger)
	defer auto.Stop()
	bridge := initMQTT(c, cfg, logger)
	defer bridge.Stop()

	webOpts := []web.ServerOption{
		web.WithStore(db),
		web.WithVersion(version),
	}
	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	webOpts = append(webOpts, autoWebOpts...)
	webServer := web.NewServer(c, logger, webOpts...)
	defer webServer.Stop()

	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
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
	if cfg.Serial.Baud == 0 {
		cfg.Serial.Baud = 115200
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "psila.db"
	}
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "127.0.0.1:8080"
	}
	if cfg.ScriptsDir == "" {
		cfg.ScriptsDir = "scripts"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "psila"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	return &cfg, nil
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
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
