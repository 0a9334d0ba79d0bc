// Command psila-node runs the device stack against a radio dongle on a
// serial port, optionally reporting to a host on a second port.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"psila-go/internal/association"
	"psila-go/internal/blockcipher"
	"psila-go/internal/hostlink"
	"psila-go/internal/mac"
	"psila-go/internal/node"
	"psila-go/internal/radio"
	"psila-go/internal/security"
	"psila-go/internal/store"
	"psila-go/internal/timer"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

const logRingSize = 16 * 1024

type Config struct {
	// Serial is the port of the radio dongle.
	Serial struct {
		Port string `yaml:"port"`
		Baud int    `yaml:"baud"`
	} `yaml:"serial"`
	// Host is the optional port the host companion listens on.
	Host struct {
		Port string `yaml:"port"`
		Baud int    `yaml:"baud"`
	} `yaml:"host"`
	Radio struct {
		ExtendedAddress string `yaml:"extended_address"`
		Channel         uint8  `yaml:"channel"`
		StartDelay      string `yaml:"start_delay"`
	} `yaml:"radio"`
	Keys struct {
		Network  string `yaml:"network"`
		Sequence uint8  `yaml:"sequence"`
	} `yaml:"keys"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

func (c *Config) validate() error {
	if c.Serial.Port == "" {
		return fmt.Errorf("serial.port is required")
	}
	if _, err := mac.ParseExtendedAddress(c.Radio.ExtendedAddress); err != nil {
		return fmt.Errorf("radio.extended_address: %w", err)
	}
	if c.Radio.Channel != 0 && !radio.ValidChannel(c.Radio.Channel) {
		return fmt.Errorf("radio.channel must be %d-%d, got %d", radio.MinChannel, radio.MaxChannel, c.Radio.Channel)
	}
	if _, err := c.startDelay(); err != nil {
		return fmt.Errorf("radio.start_delay: %w", err)
	}
	if c.Keys.Network != "" {
		if _, err := security.ParseKey(c.Keys.Network); err != nil {
			return fmt.Errorf("keys.network: %w", err)
		}
	}
	return nil
}

// startDelay converts radio.start_delay to timer ticks; 0 keeps the
// node default.
func (c *Config) startDelay() (uint32, error) {
	if c.Radio.StartDelay == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Radio.StartDelay)
	if err != nil {
		return 0, err
	}
	if d <= 0 || d.Microseconds() > int64(^uint32(0)>>1) {
		return 0, fmt.Errorf("%s out of range", d)
	}
	return uint32(d.Microseconds()), nil
}

func main() {
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfgPath := "psila-node.yaml"
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
	logger.Info("psila-node starting", "version", version)

	if err := run(cfg, logger); err != nil {
		logger.Error("psila-node stopped", "err", err)
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

	// Checked by validate.
	ext, _ := mac.ParseExtendedAddress(cfg.Radio.ExtendedAddress)
	startDelay, _ := cfg.startDelay()

	svc := association.New(ext, logger)
	switch id, err := db.GetIdentity(); {
	case err == nil:
		svc.Restore(id.Own, id.Coordinator)
		if cfg.Radio.Channel == 0 {
			cfg.Radio.Channel = id.Channel
		}
	case !errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("load identity: %w", err)
	}

	var announcer *node.Announcer
	if cfg.Keys.Network != "" {
		key, _ := security.ParseKey(cfg.Keys.Network)
		counter, err := security.NewFrameCounter(db, security.DefaultCounterWindow)
		if err != nil {
			return fmt.Errorf("frame counter: %w", err)
		}
		announcer = node.NewAnnouncer(blockcipher.NewSoftware(), key, cfg.Keys.Sequence, counter)
		logger.Info("device announcements enabled", "frame_counter", counter.Peek())
	}

	dongle, err := hostlink.OpenRadioLink(cfg.Serial.Port, cfg.Serial.Baud, logger)
	if err != nil {
		return err
	}
	defer dongle.Close()
	dongle.OnMessage(func(m hostlink.Message) {
		logger.Debug("dongle message", "type", m.Type.String(), "payload", fmt.Sprintf("%X", m.Payload))
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Radio.Channel != 0 {
		if err := dongle.Link().Send(ctx, hostlink.MessageSetValue, []byte{hostlink.ValueChannel, cfg.Radio.Channel}); err != nil {
			return fmt.Errorf("set dongle channel: %w", err)
		}
	}

	// The host link may deliver before the node exists.
	var running atomic.Pointer[node.Node]
	var host node.Host
	if cfg.Host.Port != "" {
		link, err := hostlink.OpenSerial(cfg.Host.Port, cfg.Host.Baud, func(m hostlink.Message) {
			if n := running.Load(); n != nil {
				n.HandleHostMessage(m)
			}
		}, logger)
		if err != nil {
			return err
		}
		defer link.Close()
		host = link
	}

	clock := timer.NewClock()
	defer clock.Close()

	logs := node.NewLogBuffer(logRingSize)
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = slog.LevelInfo
	}

	n, err := node.New(node.Config{
		Radio:      dongle,
		Timer:      clock,
		Service:    svc,
		Host:       host,
		Announcer:  announcer,
		Logger:     logs.Logger(level),
		Logs:       logs,
		LogOutput:  os.Stderr,
		StartDelay: startDelay,
		OnAssociated: func(own, coordinator association.Identity) {
			id := &store.Identity{
				Own:         own,
				Coordinator: coordinator,
				Channel:     cfg.Radio.Channel,
				SavedAt:     time.Now().UTC(),
			}
			if err := db.SaveIdentity(id); err != nil {
				logger.Error("save identity", "err", err)
				return
			}
			logger.Info("identity saved", "identity", own.String(), "coordinator", coordinator.String())
		},
	})
	if err != nil {
		return err
	}
	running.Store(n)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return n.Run(ctx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				s := n.Stats()
				logger.Info("node stats",
					"state", n.State().String(),
					"received", s.Received,
					"forwarded", s.Forwarded,
					"transmitted", s.Transmitted,
					"rx_dropped", s.RXDropped,
					"tx_dropped", s.TXDropped,
					"cca_busy", s.CCABusy,
					"log_dropped", logs.Writer().Dropped())
			}
		}
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
	if cfg.Host.Baud == 0 {
		cfg.Host.Baud = 115200
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "psila-node.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	return &cfg, nil
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
