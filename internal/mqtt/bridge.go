//go:build !no_mqtt

package mqtt

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"psila-go/internal/capture"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	ClientID    string
	TopicPrefix string

	// StatsInterval is how often the stats topic is refreshed; 0 uses 10s.
	StatsInterval time.Duration
}

// Bridge publishes capture events to MQTT and accepts device commands.
type Bridge struct {
	client   pahomqtt.Client
	capture  *capture.Capture
	prefix   string
	clientID string
	interval time.Duration
	logger   *slog.Logger
	unsub    func()
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

// message is one MQTT publication.
type message struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// packetMessage is the JSON body of a packet topic.
type packetMessage struct {
	Seq    uint64    `json:"seq"`
	Time   time.Time `json:"time"`
	LQI    uint8     `json:"lqi"`
	Layer  string    `json:"layer"`
	Frame  string    `json:"frame"`
	Packet any       `json:"packet,omitempty"`
	Error  string    `json:"error,omitempty"`
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(c *capture.Capture, cfg Config, logger *slog.Logger) (*Bridge, error) {
	if cfg.ClientID == "" {
		cfg.ClientID = "psila-host"
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		capture:  c,
		prefix:   cfg.TopicPrefix,
		clientID: cfg.ClientID,
		interval: cfg.StatsInterval,
		logger:   logger.With("component", "mqtt"),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(cfg.TopicPrefix+"/bridge/state", "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.publishBridgeState("online")
			b.publishDiscovery()
			b.subscribeCommands()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		cancel()
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		cancel()
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	b.client = client
	return b, nil
}

// Start subscribes to capture events and begins publishing.
func (b *Bridge) Start() {
	b.unsub = b.capture.Bus().On("", b.handleEvent)
	go b.statsLoop()
	b.logger.Info("MQTT bridge started", "prefix", b.prefix)
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	b.cancel()
	if b.unsub != nil {
		b.unsub()
		<-b.done
	}
	b.publishBridgeState("offline")
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) handleEvent(ev capture.Event) {
	for _, m := range eventMessages(b.prefix, ev) {
		b.publish(m)
	}
}

// eventMessages maps a capture event to its publications.
func eventMessages(prefix string, ev capture.Event) []message {
	switch ev.Kind {
	case capture.EventPacket, capture.EventDecodeError:
		rec, ok := ev.Data.(*capture.Record)
		if !ok {
			return nil
		}
		body := packetMessage{
			Seq:   rec.Seq,
			Time:  rec.Time,
			LQI:   rec.LQI,
			Layer: rec.Layer,
			Frame: strings.ToUpper(hex.EncodeToString(rec.Frame)),
			Error: rec.Error,
		}
		if rec.Packet != nil {
			body.Packet = rec.Packet
		}
		return []message{{Topic: prefix + "/packet/" + rec.Layer, Payload: mustJSON(body)}}
	case capture.EventEnergy:
		return []message{{Topic: prefix + "/energy", Payload: mustJSON(ev.Data)}}
	case capture.EventRadioState:
		return []message{{Topic: prefix + "/bridge/radio", Payload: mustJSON(ev.Data), Retained: true}}
	case capture.EventAlert:
		return []message{{Topic: prefix + "/alert", Payload: mustJSON(ev.Data)}}
	}
	return nil
}

func (b *Bridge) statsLoop() {
	defer close(b.done)
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			b.publish(message{Topic: b.prefix + "/bridge/stats", Payload: mustJSON(b.capture.Stats()), Retained: true})
		}
	}
}

func (b *Bridge) publishBridgeState(state string) {
	b.publish(message{Topic: b.prefix + "/bridge/state", Payload: []byte(state), Retained: true})
}

func (b *Bridge) publishDiscovery() {
	for _, m := range buildDiscovery(b.clientID, b.prefix) {
		b.publish(m)
	}
	b.logger.Info("published HA discovery", "id", b.clientID)
}

func (b *Bridge) subscribeCommands() {
	topic := b.prefix + "/command/+"
	b.client.Subscribe(topic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.handleCommand(msg.Topic(), msg.Payload())
	})
}

// command is a parsed request from the command topics.
type command struct {
	Name    string
	Channel uint8
	Frame   []byte
}

// parseCommand decodes <prefix>/command/<name> with its payload.
func parseCommand(prefix, topic string, payload []byte) (command, error) {
	name, ok := strings.CutPrefix(topic, prefix+"/command/")
	if !ok || name == "" {
		return command{}, fmt.Errorf("not a command topic: %s", topic)
	}
	cmd := command{Name: name}
	arg := strings.TrimSpace(string(payload))
	switch name {
	case "energy_scan", "radio_state":
	case "channel":
		ch, err := strconv.ParseUint(arg, 10, 8)
		if err != nil {
			return command{}, fmt.Errorf("channel %q: %w", arg, err)
		}
		cmd.Channel = uint8(ch)
	case "send":
		frame, err := hex.DecodeString(arg)
		if err != nil || len(frame) == 0 {
			return command{}, fmt.Errorf("send: frame must be hex")
		}
		cmd.Frame = frame
	default:
		return command{}, fmt.Errorf("unknown command %q", name)
	}
	return cmd, nil
}

func (b *Bridge) handleCommand(topic string, payload []byte) {
	cmd, err := parseCommand(b.prefix, topic, payload)
	if err != nil {
		b.logger.Warn("invalid command", "topic", topic, "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, 10*time.Second)
	defer cancel()
	switch cmd.Name {
	case "energy_scan":
		err = b.capture.RequestEnergyScan(ctx)
	case "radio_state":
		err = b.capture.RequestRadioState(ctx)
	case "channel":
		err = b.capture.SetChannel(ctx, cmd.Channel)
	case "send":
		err = b.capture.Transmit(ctx, cmd.Frame)
	}
	if err != nil {
		b.logger.Warn("command failed", "command", cmd.Name, "err", err)
	}
}

func (b *Bridge) publish(m message) {
	token := b.client.Publish(m.Topic, 1, m.Retained, m.Payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", m.Topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", m.Topic, "err", err)
		}
	}()
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
