// Package telemetry publishes session events to an MQTT broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/ares-project/aresnet/internal/config"
	"github.com/ares-project/aresnet/internal/events"
	"github.com/ares-project/aresnet/internal/util"
)

// Topic suffixes under the configured prefix.
const (
	TopicNodeAdmin    = "node/admin"
	TopicNodeStatus   = "node/status"
	TopicSessionState = "session/state"
	TopicSessionPlay  = "session/players"
	TopicGame         = "game/events"
	TopicGameLag      = "game/lag"
	TopicGameFaults   = "game/faults"
	TopicChat         = "game/chat"
)

// ErrDisabled is returned by NewMQTTHandler when MQTT is switched off.
var ErrDisabled = errors.New("MQTT is disabled")

// StatusSource provides the periodic status snapshot.
type StatusSource interface {
	StatusPayload() interface{}
}

// MQTTHandler forwards bus events to MQTT.
type MQTTHandler struct {
	cfg      config.MQTTConfig
	eventBus *events.EventBus
	client   mqtt.Client
	status   StatusSource
	interval time.Duration

	metadata map[string]interface{}
	logger   zerolog.Logger
}

// NewMQTTHandler creates an MQTT publisher. status may be nil.
func NewMQTTHandler(cfg *config.Config, eventBus *events.EventBus, status StatusSource) (*MQTTHandler, error) {
	mqttCfg := cfg.GetApplicationData().MQTT
	if !mqttCfg.Enabled {
		return nil, ErrDisabled
	}

	sysInfo := util.GetSystemInfo()
	h := &MQTTHandler{
		cfg:      mqttCfg,
		eventBus: eventBus,
		status:   status,
		interval: 10 * time.Second,
		metadata: map[string]interface{}{
			"hostname":  sysInfo.Hostname,
			"os":        sysInfo.OS,
			"cpu_model": sysInfo.CPUModel,
			"cpu_cores": sysInfo.CPUCores,
			"memory_mb": sysInfo.TotalMemory,
			"app":       util.AppName,
		},
		logger: util.ComponentLogger("telemetry"),
	}

	scheme := "tcp"
	if mqttCfg.UseTLS {
		scheme = "ssl"
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, mqttCfg.BrokerURL, mqttCfg.Port))
	if mqttCfg.ClientID != "" {
		opts.SetClientID(mqttCfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("%s-%s", util.AppName, sysInfo.Hostname))
	}
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(true)

	if mqttCfg.UseTLS {
		tlsConfig, err := buildTLS(mqttCfg)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(mqtt.Client) {
		h.logger.Info().Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		h.logger.Warn().Err(err).Msg("MQTT connection lost")
	})

	h.client = mqtt.NewClient(opts)
	return h, nil
}

func buildTLS(c config.MQTTConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if c.CertFile != "" && c.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	if c.CAFile != "" {
		pem, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read MQTT CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in %s", c.CAFile)
		}
		tlsConfig.RootCAs = pool
	}
	return tlsConfig, nil
}

// Start connects, forwards events and publishes status until ctx ends.
func (h *MQTTHandler) Start(ctx context.Context) error {
	h.logger.Info().Str("broker", h.cfg.BrokerURL).Int("port", h.cfg.Port).Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.eventBus.SubscribeMany(events.StreamedEvents, "mqtt.forward", h.onEvent)
	h.eventBus.Subscribe(events.EventNotifyMQTT, "mqtt.notify", h.onEvent)
	defer func() {
		for _, t := range events.StreamedEvents {
			h.eventBus.Unsubscribe(t, "mqtt.forward")
		}
		h.eventBus.Unsubscribe(events.EventNotifyMQTT, "mqtt.notify")
	}()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.PublishShutdown()
			h.client.Disconnect(5000)
			h.logger.Info().Msg("MQTT disconnected")
			return nil
		case <-ticker.C:
			if h.status != nil {
				h.publish(TopicNodeStatus, h.status.StatusPayload())
			}
		}
	}
}

func (h *MQTTHandler) onEvent(ctx context.Context, event events.Event) error {
	payload := event.Payload
	if event.Type == events.EventStall {
		payload = map[string]interface{}{
			"stall": event.Payload,
			"load":  util.GetProcessLoad(),
		}
	}
	h.publish(TopicFor(event.Type), map[string]interface{}{
		"event":   string(event.Type),
		"source":  event.Source,
		"payload": payload,
	})
	return nil
}

// TopicFor maps an event type to its topic suffix.
func TopicFor(t events.EventType) string {
	switch t {
	case events.EventSessionState, events.EventSessionStopped, events.EventGameTerminated:
		return TopicSessionState
	case events.EventPlayerJoined, events.EventPlayerLeft, events.EventLobbyText,
		events.EventScenarioMismatch, events.EventInviteDeclined:
		return TopicSessionPlay
	case events.EventStall:
		return TopicGameLag
	case events.EventDesync, events.EventDesyncResolved, events.EventQueueOverflow, events.EventCorruptData:
		return TopicGameFaults
	case events.EventChatMessage:
		return TopicChat
	case events.EventNotifyMQTT:
		return TopicNodeStatus
	default:
		return TopicGame
	}
}

func (h *MQTTHandler) topic(suffix string) string {
	if h.cfg.TopicPrefix == "" {
		return suffix
	}
	return h.cfg.TopicPrefix + "/" + suffix
}

func (h *MQTTHandler) publish(suffix string, payload interface{}) {
	if !h.client.IsConnected() {
		return
	}
	topic := h.topic(suffix)
	data, err := json.Marshal(buildMessage(h.metadata, payload, time.Now()))
	if err != nil {
		h.logger.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := h.client.Publish(topic, 1, false, data)
	go func() {
		token.Wait()
		if token.Error() != nil {
			h.logger.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

func buildMessage(metadata map[string]interface{}, payload interface{}, now time.Time) map[string]interface{} {
	msg := make(map[string]interface{}, len(metadata)+2)
	for k, v := range metadata {
		msg[k] = v
	}
	msg["payload"] = payload
	msg["timestamp"] = now.UTC().Format(time.RFC3339)
	return msg
}

// PublishShutdown announces that the node is going away.
func (h *MQTTHandler) PublishShutdown() {
	h.publish(TopicNodeAdmin, map[string]interface{}{"event": "shutdown"})
}
