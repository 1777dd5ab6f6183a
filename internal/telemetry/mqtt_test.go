package telemetry

import (
	"errors"
	"testing"
	"time"

	"github.com/ares-project/aresnet/internal/config"
	"github.com/ares-project/aresnet/internal/events"
)

func TestNewMQTTHandler_Disabled(t *testing.T) {
	_, err := NewMQTTHandler(config.DefaultConfig(), events.NewEventBus(), nil)
	if !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
}

func TestTopicFor(t *testing.T) {
	tests := []struct {
		event events.EventType
		want  string
	}{
		{events.EventSessionState, TopicSessionState},
		{events.EventGameTerminated, TopicSessionState},
		{events.EventPlayerLeft, TopicSessionPlay},
		{events.EventScenarioMismatch, TopicSessionPlay},
		{events.EventStall, TopicGameLag},
		{events.EventDesync, TopicGameFaults},
		{events.EventCorruptData, TopicGameFaults},
		{events.EventChatMessage, TopicChat},
		{events.EventGameStarted, TopicGame},
	}
	for _, tt := range tests {
		if got := TopicFor(tt.event); got != tt.want {
			t.Errorf("TopicFor(%s) = %s, want %s", tt.event, got, tt.want)
		}
	}
}

func TestTopicPrefix(t *testing.T) {
	h := &MQTTHandler{cfg: config.MQTTConfig{TopicPrefix: "ares/eu1"}}
	if got := h.topic(TopicChat); got != "ares/eu1/game/chat" {
		t.Fatalf("topic = %s", got)
	}
	h.cfg.TopicPrefix = ""
	if got := h.topic(TopicChat); got != TopicChat {
		t.Fatalf("topic without prefix = %s", got)
	}
}

func TestBuildMessage(t *testing.T) {
	now := time.Date(2026, 5, 4, 12, 30, 0, 0, time.FixedZone("CEST", 2*3600))
	msg := buildMessage(map[string]interface{}{"hostname": "relay-1"}, events.ChatPayload{Admiral: 2, Text: "gg"}, now)

	if msg["hostname"] != "relay-1" {
		t.Fatalf("metadata missing: %v", msg)
	}
	if msg["timestamp"] != "2026-05-04T10:30:00Z" {
		t.Fatalf("timestamp = %v", msg["timestamp"])
	}
	if p, ok := msg["payload"].(events.ChatPayload); !ok || p.Text != "gg" {
		t.Fatalf("payload = %v", msg["payload"])
	}
}
