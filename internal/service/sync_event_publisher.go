// FILE: internal/service/sync_event_publisher.go
package service

import (
	"context"
	"encoding/json"
	"fmt"

	"podcast-research-sync/internal/pkg/logger"
	"podcast-research-sync/pkg/events"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

const SyncEventsTopic = "research_session.sync"

// ISyncEventPublisher tells in-process listeners (UI, CLI) about pointer
// transitions. Publishing never fails a save.
type ISyncEventPublisher interface {
	Publish(ctx context.Context, event events.Event)
}

type syncEventPublisher struct {
	topic     string
	publisher message.Publisher
	logger    logger.ILogger
}

func NewSyncEventPublisher(topic string, publisher message.Publisher, log logger.ILogger) ISyncEventPublisher {
	return &syncEventPublisher{
		topic:     topic,
		publisher: publisher,
		logger:    log,
	}
}

func (p *syncEventPublisher) Publish(ctx context.Context, event events.Event) {
	payload, err := json.Marshal(event.Payload())
	if err != nil {
		p.logger.Error("SyncEvents", "Failed to marshal event", map[string]interface{}{
			"event_type": event.EventType(),
			"error":      err,
		})
		return
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set("event_type", event.EventType())

	if err := p.publisher.Publish(p.topic, msg); err != nil {
		p.logger.Warn("SyncEvents", "Failed to publish event", map[string]interface{}{
			"event_type": event.EventType(),
			"error":      fmt.Sprintf("%v", err),
		})
	}
}

// DecodeSyncEvent reads back a message produced by Publish.
func DecodeSyncEvent(msg *message.Message) (events.BaseEvent, error) {
	var data map[string]interface{}
	if err := json.Unmarshal(msg.Payload, &data); err != nil {
		return events.BaseEvent{}, fmt.Errorf("decode sync event: %w", err)
	}
	return events.BaseEvent{Type: msg.Metadata.Get("event_type"), Data: data}, nil
}

type nopSyncEventPublisher struct{}

func (nopSyncEventPublisher) Publish(context.Context, events.Event) {}

// NewNopSyncEventPublisher drops every event.
func NewNopSyncEventPublisher() ISyncEventPublisher {
	return nopSyncEventPublisher{}
}
