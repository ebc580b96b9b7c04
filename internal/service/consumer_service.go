// FILE: internal/service/consumer_service.go
package service

import (
	"context"

	"podcast-research-sync/internal/pkg/logger"
	"podcast-research-sync/pkg/events"

	"github.com/ThreeDotsLabs/watermill/message"
)

type IConsumerService interface {
	Consume(ctx context.Context) error
}

// consumerService relays session events from the in-process bus to an
// external publisher (NATS JetStream in the dev server).
type consumerService struct {
	subscriber message.Subscriber
	topicName  string
	relay      events.Publisher
	logger     logger.ILogger
}

func NewConsumerService(
	subscriber message.Subscriber,
	topicName string,
	relay events.Publisher,
	log logger.ILogger,
) IConsumerService {
	return &consumerService{
		subscriber: subscriber,
		topicName:  topicName,
		relay:      relay,
		logger:     log,
	}
}

func (cs *consumerService) Consume(ctx context.Context) error {
	messages, err := cs.subscriber.Subscribe(ctx, cs.topicName)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			cs.processMessage(ctx, msg)
		}
	}()

	return nil
}

func (cs *consumerService) processMessage(ctx context.Context, msg *message.Message) {
	evt, err := DecodeSyncEvent(msg)
	if err != nil {
		cs.logger.Error("EventRelay", "Failed to decode event", map[string]interface{}{
			"message_id": msg.UUID,
			"error":      err,
		})
		msg.Ack() // Ack invalid messages to prevent infinite retry
		return
	}

	cs.logger.Debug("EventRelay", "Relaying event", map[string]interface{}{
		"event_type": evt.Type,
		"session_id": evt.Data["session_id"],
	})

	if cs.relay == nil {
		msg.Ack()
		return
	}

	if err := cs.relay.Publish(ctx, evt); err != nil {
		// The bus is an audit trail; losing one event must not block the queue.
		cs.logger.Warn("EventRelay", "Failed to relay event", map[string]interface{}{
			"event_type": evt.Type,
			"error":      err.Error(),
		})
	}
	msg.Ack()
}
