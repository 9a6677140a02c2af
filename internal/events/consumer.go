package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/publisherauthority/orderdesk/pkg/models"
	"github.com/sirupsen/logrus"
)

type StatusChangeHandler interface {
	HandleStatusChanged(change models.StatusChange) error
}

type KafkaConsumer struct {
	consumerGroup sarama.ConsumerGroup
	handler       StatusChangeHandler
	logger        *logrus.Logger
	topics        []string
}

type consumerGroupHandler struct {
	handler StatusChangeHandler
	logger  *logrus.Logger
}

// NewKafkaConsumer joins groupID on topic. Every BFF instance should use its
// own group so each one fans changes out to its own websocket clients.
func NewKafkaConsumer(brokers []string, groupID, topic string, handler StatusChangeHandler, logger *logrus.Logger) (*KafkaConsumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	// Old changes are useless as refresh hints.
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Version = sarama.V2_6_0_0

	consumerGroup, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	if topic == "" {
		topic = StatusChangedTopic
	}

	return &KafkaConsumer{
		consumerGroup: consumerGroup,
		handler:       handler,
		logger:        logger,
		topics:        []string{topic},
	}, nil
}

func (c *KafkaConsumer) Start(ctx context.Context) error {
	handler := &consumerGroupHandler{
		handler: c.handler,
		logger:  c.logger,
	}

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Kafka consumer context cancelled")
			return nil
		default:
			if err := c.consumerGroup.Consume(ctx, c.topics, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return nil
				}
				c.logger.WithError(err).Error("Error consuming from Kafka")
				return fmt.Errorf("failed to consume: %w", err)
			}
		}
	}
}

func (c *KafkaConsumer) Close() error {
	return c.consumerGroup.Close()
}

func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	h.logger.Info("Kafka consumer group session setup")
	return nil
}

func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	h.logger.Info("Kafka consumer group session cleanup")
	return nil
}

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}

			h.logger.WithFields(logrus.Fields{
				"topic":     message.Topic,
				"partition": message.Partition,
				"offset":    message.Offset,
				"key":       string(message.Key),
			}).Debug("Received Kafka message")

			// Status changes are refresh hints, so a bad one is logged and
			// skipped rather than retried.
			if err := h.handleMessage(message); err != nil {
				h.logger.WithError(err).Warn("Failed to handle message")
			}
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

func (h *consumerGroupHandler) handleMessage(message *sarama.ConsumerMessage) error {
	var change models.StatusChange
	if err := json.Unmarshal(message.Value, &change); err != nil {
		return fmt.Errorf("failed to unmarshal status change: %w", err)
	}
	if change.OrderID == "" {
		return fmt.Errorf("status change without order id at offset %d", message.Offset)
	}

	h.logger.WithFields(logrus.Fields{
		"order_id": change.OrderID,
		"status":   change.Status,
	}).Info("Processing status change event")
	return h.handler.HandleStatusChanged(change)
}
