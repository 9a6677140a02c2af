package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/publisherauthority/orderdesk/pkg/models"
	"github.com/sirupsen/logrus"
)

const (
	StatusChangedTopic = "order.status.changed"
)

// StatusPublisher announces confirmed order transitions.
type StatusPublisher interface {
	PublishStatusChanged(change models.StatusChange) error
}

type KafkaProducer struct {
	producer sarama.SyncProducer
	topic    string
	logger   *logrus.Logger
}

func NewKafkaProducer(brokers []string, topic string, logger *logrus.Logger) (*KafkaProducer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Version = sarama.V2_6_0_0

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return newKafkaProducer(producer, topic, logger), nil
}

func newKafkaProducer(producer sarama.SyncProducer, topic string, logger *logrus.Logger) *KafkaProducer {
	if topic == "" {
		topic = StatusChangedTopic
	}
	return &KafkaProducer{
		producer: producer,
		topic:    topic,
		logger:   logger,
	}
}

func (p *KafkaProducer) PublishStatusChanged(change models.StatusChange) error {
	if change.EventTime.IsZero() {
		change.EventTime = time.Now().UTC()
	}

	data, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("failed to marshal status change: %w", err)
	}

	// Keyed by order so every change to one order lands on one partition.
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(change.OrderID),
		Value: sarama.ByteEncoder(data),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.WithError(err).WithField("order_id", change.OrderID).Error("Failed to send message to Kafka")
		return fmt.Errorf("failed to publish status change: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"topic":     p.topic,
		"partition": partition,
		"offset":    offset,
		"order_id":  change.OrderID,
		"status":    change.Status,
	}).Info("Event published to Kafka")

	return nil
}

func (p *KafkaProducer) Close() error {
	return p.producer.Close()
}

// LocalPublisher hands changes straight to a handler when no broker is
// configured.
type LocalPublisher struct {
	handler StatusChangeHandler
}

func NewLocalPublisher(handler StatusChangeHandler) *LocalPublisher {
	return &LocalPublisher{handler: handler}
}

func (p *LocalPublisher) PublishStatusChanged(change models.StatusChange) error {
	if change.EventTime.IsZero() {
		change.EventTime = time.Now().UTC()
	}
	return p.handler.HandleStatusChanged(change)
}
