package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/publisherauthority/orderdesk/pkg/models"
	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

type recordingHandler struct {
	mu      sync.Mutex
	changes []models.StatusChange
	err     error
}

func (h *recordingHandler) HandleStatusChanged(change models.StatusChange) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.changes = append(h.changes, change)
	return h.err
}

func TestPublishStatusChanged(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var change models.StatusChange
		if err := json.Unmarshal(val, &change); err != nil {
			return err
		}
		if change.OrderID != "ord-1" || change.Status != "verifying" {
			return errors.New("unexpected payload")
		}
		if change.EventTime.IsZero() {
			return errors.New("event time not stamped")
		}
		return nil
	})

	producer := newKafkaProducer(sp, "", testLogger())
	if producer.topic != StatusChangedTopic {
		t.Errorf("Expected default topic %s, got %s", StatusChangedTopic, producer.topic)
	}

	err := producer.PublishStatusChanged(models.StatusChange{
		OrderID:        "ord-1",
		PreviousStatus: "ready-to-post",
		Status:         "verifying",
		Action:         "submit",
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if err := producer.Close(); err != nil {
		t.Errorf("Expected clean close, got %v", err)
	}
}

func TestPublishStatusChangedFailure(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	producer := newKafkaProducer(sp, "custom.topic", testLogger())
	err := producer.PublishStatusChanged(models.StatusChange{OrderID: "ord-1"})
	if !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Errorf("Expected ErrOutOfBrokers, got %v", err)
	}
	producer.Close()
}

func TestLocalPublisher(t *testing.T) {
	handler := &recordingHandler{}
	publisher := NewLocalPublisher(handler)

	if err := publisher.PublishStatusChanged(models.StatusChange{OrderID: "ord-1", Status: "completed"}); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(handler.changes) != 1 || handler.changes[0].EventTime.IsZero() {
		t.Errorf("Expected one stamped change, got %+v", handler.changes)
	}
}

type fakeSession struct {
	sarama.ConsumerGroupSession
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *fakeSession) Context() context.Context { return s.ctx }

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	sarama.ConsumerGroupClaim
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func TestConsumeClaimMarksEveryMessage(t *testing.T) {
	handler := &recordingHandler{}
	group := &consumerGroupHandler{handler: handler, logger: testLogger()}

	good, _ := json.Marshal(models.StatusChange{OrderID: "ord-1", PublisherID: "pub-1", Status: "completed"})
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 3)}
	claim.messages <- &sarama.ConsumerMessage{Topic: StatusChangedTopic, Offset: 1, Value: good}
	claim.messages <- &sarama.ConsumerMessage{Topic: StatusChangedTopic, Offset: 2, Value: []byte("not json")}
	claim.messages <- &sarama.ConsumerMessage{Topic: StatusChangedTopic, Offset: 3, Value: []byte(`{"status":"completed"}`)}
	close(claim.messages)

	session := &fakeSession{ctx: context.Background()}
	if err := group.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if len(handler.changes) != 1 || handler.changes[0].OrderID != "ord-1" {
		t.Errorf("Expected one delivered change, got %+v", handler.changes)
	}
	if len(session.marked) != 3 {
		t.Errorf("Expected all 3 messages marked, got %v", session.marked)
	}
}

func TestConsumeClaimStopsOnSessionEnd(t *testing.T) {
	group := &consumerGroupHandler{handler: &recordingHandler{}, logger: testLogger()}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage)}
	if err := group.ConsumeClaim(&fakeSession{ctx: ctx}, claim); err != nil {
		t.Errorf("Expected nil on cancelled session, got %v", err)
	}
}

func TestHandleMessageHandlerError(t *testing.T) {
	handler := &recordingHandler{err: errors.New("hub down")}
	group := &consumerGroupHandler{handler: handler, logger: testLogger()}

	value, _ := json.Marshal(models.StatusChange{OrderID: "ord-9"})
	err := group.handleMessage(&sarama.ConsumerMessage{Value: value})
	if err == nil || err.Error() != "hub down" {
		t.Errorf("Expected handler error to surface, got %v", err)
	}
}
