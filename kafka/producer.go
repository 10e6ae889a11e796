package kafka

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/labstack/gommon/log"

	"github.com/Software-Engineering-Group-Bazaar/bazaar-mobile-react-native-sub001/models"
)

// MessageEvent is the record published for every message a session sees.
type MessageEvent struct {
	OwnerID        string             `json:"owner_id"`
	ConversationID int64              `json:"conversation_id"`
	Message        models.ChatMessage `json:"message"`
	ExportedAt     time.Time          `json:"exported_at"`
}

// Producer publishes chat message events.
type Producer struct {
	producer sarama.SyncProducer
	topic    string
	now      func() time.Time
	logger   *log.Logger
}

func NewProducer(brokers []string, config *sarama.Config, topic string) (*Producer, error) {
	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}
	return NewProducerFrom(producer, topic), nil
}

// NewProducerFrom wraps an existing sync producer.
func NewProducerFrom(producer sarama.SyncProducer, topic string) *Producer {
	return &Producer{
		producer: producer,
		topic:    topic,
		now:      time.Now,
		logger:   log.New("kafka"),
	}
}

// HandleMessages publishes msgs keyed by conversation id.
func (p *Producer) HandleMessages(ctx context.Context, auth models.AuthContext, msgs []models.ChatMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	now := p.now().UTC()
	records := make([]*sarama.ProducerMessage, 0, len(msgs))
	for _, m := range msgs {
		value, err := json.Marshal(MessageEvent{
			OwnerID:        auth.UserID,
			ConversationID: m.ConversationID,
			Message:        m,
			ExportedAt:     now,
		})
		if err != nil {
			return err
		}
		records = append(records, &sarama.ProducerMessage{
			Topic: p.topic,
			Key:   sarama.StringEncoder(strconv.FormatInt(m.ConversationID, 10)),
			Value: sarama.ByteEncoder(value),
		})
	}

	if err := p.producer.SendMessages(records); err != nil {
		p.logger.Errorf("failed to publish %d message events: %v", len(records), err)
		return err
	}
	p.logger.Debugf("published %d message events to %s", len(records), p.topic)
	return nil
}

func (p *Producer) Close() error {
	return p.producer.Close()
}
