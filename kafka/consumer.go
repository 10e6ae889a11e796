package kafka

import (
	"context"
	"errors"
	"time"

	"github.com/IBM/sarama"
	"github.com/labstack/gommon/log"
)

const consumeRetryDelay = time.Second

type Consumer struct {
	consumerGroup sarama.ConsumerGroup
	topics        []string
	handler       MessageHandler
	retryDelay    time.Duration
	logger        *log.Logger
}

func NewConsumer(brokers []string, groupID string, topics []string,
	config *sarama.Config, handler MessageHandler) (*Consumer, error) {
	consumerGroup, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, err
	}
	return newConsumer(consumerGroup, topics, handler), nil
}

func newConsumer(group sarama.ConsumerGroup, topics []string, handler MessageHandler) *Consumer {
	return &Consumer{
		consumerGroup: group,
		topics:        topics,
		handler:       handler,
		retryDelay:    consumeRetryDelay,
		logger:        log.New("kafka"),
	}
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		if err := c.handler.Handle(session.Context(), message); err != nil {
			c.logger.Errorf("failed to process message: %v", err)
			continue
		}
		session.MarkMessage(message, "")
	}
	return nil
}

// Start consumes until ctx is cancelled or the group is closed. Other
// errors are logged and consumption resumes after a short delay.
func (c *Consumer) Start(ctx context.Context) error {
	go func() {
		for err := range c.consumerGroup.Errors() {
			c.logger.Warnf("consumer group: %v", err)
		}
	}()
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := c.consumerGroup.Consume(ctx, c.topics, c); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			c.logger.Errorf("consume %v: %v", c.topics, err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.retryDelay):
			}
		}
	}
}

func (c *Consumer) Close() error {
	return c.consumerGroup.Close()
}
