package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/labstack/gommon/log"

	"github.com/Software-Engineering-Group-Bazaar/bazaar-mobile-react-native-sub001/models"
)

// MessageHandler processes one consumed record. Returning nil commits it.
type MessageHandler interface {
	Handle(ctx context.Context, message *sarama.ConsumerMessage) error
}

// TicketStatusApplier receives decoded ticket status changes.
type TicketStatusApplier interface {
	ApplyTicketStatus(ev models.TicketStatusEvent) int
}

type TicketStatusHandler struct {
	applier TicketStatusApplier
	logger  *log.Logger
}

func NewTicketStatusHandler(applier TicketStatusApplier) *TicketStatusHandler {
	return &TicketStatusHandler{
		applier: applier,
		logger:  log.New("kafka"),
	}
}

// Handle decodes a ticket status event. Malformed records are logged and
// committed so they do not block the partition.
func (h *TicketStatusHandler) Handle(ctx context.Context, message *sarama.ConsumerMessage) error {
	var ev models.TicketStatusEvent
	if err := json.Unmarshal(message.Value, &ev); err != nil {
		h.logger.Warnf("skipping undecodable ticket event at %s/%d/%d: %v", message.Topic, message.Partition, message.Offset, err)
		return nil
	}
	if ev.TicketID == 0 || ev.Status == "" {
		h.logger.Warnf("skipping incomplete ticket event at %s/%d/%d", message.Topic, message.Partition, message.Offset)
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("ticket event %d: %w", ev.TicketID, ctx.Err())
	}
	n := h.applier.ApplyTicketStatus(ev)
	h.logger.Debugf("ticket %d is %s, %d open sessions updated", ev.TicketID, ev.Status, n)
	return nil
}
