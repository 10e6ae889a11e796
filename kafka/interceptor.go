package kafka

import (
	"github.com/IBM/sarama"
)

const headerProducer = "produced-by"

// ChatInterceptor stamps every outgoing record with the producing client.
type ChatInterceptor struct {
	name string
}

func NewChatInterceptor() *ChatInterceptor {
	return &ChatInterceptor{name: "bazaar-chat"}
}

func (i *ChatInterceptor) OnSend(msg *sarama.ProducerMessage) {
	for _, h := range msg.Headers {
		if string(h.Key) == headerProducer {
			return
		}
	}
	msg.Headers = append(msg.Headers, sarama.RecordHeader{
		Key:   []byte(headerProducer),
		Value: []byte(i.name),
	})
}
