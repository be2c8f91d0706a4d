package events

import (
	"context"
	"encoding/json"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Publisher streams receipt and presence transitions to Kafka for
// downstream consumers (notification fan-out, analytics). Strictly
// best-effort: a broker outage never blocks or fails the realtime path.
type Publisher struct {
	writer *kafkago.Writer
	log    *zap.SugaredLogger
}

func NewPublisher(brokers []string, topic string, log *zap.SugaredLogger) *Publisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireOne,
		Async:        true,
	}
	return &Publisher{writer: w, log: log}
}

type auditRecord struct {
	Event   Name            `json:"event"`
	Payload json.RawMessage `json:"payload"`
	At      time.Time       `json:"at"`
}

// Publish writes one audit record keyed by the given partition key
// (chat id or user id) so per-key ordering is preserved in the topic.
func (p *Publisher) Publish(ctx context.Context, key string, name Name, payload any) {
	if p == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		p.log.Warnw("audit payload marshal failed", "event", name, "err", err)
		return
	}
	b, _ := json.Marshal(auditRecord{Event: name, Payload: raw, At: time.Now().UTC()})
	msg := kafkago.Message{Key: []byte(key), Value: b, Time: time.Now()}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Warnw("audit publish failed", "event", name, "err", err)
	}
}

func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.writer.Close()
}
