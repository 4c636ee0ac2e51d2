// Package notify publishes persisted-segment events to an AMQP queue so
// downstream consumers (search indexing, analytics) can follow along.
// The publisher is optional; without a broker URL nothing is wired.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/lingolift/lingolift/internal/store"
)

type Publisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// NewPublisher connects to the broker and declares a durable queue.
func NewPublisher(url, queue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	return &Publisher{conn: conn, ch: ch, queue: queue}, nil
}

// SegmentPersisted implements live.SegmentNotifier. Broker trouble is
// logged, never propagated: fan-out must not fail a flush.
func (p *Publisher) SegmentPersisted(ctx context.Context, seg store.Segment) {
	body, err := json.Marshal(seg)
	if err != nil {
		log.Error().Err(err).Msg("marshal segment event")
		return
	}
	err = p.ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		log.Warn().Err(err).Str("session", seg.SessionID).Msg("segment event publish failed")
		return
	}
	log.Debug().Str("session", seg.SessionID).Int("sequence", seg.SequenceNumber).Msg("segment event published")
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		p.ch.Close()
	}
	return p.conn.Close()
}
