package rmq

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RetriesHeader counts how many times a job has been re-published.
const RetriesHeader = "x-retries"

type Publisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

func NewPublisher(url, queue string) (*Publisher, error) {
	conn, ch, err := open(url, queue)
	if err != nil {
		return nil, err
	}
	return &Publisher{conn: conn, ch: ch, queue: queue}, nil
}

func (p *Publisher) Close() error {
	_ = p.ch.Close()
	return p.conn.Close()
}

func (p *Publisher) PublishJSON(ctx context.Context, body []byte) error {
	return p.PublishJSONWithHeaders(ctx, body, nil)
}

func (p *Publisher) PublishJSONWithHeaders(ctx context.Context, body []byte, headers amqp.Table) error {
	return p.ch.PublishWithContext(ctx,
		"", p.queue, false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Headers:      headers,
			Body:         body,
		})
}

type Consumer struct {
	conn  *amqp.Connection
	Ch    *amqp.Channel
	Queue string
}

func NewConsumer(url, queue string, prefetch int) (*Consumer, error) {
	conn, ch, err := open(url, queue)
	if err != nil {
		return nil, err
	}
	if prefetch <= 0 {
		prefetch = 10
	}
	_ = ch.Qos(prefetch, 0, false)
	return &Consumer{conn: conn, Ch: ch, Queue: queue}, nil
}

func (c *Consumer) Consume() (<-chan amqp.Delivery, error) {
	return c.Ch.Consume(c.Queue, "", false, false, false, false, nil)
}

func (c *Consumer) Close() error {
	_ = c.Ch.Close()
	return c.conn.Close()
}

func open(url, queue string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return conn, ch, nil
}

// Retries reads RetriesHeader, tolerating the integer widths AMQP peers use.
func Retries(h amqp.Table) int {
	if h == nil {
		return 0
	}
	switch t := h[RetriesHeader].(type) {
	case int32:
		return int(t)
	case int64:
		return int(t)
	case int:
		return t
	case int16:
		return int(t)
	case uint8:
		return int(t)
	}
	return 0
}

// WithRetries returns a copy of h with RetriesHeader set to n.
func WithRetries(h amqp.Table, n int) amqp.Table {
	dup := make(amqp.Table, len(h)+1)
	for k, v := range h {
		dup[k] = v
	}
	dup[RetriesHeader] = int32(n)
	return dup
}
