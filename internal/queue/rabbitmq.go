package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/streadway/amqp"
)

// RabbitMQ is a Queue backed by a durable RabbitMQ queue with persistent messages.
type RabbitMQ struct {
	conn      *amqp.Connection
	pubMu     sync.Mutex
	pubCh     *amqp.Channel
	queueName string
	prefetch  int
}

// NewRabbitMQ dials the broker and declares the durable queue.
func NewRabbitMQ(url, queueName string, prefetch int) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}

	if _, err := ch.QueueDeclare(
		queueName,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare rabbitmq queue %q: %w", queueName, err)
	}

	if prefetch <= 0 {
		prefetch = 1
	}
	return &RabbitMQ{conn: conn, pubCh: ch, queueName: queueName, prefetch: prefetch}, nil
}

func (q *RabbitMQ) Publish(ctx context.Context, jobID string) error {
	body, err := encode(jobID)
	if err != nil {
		return err
	}

	q.pubMu.Lock()
	defer q.pubMu.Unlock()
	err = q.pubCh.Publish(
		"",
		q.queueName,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			MessageId:    jobID,
			Body:         body,
		})
	if errors.Is(err, amqp.ErrClosed) {
		return ErrClosed
	}
	if err != nil {
		return fmt.Errorf("publish job %s: %w", jobID, err)
	}
	return nil
}

// Consume opens a dedicated channel and dispatches deliveries one by one.
func (q *RabbitMQ) Consume(ctx context.Context, h Handler) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("open rabbitmq consumer channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(q.prefetch, 0, false); err != nil {
		return fmt.Errorf("set rabbitmq qos: %w", err)
	}

	msgs, err := ch.Consume(q.queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume rabbitmq queue %q: %w", q.queueName, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("rabbitmq delivery channel closed")
			}
			q.dispatch(ctx, d, h)
		}
	}
}

func (q *RabbitMQ) dispatch(ctx context.Context, d amqp.Delivery, h Handler) {
	jobID, err := decode(d.Body)
	if err != nil {
		log.Error().Err(err).Msg("queue: dropping malformed delivery")
		_ = d.Nack(false, false)
		return
	}

	if err := h(ctx, jobID); err != nil {
		log.Error().Err(err).Str("job_id", jobID).Msg("queue: job handler failed")
		if err := d.Nack(false, false); err != nil {
			log.Error().Err(err).Str("job_id", jobID).Msg("queue: nack failed")
		}
		return
	}
	if err := d.Ack(false); err != nil {
		log.Error().Err(err).Str("job_id", jobID).Msg("queue: ack failed")
	}
}

func (q *RabbitMQ) Close() error {
	if err := q.pubCh.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return fmt.Errorf("close rabbitmq channel: %w", err)
	}
	if err := q.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return fmt.Errorf("close rabbitmq connection: %w", err)
	}
	return nil
}
