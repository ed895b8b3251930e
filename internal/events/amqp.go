package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPClient publishes and consumes task events over a durable RabbitMQ
// queue. The same client backs both the API (publish) and the worker
// (consume).
type AMQPClient struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   amqp.Queue
	logger  *slog.Logger
}

var (
	_ Publisher = (*AMQPClient)(nil)
	_ Consumer  = (*AMQPClient)(nil)
)

// NewAMQPClient dials the broker and declares the queue. Declaration is
// idempotent so API and worker can start in any order.
func NewAMQPClient(url, queueName string, logger *slog.Logger) (*AMQPClient, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	queue, err := channel.QueueDeclare(
		queueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	logger.Info("event queue ready", "queue", queue.Name, "pending", queue.Messages)
	return &AMQPClient{conn: conn, channel: channel, queue: queue, logger: logger}, nil
}

// PublishTaskEvent enqueues one event as JSON.
func (c *AMQPClient) PublishTaskEvent(ctx context.Context, event TaskEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	publishCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = c.channel.PublishWithContext(
		publishCtx,
		"",           // exchange
		c.queue.Name, // routing key
		false,        // mandatory
		false,        // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// StartConsuming registers a consumer and dispatches deliveries to the
// handler until the context is cancelled. Malformed messages are dropped;
// handler failures requeue the delivery.
func (c *AMQPClient) StartConsuming(ctx context.Context, handler func(context.Context, TaskEvent) error) error {
	deliveries, err := c.channel.Consume(
		c.queue.Name,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	go func() {
		for {
			select {
			case msg, ok := <-deliveries:
				if !ok {
					c.logger.Info("event channel closed, consumer stopping")
					return
				}
				var event TaskEvent
				if err := json.Unmarshal(msg.Body, &event); err != nil {
					c.logger.Error("malformed event dropped", "error", err)
					_ = msg.Nack(false, false)
					continue
				}
				if err := handler(ctx, event); err != nil {
					c.logger.Error("event handler failed, requeueing", "type", event.Type, "task_id", event.TaskID, "error", err)
					_ = msg.Nack(false, true)
					continue
				}
				_ = msg.Ack(false)
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// Close releases the channel and connection.
func (c *AMQPClient) Close() error {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
