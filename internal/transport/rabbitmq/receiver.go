package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Cascade/internal/message"
	"github.com/shaiso/Cascade/internal/transport"
)

var errNoChannel = errors.New("no channel available")

// receiver — цикл приёма для одного endpoint'а.
type receiver struct {
	conn     *Connection
	endpoint transport.Endpoint
	queue    string
	prefetch int
	handler  transport.Handler
	logger   *slog.Logger
}

// run — основной цикл приёма. Блокирует до Stop или отмены контекста;
// разрывы соединения пересиживает, дожидаясь reconnect.
func (r *receiver) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		deliveries, err := r.setupConsume()
		if err != nil {
			r.logger.Error("failed to setup consume", "queue", r.queue, "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-r.conn.ReconnectNotify():
				r.logger.Info("reconnected, restarting consumer", "queue", r.queue)
				continue
			}
		}

		r.logger.Info("consumer started", "endpoint", r.endpoint.Name, "queue", r.queue)

		stopped, err := r.processDeliveries(ctx, deliveries)
		if stopped {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Warn("deliveries channel closed, reconnecting", "queue", r.queue)
			select {
			case <-ctx.Done():
				return nil
			case <-r.conn.ReconnectNotify():
				continue
			}
		}
	}
}

// setupConsume настраивает канал и начинает потребление.
func (r *receiver) setupConsume() (<-chan amqp.Delivery, error) {
	ch := r.conn.Channel()
	if ch == nil {
		return nil, errNoChannel
	}

	// prefetch ограничивает число обработчиков в полёте на endpoint.
	if err := ch.Qos(r.prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		r.queue, // queue
		"",      // consumer tag (auto-generated)
		false,   // auto-ack (ack вручную)
		false,   // exclusive
		false,   // no-local
		false,   // no-wait
		nil,     // args
	)
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}

	return deliveries, nil
}

// processDeliveries обрабатывает сообщения из канала.
// Возвращает (true, nil) при решении Stop от обработчика.
func (r *receiver) processDeliveries(ctx context.Context, deliveries <-chan amqp.Delivery) (bool, error) {
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()

		case raw, ok := <-deliveries:
			if !ok {
				return false, errors.New("deliveries channel closed")
			}

			if r.handleDelivery(ctx, raw) == transport.Stop {
				return true, nil
			}
		}
	}
}

// handleDelivery обрабатывает одно сообщение.
//
// Битый конверт уходит в DLQ. Паника обработчика не роняет цикл:
// сообщение возвращается в очередь на повторную доставку.
func (r *receiver) handleDelivery(ctx context.Context, raw amqp.Delivery) (decision transport.Decision) {
	env, err := message.Unmarshal(raw.Body)
	if err != nil {
		r.logger.Error("failed to unmarshal envelope",
			"queue", r.queue,
			"error", err,
			"body", string(raw.Body),
		)
		raw.Nack(false, false) // в DLQ
		return transport.Continue
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("handler panic",
				"queue", r.queue,
				"message_id", env.ID,
				"kind", env.Kind,
				"panic", rec,
			)
			raw.Nack(false, true) // вернуть в очередь
			decision = transport.Continue
		}
	}()

	r.logger.Debug("received message",
		"endpoint", r.endpoint.Name,
		"message_id", env.ID,
		"kind", env.Kind,
		"run_id", env.RunID,
	)

	decision = r.handler(ctx, env)

	raw.Ack(false)
	return decision
}
