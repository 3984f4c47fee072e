package rabbitmq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Cascade/internal/config"
)

// Имена exchange'ей.
const (
	// exchangeMain — прямой exchange для всех endpoint'ов;
	// routing key совпадает с именем очереди.
	exchangeMain = "cascade"

	// exchangeDLQ — exchange для dead-letter очередей.
	exchangeDLQ = "cascade.dlq"
)

// dlqQueue возвращает имя dead-letter очереди для очереди endpoint'а.
func dlqQueue(queue string) string {
	return queue + ".dlq"
}

// DeclareTopology объявляет exchange'и, очереди endpoint'ов и их DLQ.
//
// Объявления идемпотентны: топологию безопасно объявлять из каждого
// процесса при старте.
func DeclareTopology(conn *Connection, cfg *config.Transport) error {
	ch := conn.Channel()
	if ch == nil {
		return fmt.Errorf("no channel available")
	}

	for _, name := range []string{exchangeMain, exchangeDLQ} {
		err := ch.ExchangeDeclare(
			name,     // name
			"direct", // type
			true,     // durable
			false,    // auto-deleted
			false,    // internal
			false,    // no-wait
			nil,      // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", name, err)
		}
	}

	for prefix, ep := range cfg.Endpoints {
		if err := declareEndpointQueues(ch, ep.Queue); err != nil {
			return fmt.Errorf("endpoint %s: %w", prefix, err)
		}
	}

	return nil
}

// declareEndpointQueues объявляет очередь endpoint'а, её DLQ и привязки.
func declareEndpointQueues(ch *amqp.Channel, queue string) error {
	dlq := dlqQueue(queue)

	// Битые сообщения из основной очереди уходят в DLQ.
	args := amqp.Table{
		"x-dead-letter-exchange":    exchangeDLQ,
		"x-dead-letter-routing-key": dlq,
	}

	if _, err := ch.QueueDeclare(queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	if err := ch.QueueBind(queue, queue, exchangeMain, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", queue, err)
	}

	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", dlq, err)
	}
	if err := ch.QueueBind(dlq, dlq, exchangeDLQ, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", dlq, err)
	}

	return nil
}
