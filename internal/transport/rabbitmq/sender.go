package rabbitmq

import (
	"context"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Cascade/internal/message"
	"github.com/shaiso/Cascade/internal/transport"
)

// Sender публикует конверты в очередь endpoint'а.
//
// Публикация persistent: сообщение переживает рестарт брокера.
// Ошибка Send — «исход неизвестен»; вызывающий код опирается на
// идемпотентность обработки, а не на успех публикации.
type Sender struct {
	conn     *Connection
	endpoint transport.Endpoint
	queue    string
	logger   *slog.Logger
}

// Send публикует конверт.
func (s *Sender) Send(ctx context.Context, env *message.Envelope) error {
	body, err := env.Marshal()
	if err != nil {
		return transport.NewError("send", s.endpoint, err)
	}

	ch := s.conn.Channel()
	if ch == nil {
		return transport.NewError("send", s.endpoint, errNoChannel)
	}

	err = ch.PublishWithContext(
		ctx,
		exchangeMain, // exchange
		s.queue,      // routing key
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    env.ID,
			Timestamp:    env.Timestamp,
			Body:         body,
		},
	)
	if err != nil {
		return transport.NewError("send", s.endpoint, err)
	}

	s.logger.Debug("published message",
		"endpoint", s.endpoint.Name,
		"queue", s.queue,
		"message_id", env.ID,
		"kind", env.Kind,
		"run_id", env.RunID,
	)

	return nil
}

// Close ничего не освобождает: соединение общее на процесс
// и закрывается его владельцем.
func (s *Sender) Close() error {
	return nil
}
