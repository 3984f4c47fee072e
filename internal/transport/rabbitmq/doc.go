// Package rabbitmq — референсный адаптер транспорта поверх RabbitMQ.
//
// Структура:
//   - connection.go — соединение с автоматическим reconnect
//   - topology.go   — объявление exchange, очередей и DLQ
//   - sender.go     — публикация конвертов (persistent delivery)
//   - receiver.go   — цикл приёма с ручным ack и prefetch
//   - rabbitmq.go   — фабрики и регистрация в реестре транспорта
//
// Гарантии:
//   - at-least-once: ack только после возврата обработчика; разрыв
//     соединения до ack ведёт к повторной доставке;
//   - prefetch ограничивает число обработчиков в полёте на endpoint
//     (по умолчанию 1);
//   - битый конверт уходит в DLQ очереди, паника обработчика — возврат
//     в очередь на повторную доставку; цикл приёма живёт дальше.
package rabbitmq
