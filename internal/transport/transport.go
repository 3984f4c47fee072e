package transport

import (
	"context"
	"fmt"

	"github.com/shaiso/Cascade/internal/message"
)

// Decision — решение обработчика после обработки сообщения.
type Decision int

const (
	// Continue — оставить цикл приёма работающим.
	Continue Decision = iota

	// Stop — дообработать сообщения в полёте и освободить соединение.
	Stop
)

// Handler обрабатывает одно входящее сообщение.
//
// Обработчик — единственное место, где применяется семантика сообщения
// (дедупликация, переходы состояний). Транспортный слой прикладную
// дедупликацию не делает.
type Handler func(ctx context.Context, env *message.Envelope) Decision

// Sender публикует сообщения в endpoint.
//
// Ошибка Send означает «исход неизвестен»: сообщение могло как дойти,
// так и нет. Вызывающий код опирается на идемпотентность обработки
// ниже по течению, а не на успех Send как на сигнал коммита.
type Sender interface {
	Send(ctx context.Context, env *message.Envelope) error
	Close() error
}

// SenderFactory создаёт Sender для endpoint'а.
type SenderFactory interface {
	CreateSender(ctx context.Context, cfg *Options, endpoint Endpoint) (Sender, error)
}

// ReceiverFactory запускает бесконечный цикл приёма для endpoint'а.
//
// Вызов блокирует вызывающую горутину: для каждого входящего сообщения
// вызывается handler; Continue оставляет цикл работать, Stop дренирует
// сообщения в полёте и освобождает соединение. Возврат без ошибки
// означает остановку по Stop или по отмене контекста.
type ReceiverFactory interface {
	Receive(ctx context.Context, cfg *Options, endpoint Endpoint, handler Handler) error
}

// Canceller — опциональная способность адаптера: best-effort отмена
// работы в полёте для run. Брокеры без такой возможности её просто
// не реализуют; оркестратор проверяет интерфейс динамически.
type Canceller interface {
	CancelRun(ctx context.Context, runID int64) error
}

// Error — ошибка транспортного слоя (брокер недоступен, сбой
// сериализации). Транзиентные варианты адаптер повторяет сам и до
// машины состояний они не доходят.
type Error struct {
	// Op — операция, на которой случился сбой ("send", "receive", "dial").
	Op string

	// Endpoint — имя endpoint'а.
	Endpoint string

	// Err — исходная ошибка.
	Err error
}

// Error реализует error.
func (e *Error) Error() string {
	return fmt.Sprintf("transport %s %s: %v", e.Op, e.Endpoint, e.Err)
}

// Unwrap возвращает исходную ошибку.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError создаёт ошибку транспорта.
func NewError(op string, endpoint Endpoint, err error) *Error {
	return &Error{Op: op, Endpoint: endpoint.Name, Err: err}
}
