package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shaiso/Cascade/internal/config"
)

// Options — общие зависимости адаптера.
//
// Учётные данные брокера живут в Config и передаются в конструктор
// клиента явно. Процесс-глобальных синглтонов с креденшелами нет:
// два адаптера с разными учётными данными могут жить в одном процессе.
type Options struct {
	// Config — транспортная секция конфигурации.
	Config *config.Transport

	// Logger — логгер процесса.
	Logger *slog.Logger
}

// registration — зарегистрированная реализация брокера.
type registration struct {
	sender   SenderFactory
	receiver ReceiverFactory
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]registration)
)

// Register регистрирует реализацию брокера под именем.
// Вызывается из init подпакета адаптера; повторная регистрация
// одного имени — ошибка программирования.
func Register(name string, sender SenderFactory, receiver ReceiverFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("transport: broker %q registered twice", name))
	}
	registry[name] = registration{sender: sender, receiver: receiver}
}

// lookup возвращает реализацию по имени из конфигурации.
func lookup(cfg *config.Transport) (registration, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	reg, ok := registry[cfg.Broker]
	if !ok {
		return registration{}, fmt.Errorf("transport: unknown broker %q", cfg.Broker)
	}
	return reg, nil
}

// NewSender создаёт Sender для endpoint'а через реализацию,
// указанную в transport.broker.
func NewSender(ctx context.Context, opts *Options, endpoint Endpoint) (Sender, error) {
	reg, err := lookup(opts.Config)
	if err != nil {
		return nil, err
	}
	return reg.sender.CreateSender(ctx, opts, endpoint)
}

// Receive запускает цикл приёма для endpoint'а через реализацию,
// указанную в transport.broker. Блокирует до Stop или отмены контекста.
func Receive(ctx context.Context, opts *Options, endpoint Endpoint, handler Handler) error {
	reg, err := lookup(opts.Config)
	if err != nil {
		return err
	}
	return reg.receiver.Receive(ctx, opts, endpoint, handler)
}
