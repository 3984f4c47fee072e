package rabbitmq

import (
	"context"
	"sync"

	"github.com/shaiso/Cascade/internal/transport"
)

// Name — имя адаптера в реестре транспорта.
const Name = "rabbitmq"

// factory создаёт sender'ы и receiver'ы поверх общего соединения.
//
// Соединение устанавливается лениво при первом обращении и общее для
// всех endpoint'ов процесса с одним URL; топология объявляется один
// раз вместе с ним.
type factory struct {
	mu    sync.Mutex
	conns map[string]*Connection
}

func init() {
	f := &factory{conns: make(map[string]*Connection)}
	transport.Register(Name, f, f)
}

// connection возвращает (устанавливая при необходимости) соединение
// для URL из конфигурации.
func (f *factory) connection(opts *transport.Options) (*Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	url := opts.Config.RabbitMQ.URL
	if conn, ok := f.conns[url]; ok {
		return conn, nil
	}

	conn, err := Dial(url, opts.Logger)
	if err != nil {
		return nil, err
	}

	if err := DeclareTopology(conn, opts.Config); err != nil {
		conn.Close()
		return nil, err
	}

	f.conns[url] = conn
	return conn, nil
}

// CreateSender реализует transport.SenderFactory.
func (f *factory) CreateSender(ctx context.Context, opts *transport.Options, endpoint transport.Endpoint) (transport.Sender, error) {
	ep, err := endpoint.Resolve(opts.Config)
	if err != nil {
		return nil, err
	}

	conn, err := f.connection(opts)
	if err != nil {
		return nil, transport.NewError("dial", endpoint, err)
	}

	return &Sender{
		conn:     conn,
		endpoint: endpoint,
		queue:    ep.Queue,
		logger:   opts.Logger,
	}, nil
}

// Receive реализует transport.ReceiverFactory.
func (f *factory) Receive(ctx context.Context, opts *transport.Options, endpoint transport.Endpoint, handler transport.Handler) error {
	ep, err := endpoint.Resolve(opts.Config)
	if err != nil {
		return err
	}

	conn, err := f.connection(opts)
	if err != nil {
		return transport.NewError("dial", endpoint, err)
	}

	r := &receiver{
		conn:     conn,
		endpoint: endpoint,
		queue:    ep.Queue,
		prefetch: ep.Concurrency,
		handler:  handler,
		logger:   opts.Logger,
	}
	return r.run(ctx)
}
