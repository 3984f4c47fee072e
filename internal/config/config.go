package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Ошибки загрузки конфигурации.
var (
	// ErrMissingSection — обязательная секция отсутствует.
	ErrMissingSection = errors.New("missing config section")

	// ErrMissingValue — обязательное значение не задано.
	ErrMissingValue = errors.New("missing config value")
)

// Duration — обёртка над time.Duration с разбором из YAML-строки
// ("30s", "5m" и т.п.).
type Duration time.Duration

// UnmarshalYAML реализует yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std возвращает значение как time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config — конфигурация процесса.
//
// Загружается из YAML-файла; отдельные значения могут быть
// переопределены переменными окружения (DB_URL, RABBITMQ_URL).
type Config struct {
	Database     Database     `yaml:"database"`
	Transport    Transport    `yaml:"transport"`
	Orchestrator Orchestrator `yaml:"orchestrator"`
	Monitor      Monitor      `yaml:"monitor"`
}

// Database — настройки подключения к state store.
type Database struct {
	// URL — DSN подключения к Postgres. Переопределяется DB_URL.
	URL string `yaml:"url"`
}

// Transport — настройки транспортного слоя.
type Transport struct {
	// Broker — имя реализации брокера из реестра фабрик ("rabbitmq").
	Broker string `yaml:"broker"`

	// RabbitMQ — настройки референсного адаптера.
	RabbitMQ RabbitMQ `yaml:"rabbitmq"`

	// Endpoints — секции endpoint'ов, ключ — config prefix endpoint'а.
	Endpoints map[string]Endpoint `yaml:"endpoints"`
}

// RabbitMQ — настройки подключения к RabbitMQ.
type RabbitMQ struct {
	// URL — AMQP URL. Переопределяется RABBITMQ_URL.
	URL string `yaml:"url"`
}

// Endpoint — настройки одного endpoint'а.
type Endpoint struct {
	// Queue — имя очереди у брокера.
	Queue string `yaml:"queue"`

	// Concurrency — предел одновременных вызовов обработчика.
	// По умолчанию 1: сохраняет простой порядок сообщений внутри run.
	Concurrency int `yaml:"concurrency"`
}

// Orchestrator — настройки ядра оркестратора.
type Orchestrator struct {
	// MaxRetries — бюджет повторов job'а. Обязательное значение:
	// задаётся деплоем, встроенного значения по умолчанию нет.
	MaxRetries *int `yaml:"max_retries"`
}

// Monitor — настройки Job Monitor.
type Monitor struct {
	// SweepInterval — период обхода незавершённых jobs. Обязательное значение.
	SweepInterval Duration `yaml:"sweep_interval"`

	// HeartbeatTimeout — срок от публикации запроса (или последнего
	// признака жизни) до признания job'а зависшим. Обязательное значение.
	HeartbeatTimeout Duration `yaml:"heartbeat_timeout"`

	// MinJobAge — минимальный возраст job'а для обработки монитором.
	// Защищает от гонки с jobs, которые только что созданы и ещё не
	// дошли до брокера.
	MinJobAge Duration `yaml:"min_job_age"`
}

// Load читает и валидирует конфигурацию из файла.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

// applyEnv накладывает переопределения из переменных окружения.
func (c *Config) applyEnv() {
	if v := os.Getenv("DB_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("RABBITMQ_URL"); v != "" {
		c.Transport.RabbitMQ.URL = v
	}
}

// Validate проверяет обязательные значения.
//
// Бюджет retry и интервалы монитора — обязательные входы деплоя:
// подставлять за оператора «разумные» значения здесь запрещено.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("%w: database.url", ErrMissingValue)
	}
	if c.Transport.Broker == "" {
		return fmt.Errorf("%w: transport.broker", ErrMissingValue)
	}
	if len(c.Transport.Endpoints) == 0 {
		return fmt.Errorf("%w: transport.endpoints", ErrMissingSection)
	}
	if c.Orchestrator.MaxRetries == nil {
		return fmt.Errorf("%w: orchestrator.max_retries", ErrMissingValue)
	}
	if *c.Orchestrator.MaxRetries < 0 {
		return fmt.Errorf("orchestrator.max_retries must be >= 0, got %d", *c.Orchestrator.MaxRetries)
	}
	if c.Monitor.SweepInterval <= 0 {
		return fmt.Errorf("%w: monitor.sweep_interval", ErrMissingValue)
	}
	if c.Monitor.HeartbeatTimeout <= 0 {
		return fmt.Errorf("%w: monitor.heartbeat_timeout", ErrMissingValue)
	}
	return nil
}

// Endpoint возвращает секцию endpoint'а по его config prefix.
// Отсутствие секции — ошибка конструирования endpoint'а (fail fast).
func (t *Transport) Endpoint(prefix string) (Endpoint, error) {
	ep, ok := t.Endpoints[prefix]
	if !ok {
		return Endpoint{}, fmt.Errorf("%w: transport.endpoints.%s", ErrMissingSection, prefix)
	}
	if ep.Queue == "" {
		return Endpoint{}, fmt.Errorf("%w: transport.endpoints.%s.queue", ErrMissingValue, prefix)
	}
	if ep.Concurrency <= 0 {
		ep.Concurrency = 1
	}
	return ep, nil
}

// Retries возвращает значение max_retries — бюджет повторов job'а.
// Вызывать только после успешной Validate.
func (o *Orchestrator) Retries() int {
	if o.MaxRetries == nil {
		return 0
	}
	return *o.MaxRetries
}
