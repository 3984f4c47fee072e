package transport

import (
	"fmt"

	"github.com/shaiso/Cascade/internal/config"
	"github.com/shaiso/Cascade/internal/domain"
)

// Endpoint — логический адресат сообщений: имя и префикс секции
// в транспортной конфигурации. Endpoint'ы неизменяемы и определяются
// при старте процесса.
type Endpoint struct {
	// Name — имя endpoint'а (для логов и метрик).
	Name string

	// ConfigPrefix — ключ секции transport.endpoints в конфигурации.
	ConfigPrefix string
}

// OrchestratorEndpoint — собственный inbox оркестратора
// (run.created, run.cancel).
var OrchestratorEndpoint = Endpoint{Name: "orchestrator", ConfigPrefix: "orchestrator"}

// StageEndpoint возвращает endpoint запросов этапа.
// Worker этапа подписан ровно на него.
func StageEndpoint(stage domain.Stage) Endpoint {
	return Endpoint{Name: string(stage), ConfigPrefix: string(stage)}
}

// ReplyEndpoint возвращает endpoint ответов этапа.
// Worker публикует сюда ровно одно финальное сообщение на запрос;
// потребляет его оркестратор.
func ReplyEndpoint(stage domain.Stage) Endpoint {
	return Endpoint{
		Name:         string(stage) + "-results",
		ConfigPrefix: string(stage) + ".results",
	}
}

// Resolve возвращает конфигурацию endpoint'а.
// Отсутствие секции — ошибка на старте процесса (fail fast), а не при
// первой отправке.
func (e Endpoint) Resolve(cfg *config.Transport) (config.Endpoint, error) {
	ep, err := cfg.Endpoint(e.ConfigPrefix)
	if err != nil {
		return config.Endpoint{}, fmt.Errorf("endpoint %s: %w", e.Name, err)
	}
	return ep, nil
}
