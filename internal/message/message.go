package message

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion — текущая версия схемы конверта.
// Декодер игнорирует неизвестные поля, что позволяет катить
// обновления схемы без остановки всех сервисов разом.
const SchemaVersion = 1

// Header — заголовок, присутствующий в каждом сообщении.
//
// Адаптеры транспорта обязаны переносить поля заголовка дословно.
type Header struct {
	// TraceID коррелирует все сообщения одного run.
	// Стабилен при повторных доставках и retry.
	TraceID string `json:"traceId"`

	// RunID идентифицирует run.
	RunID int64 `json:"runId"`
}

// Envelope — конверт сообщения: заголовок + вид + payload.
//
// Payload сериализуется как версионированный JSON-документ;
// его конкретный тип определяется полем Kind (см. payloads.go).
type Envelope struct {
	Header

	// ID — уникальный идентификатор сообщения (для логов и DLQ).
	ID string `json:"id"`

	// Version — версия схемы payload.
	Version int `json:"v"`

	// Kind — вид сообщения из закрытого набора.
	Kind Kind `json:"kind"`

	// Payload — сырой JSON payload.
	Payload json.RawMessage `json:"payload"`

	// Timestamp — время создания сообщения.
	Timestamp time.Time `json:"timestamp"`
}

// New создаёт конверт с указанным заголовком, видом и payload.
func New(header Header, kind Kind, payload any) (*Envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	return &Envelope{
		Header:    header,
		ID:        uuid.New().String(),
		Version:   SchemaVersion,
		Kind:      kind,
		Payload:   body,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Decode декодирует payload конверта в указанный тип.
// Неизвестные поля игнорируются (rolling upgrades).
func Decode[T any](env *Envelope) (T, error) {
	var payload T
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return payload, fmt.Errorf("unmarshal %s payload: %w", env.Kind, err)
	}
	return payload, nil
}

// Marshal сериализует конверт для передачи по транспорту.
func (e *Envelope) Marshal() ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return body, nil
}

// Unmarshal разбирает конверт из сырых байт транспорта.
func Unmarshal(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return &env, nil
}
