package monitor

import (
	"context"

	"github.com/shaiso/Cascade/internal/domain"
)

// Liveness — вердикт проверки живости worker'а.
type Liveness int

const (
	// LivenessUnknown — среда исполнения не может ответить.
	// Трактуется как Gone: просроченный heartbeat без подтверждения
	// жизни — достаточное основание для эскалации.
	LivenessUnknown Liveness = iota

	// LivenessAlive — worker жив и продолжает работу.
	LivenessAlive

	// LivenessGone — worker'а больше нет (процесс или контейнер умер).
	LivenessGone
)

// LivenessChecker — опциональная интеграция со средой исполнения
// worker'ов (container scheduler, supervisor процессов).
//
// Без него монитор опирается только на heartbeat-срок: worker, не
// подающий признаков жизни дольше таймаута, считается потерянным.
type LivenessChecker interface {
	Check(ctx context.Context, job *domain.Job) (Liveness, error)
}
