package orchestrator

import (
	"context"
	"log/slog"

	"github.com/shaiso/Cascade/internal/message"
	"github.com/shaiso/Cascade/internal/telemetry"
	"github.com/shaiso/Cascade/internal/transport"
)

// handler возвращает обработчик endpoint'а.
//
// Ошибки обработки логируются, но цикл приёма не останавливают:
// состояние, недопримененное из-за транзиентного сбоя БД,
// восстановит Job Monitor (по зависшему job'у или застрявшему run),
// а повторная доставка того же сообщения безопасна и тоже продвигает
// run.
func (o *Orchestrator) handler(endpoint transport.Endpoint) transport.Handler {
	return func(ctx context.Context, env *message.Envelope) transport.Decision {
		telemetry.MessagesConsumed.WithLabelValues(endpoint.Name, string(env.Kind)).Inc()

		logger := telemetry.WithRun(o.logger, env.RunID, env.TraceID)
		if err := o.dispatch(ctx, logger, env); err != nil {
			logger.Error("message handling failed", "kind", env.Kind, "error", err)
		}
		return transport.Continue
	}
}

// dispatch применяет сообщение к машине состояний.
//
// Набор видов закрыт: неизвестный вид или битый payload — данные
// проблемы, они отбрасываются с предупреждением и до переходов
// не доходят.
func (o *Orchestrator) dispatch(ctx context.Context, logger *slog.Logger, env *message.Envelope) error {
	switch env.Kind {
	case message.KindRunCreated:
		return o.startRun(ctx, logger, env.RunID)

	case message.KindRunCancel:
		payload, err := message.Decode[message.RunCancel](env)
		if err != nil {
			logger.Warn("malformed cancel payload, discarding", "error", err)
			return nil
		}
		return o.cancelRun(ctx, logger, env.RunID, payload.Reason)
	}

	stage, variant, err := env.Kind.StageVariant()
	if err != nil {
		logger.Warn("unknown message kind, discarding", "kind", env.Kind, "error", err)
		return nil
	}

	switch variant {
	case message.VariantStarted:
		payload, err := message.Decode[message.StageStarted](env)
		if err != nil {
			logger.Warn("malformed payload, discarding", "kind", env.Kind, "error", err)
			return nil
		}
		return o.markRunning(ctx, logger, stage, payload.JobID)

	case message.VariantResult:
		payload, err := message.Decode[message.StageResult](env)
		if err != nil {
			logger.Warn("malformed payload, discarding", "kind", env.Kind, "error", err)
			return nil
		}
		status := resultStatus(payload.HasIssues)
		return o.completeJob(ctx, logger, stage, payload.JobID, status, payload.Summary, "")

	case message.VariantError:
		payload, err := message.Decode[message.WorkerError](env)
		if err != nil {
			logger.Warn("malformed payload, discarding", "kind", env.Kind, "error", err)
			return nil
		}
		return o.failJob(ctx, logger, env.Header, stage, payload.JobID, payload.Reason, payload.Retryable, payload.Attempt)

	default:
		// Запрос этапа адресован worker'у, на endpoint'ах оркестратора
		// ему взяться неоткуда.
		logger.Warn("unexpected message kind for orchestrator, discarding", "kind", env.Kind)
		return nil
	}
}
