// Package transport определяет SPI транспортного слоя: endpoint'ы,
// контракты отправителя/получателя и реестр фабрик брокеров.
//
// Структура:
//   - endpoint.go — логические адресаты сообщений и их конфигурационные префиксы
//   - transport.go — контракты Sender/Receiver, Decision, ошибки транспорта
//   - registry.go — реестр именованных реализаций брокеров
//
// Контракт адаптера (любая реализация обязана):
//   - переносить поля заголовка конверта дословно;
//   - гарантировать at-least-once доставку обработчику; краткие сбои
//     брокера адаптер пересиживает сам, фатальные — логирует и отправляет
//     сообщение в DLQ либо оставляет на повторную доставку;
//   - ограничивать число одновременных вызовов обработчика на endpoint
//     (по умолчанию 1 — так порядок внутри run остаётся простым);
//   - не ронять цикл приёма из-за битого payload или ошибки обработчика:
//     залогировать, при необходимости в DLQ, продолжить;
//   - не делать прикладной дедупликации: это зона обработчика.
//
// Референсный адаптер — rabbitmq (подпакет). Прочие брокеры подключаются
// по той же схеме:
//
//   - SQS: очередь на endpoint, long polling вместо push-доставки,
//     видимость сообщения (visibility timeout) играет роль ack-окна,
//     DeleteMessage — роль ack, возврат по истечении видимости — nack.
//   - Managed service bus (топик/очередь-гибрид): подписка на очередь
//     endpoint'а, peek-lock режим — ack через complete, nack через abandon;
//     учётные данные передаются в конструктор клиента явным объектом,
//     а не процесс-глобальным синглтоном.
//   - Оркестрируемые контейнеры (job-планировщик): Send создаёт job с
//     конвертом в переменных окружения, очереди получателя нет — worker
//     живёт ровно один запрос; пропажу таких worker'ов компенсирует
//     Job Monitor через backend-специфичный LivenessChecker.
//
// Реализации регистрируются в реестре под своим именем (init подпакета),
// процесс выбирает адаптер по transport.broker из конфигурации.
package transport
