// Package message определяет типизированный конверт сообщений,
// общий для всех endpoint'ов системы.
//
// Структура:
//   - message.go  — Header, Envelope, кодирование/декодирование payload
//   - payloads.go — закрытый набор видов сообщений и их payload-структуры
//
// Конверт технологически нейтрален: адаптеры транспорта переносят его
// как JSON-документ, не заглядывая внутрь. Семантика сообщения (dedup,
// переходы состояний) применяется исключительно в обработчике.
package message
