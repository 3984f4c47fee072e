// Package worker — обвязка worker-процесса одного этапа конвейера.
//
// Worker подписан ровно на один endpoint запросов своего этапа.
// На каждый запрос он:
//  1. Загружает job и конфигурацию этапа из state store.
//  2. Публикует progress-сигнал "<stage>.started".
//  3. Выполняет прикладной Executor.
//  4. Публикует ровно одно финальное сообщение — результат или ошибку.
//
// Worker никогда не мутирует state store: все переходы статусов
// применяет оркестратор по сообщениям. Сам worker stateless и
// масштабируется горизонтально: несколько экземпляров потребляют
// одну очередь.
//
// Прикладная логика этапа живёт за интерфейсом Executor; обвязка
// отвечает за протокол обмена, heartbeat и перевод ошибок в
// финальные сообщения.
package worker
