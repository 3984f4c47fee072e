// Package cli реализует инструмент командной строки Cascade.
//
// CLI играет роль API-слоя: создаёт записи runs в state store и
// публикует события (run.created, run.cancel) в inbox оркестратора.
// Команды чтения (show, list, jobs) ходят в state store напрямую.
//
// ## Client
//
// Обёртка над репозиториями и sender'ом inbox'а оркестратора.
// Создание run — двухфазное: сначала запись коммитится в БД, затем
// публикуется run.created. Ошибка публикации не откатывает запись:
// команда notify позволяет повторить уведомление.
//
// ## Output
//
// Два режима вывода: таблицы через text/tabwriter (по умолчанию) и
// JSON с флагом --json. Данные идут в stdout, сообщения — в stderr,
// поэтому вывод можно передавать в pipe: cascade run list --json | jq .
//
// Каждая группа команд создаётся фабричной функцией (NewRunCmd),
// принимающей clientFn и outputFn — замыкания для ленивого создания
// Client и Output после парсинга PersistentFlags.
package cli
