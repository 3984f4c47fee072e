// Package orchestrator — ядро машины состояний конвейера.
//
// Оркестратор потребляет события (run.created, run.cancel, ответы
// этапов), применяет переходы к state store и планирует следующие
// этапы. Топология конвейера фиксирована и задана таблицей
// scheduleRules:
//
//	config → analyzer → {advisor, scanner} → evaluator → reporter → notifier
//
// Вся координация идёт через условные UPDATE в state store: переход в
// финальный статус применяется не более одного раза, повторная доставка
// того же сообщения распознаётся как дубликат (applied=false) и
// отбрасывается без побочных эффектов. Строка job в БД и есть
// single-writer-замок — прикладных мьютексов и реестра активных runs
// в памяти нет, поэтому обработчики разных экземпляров оркестратора
// могут работать параллельно.
//
// Порядок «сначала коммит, потом публикация» держит инвариант: для
// job'а в SCHEDULED без сообщения в полёте восстановление делает
// Job Monitor, а сообщение для незакоммиченного job'а не публикуется
// никогда.
package orchestrator
