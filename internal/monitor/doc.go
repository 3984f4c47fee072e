// Package monitor реализует Job Monitor — страховку от потерянных
// сообщений и умерших worker'ов.
//
// Монитор периодически обходит незавершённые jobs с истекшим
// heartbeat-сроком и эскалирует каждый: продлевает срок живому
// worker'у, переотправляет запрос в пределах бюджета retry или
// принудительно проваливает job. Отдельно он заново продвигает
// ACTIVE runs, у которых не осталось незавершённых jobs: такой run
// застрял между финальным переходом и планированием следующего этапа
// и по heartbeat-сроку не виден. Все вмешательства идут через
// переходы ядра оркестратора, поэтому наследуют его дедупликацию:
// поздний настоящий результат после вмешательства отбрасывается.
//
// Монитор не обязан быть единственным — условные UPDATE делают
// одновременные эскалации безопасными, — но чтобы не плодить
// лишние повторы, процессы разыгрывают лидерство через
// pg_try_advisory_lock (см. cmd/cascade-monitor).
package monitor
