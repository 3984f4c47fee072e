// Package repo — репозитории state store (Postgres через pgx).
//
// State store — единственный источник истины и единственный общий
// мутируемый ресурс системы. Брокеры — только механизм доставки.
// Все мутации — короткие однострочные транзакции; условные UPDATE
// делают их идемпотентными при повторе.
//
// Ожидаемая схема:
//
//	CREATE TABLE runs (
//	    id          BIGSERIAL PRIMARY KEY,
//	    trace_id    TEXT        NOT NULL,
//	    status      TEXT        NOT NULL,
//	    job_configs JSONB,
//	    labels      JSONB,
//	    error       TEXT,
//	    created_at  TIMESTAMPTZ NOT NULL,
//	    finished_at TIMESTAMPTZ
//	);
//
//	CREATE TABLE jobs (
//	    id                 BIGSERIAL PRIMARY KEY,
//	    run_id             BIGINT      NOT NULL REFERENCES runs (id),
//	    stage              TEXT        NOT NULL,
//	    status             TEXT        NOT NULL,
//	    attempt            INT         NOT NULL DEFAULT 1,
//	    summary            TEXT,
//	    error              TEXT,
//	    heartbeat_deadline TIMESTAMPTZ NOT NULL,
//	    started_at         TIMESTAMPTZ,
//	    finished_at        TIMESTAMPTZ,
//	    created_at         TIMESTAMPTZ NOT NULL,
//	    UNIQUE (run_id, stage)
//	);
//
//	CREATE INDEX jobs_stale_idx ON jobs (heartbeat_deadline)
//	    WHERE status IN ('SCHEDULED', 'RUNNING');
package repo
