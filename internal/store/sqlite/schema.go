package sqlite

// schema is the DDL applied once on Open. Idempotent via IF NOT EXISTS,
// following the teacher's sagalog/sqlite schema verbatim in style. One
// table per entity in spec.md §3, indexed per spec.md §6.
const schema = `
CREATE TABLE IF NOT EXISTS sagas (
    correlation_id    TEXT PRIMARY KEY,
    operation_type    TEXT NOT NULL,
    entity_type       TEXT NOT NULL,
    entity_id         TEXT NOT NULL,
    current_state     TEXT NOT NULL,
    steps_completed   TEXT NOT NULL DEFAULT '[]',
    steps_remaining   TEXT NOT NULL DEFAULT '[]',
    context_data      TEXT,
    initiated_by      TEXT NOT NULL DEFAULT '',
    idempotency_key   TEXT,
    created_at        TEXT NOT NULL,
    updated_at        TEXT NOT NULL,
    completed_at      TEXT
);
CREATE INDEX IF NOT EXISTS idx_sagas_current_state ON sagas(current_state);
CREATE INDEX IF NOT EXISTS idx_sagas_operation_type ON sagas(operation_type);
CREATE UNIQUE INDEX IF NOT EXISTS idx_sagas_idempotency_key ON sagas(idempotency_key) WHERE idempotency_key IS NOT NULL;

CREATE TABLE IF NOT EXISTS recovery_queue (
    correlation_id    TEXT PRIMARY KEY REFERENCES sagas(correlation_id) ON DELETE CASCADE,
    operation_type    TEXT NOT NULL,
    operation_data    TEXT,
    retry_count       INTEGER NOT NULL DEFAULT 0,
    max_retries       INTEGER NOT NULL DEFAULT 5,
    next_retry_at     TEXT NOT NULL,
    last_error        TEXT NOT NULL DEFAULT '',
    status            TEXT NOT NULL DEFAULT 'pending',
    updated_at        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_recovery_status_next_retry ON recovery_queue(status, next_retry_at);

CREATE TABLE IF NOT EXISTS dlq_entries (
    correlation_id        TEXT PRIMARY KEY REFERENCES sagas(correlation_id) ON DELETE CASCADE,
    operation_type        TEXT NOT NULL,
    operation_data        TEXT,
    failure_reason        TEXT NOT NULL DEFAULT '',
    retry_count           INTEGER NOT NULL DEFAULT 0,
    requires_compensation INTEGER NOT NULL DEFAULT 0,
    compensation_status   TEXT NOT NULL DEFAULT 'pending',
    created_at            TEXT NOT NULL,
    resolved_at           TEXT,
    resolved_by           TEXT NOT NULL DEFAULT '',
    resolution_notes      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_dlq_resolved_op ON dlq_entries(resolved_at, operation_type);

CREATE TABLE IF NOT EXISTS compensation_actions (
    correlation_id TEXT NOT NULL REFERENCES sagas(correlation_id) ON DELETE CASCADE,
    action_type    TEXT NOT NULL,
    action_data    TEXT,
    status         TEXT NOT NULL DEFAULT 'pending',
    result         TEXT NOT NULL DEFAULT '',
    created_at     TEXT NOT NULL,
    executed_at    TEXT,
    PRIMARY KEY (correlation_id, action_type)
);

CREATE TABLE IF NOT EXISTS escrows (
    invoice_id        TEXT PRIMARY KEY,
    seller            TEXT NOT NULL,
    buyer             TEXT NOT NULL,
    amount            TEXT NOT NULL,
    token             TEXT NOT NULL,
    status            TEXT NOT NULL,
    seller_confirmed  INTEGER NOT NULL DEFAULT 0,
    buyer_confirmed   INTEGER NOT NULL DEFAULT 0,
    dispute_raised    INTEGER NOT NULL DEFAULT 0,
    created_at        TEXT NOT NULL,
    expires_at        TEXT NOT NULL,
    rwa_nft_contract  TEXT NOT NULL DEFAULT '',
    rwa_token_id      TEXT NOT NULL DEFAULT '',
    fee_amount        TEXT NOT NULL DEFAULT '0',
    discount_bps      INTEGER NOT NULL DEFAULT 0,
    discount_deadline TEXT
);
CREATE INDEX IF NOT EXISTS idx_escrows_status ON escrows(status);

CREATE TABLE IF NOT EXISTS multisig_approvals (
    invoice_id TEXT PRIMARY KEY REFERENCES escrows(invoice_id) ON DELETE CASCADE,
    approvers  TEXT NOT NULL DEFAULT '[]',
    required   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS dispute_votes (
    invoice_id              TEXT PRIMARY KEY REFERENCES escrows(invoice_id) ON DELETE CASCADE,
    snapshot_arbitrator_cnt INTEGER NOT NULL,
    votes_for_buyer         INTEGER NOT NULL DEFAULT 0,
    votes_for_seller        INTEGER NOT NULL DEFAULT 0,
    resolved                INTEGER NOT NULL DEFAULT 0,
    voted_arbitrators       TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS reconciliation_summaries (
    run_id                    TEXT PRIMARY KEY,
    run_type                  TEXT NOT NULL,
    total_count               INTEGER NOT NULL DEFAULT 0,
    matched_count             INTEGER NOT NULL DEFAULT 0,
    discrepancy_count         INTEGER NOT NULL DEFAULT 0,
    missing_chain_count       INTEGER NOT NULL DEFAULT 0,
    missing_db_count          INTEGER NOT NULL DEFAULT 0,
    total_discrepancy_amount  TEXT NOT NULL DEFAULT '0',
    started_at                TEXT NOT NULL,
    completed_at               TEXT,
    status                     TEXT NOT NULL,
    error_message              TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_reconciliation_summaries_started ON reconciliation_summaries(started_at DESC);

CREATE TABLE IF NOT EXISTS reconciliation_logs (
    id                  INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id              TEXT NOT NULL REFERENCES reconciliation_summaries(run_id) ON DELETE CASCADE,
    invoice_id          TEXT NOT NULL,
    chain_status        TEXT NOT NULL,
    db_status           TEXT NOT NULL,
    chain_amount        TEXT NOT NULL DEFAULT '',
    db_amount           TEXT NOT NULL DEFAULT '',
    discrepancy_amount  TEXT NOT NULL DEFAULT '0',
    discrepancy_type    TEXT NOT NULL,
    chain_counterparty  TEXT NOT NULL DEFAULT '',
    db_counterparty     TEXT NOT NULL DEFAULT '',
    notes               TEXT NOT NULL DEFAULT '',
    created_at          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reconciliation_logs_run_id ON reconciliation_logs(run_id);
CREATE INDEX IF NOT EXISTS idx_reconciliation_logs_discrepancy ON reconciliation_logs(discrepancy_type) WHERE discrepancy_type != 'none';
CREATE INDEX IF NOT EXISTS idx_reconciliation_logs_created_at ON reconciliation_logs(created_at DESC);

CREATE TABLE IF NOT EXISTS health_metrics (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    metric_type   TEXT NOT NULL,
    metric_name   TEXT NOT NULL,
    metric_value  REAL NOT NULL,
    recorded_at   TEXT NOT NULL,
    metadata      TEXT
);
CREATE INDEX IF NOT EXISTS idx_health_metrics_type_recorded ON health_metrics(metric_type, recorded_at DESC);
`
