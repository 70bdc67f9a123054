package history

const schema = `
CREATE TABLE IF NOT EXISTS invocations (
    id TEXT PRIMARY KEY,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP,
    units TEXT,
    runs INTEGER NOT NULL,
    width INTEGER NOT NULL,
    total INTEGER DEFAULT 0,
    passed INTEGER DEFAULT 0,
    failed INTEGER DEFAULT 0,
    errored INTEGER DEFAULT 0,
    collected INTEGER DEFAULT 0,
    merge_inputs INTEGER DEFAULT 0,
    merged BOOLEAN DEFAULT FALSE,
    report_ok BOOLEAN DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS idx_invocations_started_at ON invocations(started_at);

CREATE TABLE IF NOT EXISTS task_results (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    invocation_id TEXT NOT NULL REFERENCES invocations(id) ON DELETE CASCADE,
    order_index INTEGER NOT NULL,
    unit TEXT NOT NULL,
    unit_path TEXT NOT NULL,
    run_index INTEGER NOT NULL,
    seed INTEGER NOT NULL,
    status TEXT NOT NULL,
    exit_code INTEGER,
    coverage TEXT NOT NULL,
    error TEXT,
    duration_ms INTEGER,
    UNIQUE(invocation_id, order_index)
);

CREATE INDEX IF NOT EXISTS idx_task_results_invocation ON task_results(invocation_id);
CREATE INDEX IF NOT EXISTS idx_task_results_seed ON task_results(seed);
`
