package sqlite

// schema is applied once at startup. It is idempotent (IF NOT EXISTS
// throughout) so a crash-restarted process can safely re-run it against an
// existing database file.
const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id               TEXT PRIMARY KEY,
	command          TEXT NOT NULL,
	source_signature TEXT NOT NULL,
	service_code     TEXT NOT NULL,
	shipper_json     TEXT NOT NULL,
	status           TEXT NOT NULL,
	warning_policy   TEXT NOT NULL,
	fail_fast        INTEGER NOT NULL,
	auto_confirm     INTEGER NOT NULL,
	counts_total     INTEGER NOT NULL DEFAULT 0,
	counts_succeeded INTEGER NOT NULL DEFAULT 0,
	counts_failed    INTEGER NOT NULL DEFAULT 0,
	counts_skipped   INTEGER NOT NULL DEFAULT 0,
	counts_pending   INTEGER NOT NULL DEFAULT 0,
	preview_cost     INTEGER NOT NULL DEFAULT 0,
	aggregate_cost   INTEGER NOT NULL DEFAULT 0,
	approval_hash    TEXT NOT NULL DEFAULT '',
	approval_used    INTEGER NOT NULL DEFAULT 0,
	generation       INTEGER NOT NULL DEFAULT 0,
	last_error_json  TEXT,
	created_at       TEXT NOT NULL,
	approved_at      TEXT,
	started_at       TEXT,
	completed_at     TEXT
);

CREATE TABLE IF NOT EXISTS job_rows (
	job_id           TEXT NOT NULL,
	row_number       INTEGER NOT NULL,
	source_checksum  TEXT NOT NULL,
	source_data_json TEXT NOT NULL,
	status           TEXT NOT NULL,
	warning          TEXT NOT NULL DEFAULT '',
	rated_cost       INTEGER NOT NULL DEFAULT 0,
	service_code     TEXT NOT NULL DEFAULT '',
	payload_snapshot BLOB,
	tracking_number  TEXT NOT NULL DEFAULT '',
	label_path       TEXT NOT NULL DEFAULT '',
	error_json       TEXT,
	attempt          INTEGER NOT NULL DEFAULT 0,
	rated_at         TEXT,
	shipped_at       TEXT,
	PRIMARY KEY (job_id, row_number)
);
CREATE INDEX IF NOT EXISTS idx_job_rows_status ON job_rows (job_id, status);

CREATE TABLE IF NOT EXISTS audit (
	job_id     TEXT NOT NULL,
	sequence   TEXT NOT NULL,
	kind       TEXT NOT NULL,
	detail_json TEXT,
	actor      TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	PRIMARY KEY (job_id, sequence)
);

CREATE TABLE IF NOT EXISTS filters (
	job_id           TEXT PRIMARY KEY,
	generation       INTEGER NOT NULL,
	table_name       TEXT NOT NULL,
	where_clause     TEXT NOT NULL,
	param_names_json TEXT NOT NULL,
	param_values_json TEXT NOT NULL,
	signature        TEXT NOT NULL,
	origin_command   TEXT NOT NULL,
	created_at       TEXT NOT NULL
);
`
