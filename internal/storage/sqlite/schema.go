package sqlite

const schemaSQL = `
-- Job registry
-- Authoritative record of scheduled jobs, step sub-statuses and watermarks
CREATE TABLE IF NOT EXISTS etl_jobs (
	id TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	integration_id TEXT NOT NULL,
	job_name TEXT NOT NULL,
	active INTEGER NOT NULL DEFAULT 1,
	schedule_interval INTEGER NOT NULL DEFAULT 0,
	schedule_cron TEXT NOT NULL DEFAULT '',
	next_run INTEGER NOT NULL DEFAULT 0,
	overall_status TEXT NOT NULL DEFAULT 'READY',
	steps TEXT NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0,
	last_run_started INTEGER,
	last_run_finished INTEGER,
	last_sync_watermark TEXT NOT NULL DEFAULT '{}',
	error_message TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_etl_jobs_tenant ON etl_jobs(tenant_id);
CREATE INDEX IF NOT EXISTS idx_etl_jobs_due ON etl_jobs(active, next_run, overall_status);

-- Integrations
CREATE TABLE IF NOT EXISTS integrations (
	id TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	provider TEXT NOT NULL,
	credentials TEXT NOT NULL,
	settings TEXT NOT NULL,
	custom_field_mappings TEXT NOT NULL DEFAULT '{}',
	active INTEGER NOT NULL DEFAULT 1,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_integrations_tenant ON integrations(tenant_id);

-- Raw staging area
-- Extracted payloads parked between extract and transform
CREATE TABLE IF NOT EXISTS raw_data (
	id TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	integration_id TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	external_id TEXT NOT NULL,
	payload TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	status TEXT NOT NULL DEFAULT 'pending',
	error TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	processed_at INTEGER,
	PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_raw_data_status ON raw_data(tenant_id, status);
CREATE INDEX IF NOT EXISTS idx_raw_data_entity ON raw_data(tenant_id, entity_type);

-- Canonical target tables
-- All writes are upserts on (external_id, tenant_id)
CREATE TABLE IF NOT EXISTS projects (
	external_id TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	key TEXT NOT NULL,
	name TEXT NOT NULL,
	lead TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	last_updated_at INTEGER NOT NULL,
	PRIMARY KEY (external_id, tenant_id)
);

CREATE TABLE IF NOT EXISTS work_items (
	external_id TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	key TEXT NOT NULL,
	project_key TEXT NOT NULL,
	summary TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT '',
	assignee TEXT NOT NULL DEFAULT '',
	reporter TEXT NOT NULL DEFAULT '',
	priority TEXT NOT NULL DEFAULT '',
	issue_type TEXT NOT NULL DEFAULT '',
	custom_field_01 TEXT NOT NULL DEFAULT '',
	custom_field_02 TEXT NOT NULL DEFAULT '',
	custom_field_03 TEXT NOT NULL DEFAULT '',
	custom_field_04 TEXT NOT NULL DEFAULT '',
	custom_field_05 TEXT NOT NULL DEFAULT '',
	custom_field_06 TEXT NOT NULL DEFAULT '',
	custom_field_07 TEXT NOT NULL DEFAULT '',
	custom_field_08 TEXT NOT NULL DEFAULT '',
	custom_field_09 TEXT NOT NULL DEFAULT '',
	custom_field_10 TEXT NOT NULL DEFAULT '',
	custom_field_11 TEXT NOT NULL DEFAULT '',
	custom_field_12 TEXT NOT NULL DEFAULT '',
	custom_field_13 TEXT NOT NULL DEFAULT '',
	custom_field_14 TEXT NOT NULL DEFAULT '',
	custom_field_15 TEXT NOT NULL DEFAULT '',
	custom_field_16 TEXT NOT NULL DEFAULT '',
	custom_field_17 TEXT NOT NULL DEFAULT '',
	custom_field_18 TEXT NOT NULL DEFAULT '',
	custom_field_19 TEXT NOT NULL DEFAULT '',
	custom_field_20 TEXT NOT NULL DEFAULT '',
	custom_fields_overflow TEXT NOT NULL DEFAULT '{}',
	source_created_at INTEGER NOT NULL DEFAULT 0,
	source_updated_at INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	last_updated_at INTEGER NOT NULL,
	PRIMARY KEY (external_id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_work_items_project ON work_items(tenant_id, project_key);

CREATE TABLE IF NOT EXISTS work_item_comments (
	external_id TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	issue_key TEXT NOT NULL,
	author TEXT NOT NULL DEFAULT '',
	body TEXT NOT NULL DEFAULT '',
	source_created_at INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	last_updated_at INTEGER NOT NULL,
	PRIMARY KEY (external_id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_work_item_comments_issue ON work_item_comments(tenant_id, issue_key);

CREATE TABLE IF NOT EXISTS prs (
	external_id TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	repo TEXT NOT NULL,
	number INTEGER NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	body TEXT NOT NULL DEFAULT '',
	state TEXT NOT NULL DEFAULT '',
	author TEXT NOT NULL DEFAULT '',
	base_branch TEXT NOT NULL DEFAULT '',
	head_branch TEXT NOT NULL DEFAULT '',
	merged INTEGER NOT NULL DEFAULT 0,
	source_created_at INTEGER NOT NULL DEFAULT 0,
	source_updated_at INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	last_updated_at INTEGER NOT NULL,
	PRIMARY KEY (external_id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_prs_repo ON prs(tenant_id, repo);

CREATE TABLE IF NOT EXISTS commits (
	external_id TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	repo TEXT NOT NULL,
	parent_external_id TEXT NOT NULL DEFAULT '',
	author TEXT NOT NULL DEFAULT '',
	message TEXT NOT NULL DEFAULT '',
	source_created_at INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	last_updated_at INTEGER NOT NULL,
	PRIMARY KEY (external_id, tenant_id)
);

CREATE TABLE IF NOT EXISTS reviews (
	external_id TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	repo TEXT NOT NULL,
	parent_external_id TEXT NOT NULL DEFAULT '',
	author TEXT NOT NULL DEFAULT '',
	state TEXT NOT NULL DEFAULT '',
	body TEXT NOT NULL DEFAULT '',
	source_created_at INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	last_updated_at INTEGER NOT NULL,
	PRIMARY KEY (external_id, tenant_id)
);

CREATE TABLE IF NOT EXISTS pr_comments (
	external_id TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	repo TEXT NOT NULL,
	parent_external_id TEXT NOT NULL DEFAULT '',
	author TEXT NOT NULL DEFAULT '',
	body TEXT NOT NULL DEFAULT '',
	source_created_at INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	last_updated_at INTEGER NOT NULL,
	PRIMARY KEY (external_id, tenant_id)
);

-- Discovery catalogs
CREATE TABLE IF NOT EXISTS custom_field_catalog (
	tenant_id TEXT NOT NULL,
	integration_id TEXT NOT NULL,
	field_id TEXT NOT NULL,
	name TEXT NOT NULL,
	field_type TEXT NOT NULL DEFAULT '',
	active INTEGER NOT NULL DEFAULT 1,
	first_seen INTEGER NOT NULL,
	last_seen INTEGER NOT NULL,
	PRIMARY KEY (tenant_id, integration_id, field_id)
);

CREATE TABLE IF NOT EXISTS issue_type_catalog (
	tenant_id TEXT NOT NULL,
	integration_id TEXT NOT NULL,
	type_id TEXT NOT NULL,
	name TEXT NOT NULL,
	subtask INTEGER NOT NULL DEFAULT 0,
	active INTEGER NOT NULL DEFAULT 1,
	first_seen INTEGER NOT NULL,
	last_seen INTEGER NOT NULL,
	PRIMARY KEY (tenant_id, integration_id, type_id)
);
`
