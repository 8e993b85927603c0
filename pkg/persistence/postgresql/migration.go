package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Workflow definitions with their statistics
			CREATE TABLE workflows (
				id VARCHAR(255) PRIMARY KEY,
				owner VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL CHECK (status IN ('draft', 'active', 'inactive')),
				trigger JSONB NOT NULL,
				conditions JSONB NOT NULL DEFAULT '[]',
				actions JSONB NOT NULL DEFAULT '[]',
				total_runs BIGINT NOT NULL DEFAULT 0,
				succeeded BIGINT NOT NULL DEFAULT 0,
				failed BIGINT NOT NULL DEFAULT 0,
				partial BIGINT NOT NULL DEFAULT 0,
				avg_duration_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
				last_run_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				archived_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflows_status ON workflows(status);
			CREATE INDEX idx_workflows_owner ON workflows(owner);
			CREATE INDEX idx_workflows_trigger_type ON workflows((trigger->>'type'));
			CREATE INDEX idx_workflows_created_at ON workflows(created_at);
		`,
		2: `
			-- Execution audit records
			CREATE TABLE executions (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL,
				trigger_kind VARCHAR(50) NOT NULL,
				triggered_by VARCHAR(255) NOT NULL,
				context_snapshot JSONB,
				status VARCHAR(50) NOT NULL,
				error TEXT NOT NULL DEFAULT '',
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				per_action JSONB NOT NULL DEFAULT '[]',
				duration_ms BIGINT NOT NULL DEFAULT 0
			);

			CREATE INDEX idx_executions_workflow_started ON executions(workflow_id, started_at DESC);
		`,
		3: `
			-- Firing ledger: presence of a row means the key already fired
			CREATE TABLE firing_ledger (
				workflow_id VARCHAR(255) NOT NULL,
				entity_id VARCHAR(255) NOT NULL,
				window_key VARCHAR(32) NOT NULL,
				fired_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (workflow_id, entity_id, window_key)
			);

			-- Latest entity snapshots scanned by date based triggers
			CREATE TABLE entity_snapshots (
				entity_type VARCHAR(255) NOT NULL,
				id VARCHAR(255) NOT NULL,
				data JSONB NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (entity_type, id)
			);
		`,
	}
}
