package postgresql

const activeRunConstraint = "idx_pipeline_runs_active_source"

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Sources are ingested elsewhere; the engine reads them and toggles the lock.
			CREATE TABLE sources (
				id VARCHAR(255) PRIMARY KEY,
				title TEXT NOT NULL,
				author TEXT,
				language VARCHAR(32),
				status VARCHAR(32) NOT NULL CHECK (status IN ('draft', 'ready', 'archived')),
				unit_count INT NOT NULL DEFAULT 0,
				locked BOOLEAN NOT NULL DEFAULT false,
				completed_artifact_id VARCHAR(255),
				metadata JSONB DEFAULT '{}',
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE TABLE pipeline_runs (
				id VARCHAR(255) PRIMARY KEY,
				source_id VARCHAR(255) NOT NULL,
				status VARCHAR(32) NOT NULL,
				current_stage VARCHAR(64) NOT NULL,
				current_stage_ordinal INT NOT NULL,
				progress_percent INT NOT NULL DEFAULT 0 CHECK (progress_percent BETWEEN 0 AND 100),
				revision_count INT NOT NULL DEFAULT 0,
				episode_count INT NOT NULL DEFAULT 0,
				initiator VARCHAR(255),
				error_code VARCHAR(64),
				error_message TEXT,
				degraded_completion BOOLEAN NOT NULL DEFAULT false,
				degraded_reason TEXT,
				artifact_id VARCHAR(255),
				checkpoint JSONB,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				version BIGINT NOT NULL DEFAULT 1
			);

			-- At most one non-terminal run per source.
			CREATE UNIQUE INDEX idx_pipeline_runs_active_source ON pipeline_runs(source_id)
				WHERE status NOT IN ('DEPLOYED', 'CANCELLED');
			CREATE INDEX idx_pipeline_runs_status_updated_at ON pipeline_runs(status, updated_at);
			CREATE INDEX idx_pipeline_runs_source_id ON pipeline_runs(source_id);

			-- scope_key 0 stands for "no scope" so the unique key never contains NULL.
			CREATE TABLE step_executions (
				id VARCHAR(255) PRIMARY KEY,
				run_id VARCHAR(255) NOT NULL REFERENCES pipeline_runs(id) ON DELETE CASCADE,
				stage VARCHAR(64) NOT NULL,
				stage_ordinal INT NOT NULL,
				scope_key INT NOT NULL DEFAULT 0,
				status VARCHAR(32) NOT NULL CHECK (status IN ('pending', 'running', 'success', 'failed', 'exhausted')),
				retry_count INT NOT NULL DEFAULT 0,
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				duration_ms BIGINT NOT NULL DEFAULT 0,
				error_code VARCHAR(64),
				error_message TEXT,
				input_snapshot JSONB,
				output_payload JSONB,
				summary TEXT,
				provider VARCHAR(255),
				input_tokens INT NOT NULL DEFAULT 0,
				output_tokens INT NOT NULL DEFAULT 0,
				latency_ms BIGINT NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				version BIGINT NOT NULL DEFAULT 1,
				UNIQUE (run_id, stage, scope_key)
			);

			-- Fan-in counts.
			CREATE INDEX idx_step_executions_run_stage_status ON step_executions(run_id, stage, status);

			CREATE TABLE human_reviews (
				id VARCHAR(255) PRIMARY KEY,
				run_id VARCHAR(255) NOT NULL REFERENCES pipeline_runs(id) ON DELETE CASCADE,
				stage VARCHAR(64) NOT NULL,
				revision INT NOT NULL,
				review_type VARCHAR(64) NOT NULL,
				decision VARCHAR(32) NOT NULL CHECK (decision IN ('approved', 'rejected', 'cancel')),
				reviewer VARCHAR(255) NOT NULL,
				reviewed_at TIMESTAMP WITH TIME ZONE NOT NULL,
				comment TEXT,
				selected_option_id VARCHAR(255),
				UNIQUE (run_id, stage, revision)
			);

			CREATE TABLE artifacts (
				id VARCHAR(255) PRIMARY KEY,
				run_id VARCHAR(255) NOT NULL,
				source_id VARCHAR(255) NOT NULL,
				title TEXT,
				payload JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX idx_artifacts_run_id ON artifacts(run_id);
		`,
		2: `
			ALTER TABLE step_executions ADD COLUMN revision INT NOT NULL DEFAULT 0;
		`,
	}
}
