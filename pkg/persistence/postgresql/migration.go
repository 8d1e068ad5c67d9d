package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Debtor data, owned by the collection back office
			CREATE TABLE debts (
				id VARCHAR(255) PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				debtor_id VARCHAR(255) NOT NULL DEFAULT '',
				debtor_name VARCHAR(255) NOT NULL DEFAULT '',
				reference VARCHAR(255) NOT NULL DEFAULT '',
				amount NUMERIC(18, 2) NOT NULL DEFAULT 0,
				currency VARCHAR(3) NOT NULL DEFAULT '',
				due_date TIMESTAMP WITH TIME ZONE NOT NULL,
				state VARCHAR(50) NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_debts_tenant_id ON debts(tenant_id);
			CREATE INDEX idx_debts_debtor_id ON debts(debtor_id);

			CREATE TABLE contacts (
				id VARCHAR(255) PRIMARY KEY,
				debtor_id VARCHAR(255) NOT NULL,
				type VARCHAR(20) NOT NULL CHECK (type IN ('email', 'phone', 'whatsapp')),
				value VARCHAR(255) NOT NULL,
				preferred BOOLEAN NOT NULL DEFAULT false
			);

			CREATE INDEX idx_contacts_debtor_id ON contacts(debtor_id);

			CREATE TABLE debt_history (
				id VARCHAR(255) PRIMARY KEY,
				debt_id VARCHAR(255) NOT NULL,
				action_type VARCHAR(50) NOT NULL,
				occurred_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_debt_history_debt_id ON debt_history(debt_id);

			CREATE TABLE templates (
				tenant_id VARCHAR(255) NOT NULL,
				id VARCHAR(255) NOT NULL,
				channel VARCHAR(20) NOT NULL,
				subject TEXT NOT NULL DEFAULT '',
				body TEXT NOT NULL,
				PRIMARY KEY (tenant_id, id)
			);

			CREATE TABLE agents (
				tenant_id VARCHAR(255) NOT NULL,
				id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				provider_ref VARCHAR(255) NOT NULL DEFAULT '',
				PRIMARY KEY (tenant_id, id)
			);

			CREATE TABLE retry_policies (
				tenant_id VARCHAR(255) NOT NULL,
				channel VARCHAR(20) NOT NULL,
				max_attempts INT NOT NULL,
				backoff_steps JSONB NOT NULL,
				PRIMARY KEY (tenant_id, channel)
			);

			-- Scheduled work
			CREATE TABLE scheduled_actions (
				id UUID PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				debt_id VARCHAR(255) NOT NULL,
				contact_id VARCHAR(255),
				campaign_id VARCHAR(255),
				campaign_key VARCHAR(255) NOT NULL DEFAULT '',
				channel VARCHAR(20) NOT NULL CHECK (channel IN ('email', 'call', 'sms', 'whatsapp')),
				target_time TIMESTAMP WITH TIME ZONE NOT NULL,
				target_day DATE NOT NULL,
				template_id VARCHAR(255),
				agent_id VARCHAR(255),
				variables JSONB NOT NULL DEFAULT '{}',
				state VARCHAR(20) NOT NULL CHECK (state IN ('pending', 'running', 'done', 'cancelled')),
				attempt INT NOT NULL DEFAULT 0,
				retry_of UUID,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE UNIQUE INDEX idx_scheduled_actions_dedup
				ON scheduled_actions(debt_id, channel, campaign_key, target_day, attempt);
			CREATE INDEX idx_scheduled_actions_due ON scheduled_actions(state, target_time);
			CREATE INDEX idx_scheduled_actions_tenant_id ON scheduled_actions(tenant_id);

			CREATE TABLE dispatch_outcomes (
				id UUID PRIMARY KEY,
				action_id UUID NOT NULL UNIQUE,
				tenant_id VARCHAR(255) NOT NULL,
				channel VARCHAR(20) NOT NULL,
				recipient VARCHAR(255) NOT NULL DEFAULT '',
				success BOOLEAN NOT NULL,
				external_id VARCHAR(255),
				detail TEXT,
				error TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			-- Runs and step logs
			CREATE TABLE workflow_runs (
				id VARCHAR(64) PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				campaign_id VARCHAR(255) NOT NULL,
				subject_id VARCHAR(255) NOT NULL,
				state VARCHAR(20) NOT NULL CHECK (state IN ('pending', 'running', 'done', 'failed', 'paused')),
				current_step VARCHAR(255) NOT NULL DEFAULT '',
				context JSONB,
				final_result JSONB,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				UNIQUE (campaign_id, subject_id)
			);

			CREATE TABLE execution_logs (
				seq BIGSERIAL,
				id VARCHAR(64) PRIMARY KEY,
				workflow_run_id VARCHAR(64) NOT NULL,
				node_id VARCHAR(255) NOT NULL,
				step_number INT NOT NULL,
				kind VARCHAR(50) NOT NULL,
				status VARCHAR(20) NOT NULL CHECK (status IN ('started', 'done', 'failed', 'skipped')),
				input JSONB,
				output JSONB,
				error_message TEXT,
				duration_ms BIGINT NOT NULL DEFAULT 0,
				timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
				UNIQUE (workflow_run_id, node_id, step_number)
			);

			CREATE INDEX idx_execution_logs_run ON execution_logs(workflow_run_id, seq);
		`,
	}
}
