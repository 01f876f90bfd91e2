package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Create workflow_definitions table
			CREATE TABLE workflow_definitions (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				module_id VARCHAR(255) NOT NULL DEFAULT '',
				is_active BOOLEAN NOT NULL DEFAULT true,
				steps JSONB NOT NULL DEFAULT '[]',
				data_schema JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflow_definitions_module_id ON workflow_definitions(module_id);
			CREATE INDEX idx_workflow_definitions_created_at ON workflow_definitions(created_at);
		`,
		2: `
			-- Create workflow_instances table
			CREATE TABLE workflow_instances (
				id VARCHAR(255) PRIMARY KEY,
				definition_id VARCHAR(255) NOT NULL,
				entity_type VARCHAR(255) NOT NULL DEFAULT '',
				entity_id VARCHAR(255) NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL CHECK (status IN ('active', 'on_hold', 'completed', 'cancelled')),
				current_step_id VARCHAR(255) NOT NULL DEFAULT '',
				data JSONB NOT NULL DEFAULT '{}',
				history JSONB NOT NULL DEFAULT '[]',
				started_by VARCHAR(255) NOT NULL DEFAULT '',
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				timeout_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflow_instances_definition_id ON workflow_instances(definition_id);
			CREATE INDEX idx_workflow_instances_status ON workflow_instances(status);
			CREATE INDEX idx_workflow_instances_entity ON workflow_instances(entity_type, entity_id);
			CREATE INDEX idx_workflow_instances_timeout_at ON workflow_instances(timeout_at) WHERE timeout_at IS NOT NULL;
		`,
	}
}
