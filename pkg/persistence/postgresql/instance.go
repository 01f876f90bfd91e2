package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
)

const instanceColumns = `
			id
		  , definition_id
		  , entity_type
		  , entity_id
		  , status
		  , current_step_id
		  , data
		  , history
		  , started_by
		  , started_at
		  , updated_at
		  , completed_at
		  , timeout_at`

// InstanceRepository handles instance-related database operations.
type InstanceRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewInstanceRepository creates a new instance repository.
func NewInstanceRepository(db *sql.DB, logger *slog.Logger) *InstanceRepository {
	return &InstanceRepository{db: db, logger: logger}
}

// GetByID returns an instance by its ID.
func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	query := `SELECT ` + instanceColumns + `
		FROM workflow_instances
		WHERE id = $1
	`

	instance, err := scanInstance(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewInstanceError("GetByID", id, persistence.ErrInstanceNotFound)
		}

		return nil, persistence.NewInstanceError("GetByID", id, err)
	}

	return instance, nil
}

// Save upserts an instance with its data bag and history.
func (r *InstanceRepository) Save(ctx context.Context, instance *models.WorkflowInstance) error {
	data := instance.Data
	if data == nil {
		data = map[string]any{}
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal instance data: %w", err)
	}

	history := instance.History
	if history == nil {
		history = []*models.WorkflowHistoryEntry{}
	}

	historyJSON, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to marshal instance history: %w", err)
	}

	query := `
		INSERT INTO workflow_instances (
			id, definition_id, entity_type, entity_id, status, current_step_id,
			data, history, started_by, started_at, updated_at, completed_at, timeout_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			current_step_id = EXCLUDED.current_step_id,
			data = EXCLUDED.data,
			history = EXCLUDED.history,
			updated_at = EXCLUDED.updated_at,
			completed_at = EXCLUDED.completed_at,
			timeout_at = EXCLUDED.timeout_at
	`

	_, err = r.db.ExecContext(ctx, query,
		instance.ID,
		instance.DefinitionID,
		instance.EntityType,
		instance.EntityID,
		instance.Status,
		instance.CurrentStepID,
		dataJSON,
		historyJSON,
		instance.StartedBy,
		instance.StartedAt,
		instance.UpdatedAt,
		instance.CompletedAt,
		instance.TimeoutAt,
	)
	if err != nil {
		return persistence.NewInstanceError("Save", instance.ID, err)
	}

	return nil
}

// List returns the instances matching filter ordered by start time.
func (r *InstanceRepository) List(ctx context.Context, filter persistence.InstanceFilter) ([]*models.WorkflowInstance, error) {
	var (
		clauses []string
		args    []any
	)

	add := func(column, value string) {
		if value == "" {
			return
		}

		args = append(args, value)
		clauses = append(clauses, column+" = $"+strconv.Itoa(len(args)))
	}

	add("definition_id", filter.DefinitionID)
	add("status", string(filter.Status))
	add("entity_type", filter.EntityType)
	add("entity_id", filter.EntityID)

	query := `SELECT ` + instanceColumns + ` FROM workflow_instances`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}

	query += ` ORDER BY started_at, id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query instances: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	instances := make([]*models.WorkflowInstance, 0)

	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}

		instances = append(instances, instance)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating instances: %w", err)
	}

	return instances, nil
}

func scanInstance(row scanner) (*models.WorkflowInstance, error) {
	var (
		instance    models.WorkflowInstance
		dataJSON    []byte
		historyJSON []byte
		completedAt sql.NullTime
		timeoutAt   sql.NullTime
	)

	err := row.Scan(
		&instance.ID,
		&instance.DefinitionID,
		&instance.EntityType,
		&instance.EntityID,
		&instance.Status,
		&instance.CurrentStepID,
		&dataJSON,
		&historyJSON,
		&instance.StartedBy,
		&instance.StartedAt,
		&instance.UpdatedAt,
		&completedAt,
		&timeoutAt,
	)
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(dataJSON, &instance.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal instance data: %w", err)
	}

	if instance.Data == nil {
		instance.Data = make(map[string]any)
	}

	err = json.Unmarshal(historyJSON, &instance.History)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal instance history: %w", err)
	}

	instance.StartedAt = instance.StartedAt.UTC()
	instance.UpdatedAt = instance.UpdatedAt.UTC()
	instance.CompletedAt = utcPtr(completedAt)
	instance.TimeoutAt = utcPtr(timeoutAt)

	return &instance, nil
}

func utcPtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}

	utc := t.Time.UTC()

	return &utc
}
