package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresExecutionStore implements ExecutionStore backed by PostgreSQL.
// Claim serializes concurrent firings for the same (rule, entity) with a
// per-pair advisory transaction lock, so two overlapping scheduler runs
// cannot both pass the cooldown check.
type PostgresExecutionStore struct {
	db *sql.DB
}

// NewPostgresExecutionStore creates a new PostgreSQL-backed execution store
func NewPostgresExecutionStore(db *sql.DB) *PostgresExecutionStore {
	return &PostgresExecutionStore{db: db}
}

const executionColumns = `id, rule_id, trigger_kind, entity_type, entity_id,
		status, is_test, triggered_by, error_message, result, created_at, updated_at`

func (s *PostgresExecutionStore) Claim(ctx context.Context, rule *Rule, entityID, triggeredBy string, asOf time.Time) (*Execution, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, WrapKind(KindConnection, err, "executions", "Claim", "begin transaction")
	}
	defer tx.Rollback()

	// One advisory lock per (rule, entity) pair held until commit. This is
	// the only coordination primitive the engine needs.
	_, err = tx.ExecContext(ctx, `
		SELECT pg_advisory_xact_lock(hashtextextended($1, 0))
	`, rule.ID+"|"+entityID)
	if err != nil {
		return nil, false, WrapKind(KindConnection, err, "executions", "Claim", "acquire lock")
	}

	var lastCreated time.Time
	err = tx.QueryRowContext(ctx, `
		SELECT created_at FROM rule_executions
		WHERE rule_id = $1 AND entity_id = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, rule.ID, entityID).Scan(&lastCreated)
	if err != nil && err != sql.ErrNoRows {
		return nil, false, fmt.Errorf("failed to read last execution: %w", err)
	}

	if err == nil && rule.CooldownHours > 0 {
		window := time.Duration(rule.CooldownHours) * time.Hour
		if asOf.Sub(lastCreated) < window {
			return nil, false, nil
		}
	}

	exec := &Execution{
		ID:          NewExecutionID(),
		RuleID:      rule.ID,
		TriggerKind: rule.TriggerKind,
		EntityType:  rule.EntityType,
		EntityID:    entityID,
		Status:      ExecutionRunning,
		TriggeredBy: triggeredBy,
		CreatedAt:   asOf,
		UpdatedAt:   asOf,
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO rule_executions (`+executionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, exec.ID, exec.RuleID, exec.TriggerKind, nullable(exec.EntityType), nullable(exec.EntityID),
		exec.Status, exec.IsTest, exec.TriggeredBy, nullable(exec.ErrorMessage), nil,
		exec.CreatedAt, exec.UpdatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert execution: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, WrapKind(KindConnection, err, "executions", "Claim", "commit")
	}
	return exec, true, nil
}

func (s *PostgresExecutionStore) Create(ctx context.Context, exec *Execution) error {
	if exec.ID == "" {
		exec.ID = NewExecutionID()
	}
	if exec.CreatedAt.IsZero() {
		exec.CreatedAt = time.Now()
	}
	exec.UpdatedAt = exec.CreatedAt

	result, err := marshalResult(exec.Result)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rule_executions (`+executionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, exec.ID, exec.RuleID, exec.TriggerKind, nullable(exec.EntityType), nullable(exec.EntityID),
		exec.Status, exec.IsTest, exec.TriggeredBy, nullable(exec.ErrorMessage), result,
		exec.CreatedAt, exec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert execution: %w", err)
	}
	return nil
}

func (s *PostgresExecutionStore) Finish(ctx context.Context, id string, status ExecutionStatus, errorMessage string, result *ActionResult) error {
	resultJSON, err := marshalResult(result)
	if err != nil {
		return err
	}

	// Terminal rows are immutable: the WHERE clause refuses a second transition
	res, err := s.db.ExecContext(ctx, `
		UPDATE rule_executions
		SET status = $1, error_message = $2, result = $3, updated_at = $4
		WHERE id = $5 AND status IN ('pending', 'running')
	`, status, nullable(errorMessage), resultJSON, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to finish execution: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return Errorf(KindNotFound, "execution %s not found or already finished", id)
	}
	return nil
}

func (s *PostgresExecutionStore) LastFor(ctx context.Context, ruleID, entityID string) (*Execution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+executionColumns+`
		FROM rule_executions
		WHERE rule_id = $1 AND entity_id = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, ruleID, entityID)

	exec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read last execution: %w", err)
	}
	return exec, nil
}

func (s *PostgresExecutionStore) Get(ctx context.Context, id string) (*Execution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+executionColumns+`
		FROM rule_executions
		WHERE id = $1
	`, id)

	exec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, Errorf(KindNotFound, "execution %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}
	return exec, nil
}

func (s *PostgresExecutionStore) ListByRule(ctx context.Context, ruleID string, limit int) ([]*Execution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+executionColumns+`
		FROM rule_executions
		WHERE rule_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, ruleID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	return collectExecutions(rows)
}

func (s *PostgresExecutionStore) StaleRunning(ctx context.Context, olderThan time.Duration) ([]*Execution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+executionColumns+`
		FROM rule_executions
		WHERE status = 'running' AND created_at < $1
		ORDER BY created_at ASC
	`, time.Now().Add(-olderThan))
	if err != nil {
		return nil, fmt.Errorf("failed to list stale executions: %w", err)
	}
	defer rows.Close()

	return collectExecutions(rows)
}

func collectExecutions(rows *sql.Rows) ([]*Execution, error) {
	var executions []*Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		executions = append(executions, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}
	return executions, nil
}

func scanExecution(row rowScanner) (*Execution, error) {
	var exec Execution
	var entityType, entityID, errorMessage sql.NullString
	var result []byte

	err := row.Scan(
		&exec.ID,
		&exec.RuleID,
		&exec.TriggerKind,
		&entityType,
		&entityID,
		&exec.Status,
		&exec.IsTest,
		&exec.TriggeredBy,
		&errorMessage,
		&result,
		&exec.CreatedAt,
		&exec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	exec.EntityType = entityType.String
	exec.EntityID = entityID.String
	exec.ErrorMessage = errorMessage.String

	if len(result) > 0 {
		exec.Result = &ActionResult{}
		if err := json.Unmarshal(result, exec.Result); err != nil {
			return nil, fmt.Errorf("invalid result for execution %s: %w", exec.ID, err)
		}
	}

	return &exec, nil
}

func marshalResult(result *ActionResult) (any, error) {
	if result == nil {
		return nil, nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal action result: %w", err)
	}
	return data, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
