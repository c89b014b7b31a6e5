package engine

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresRuleStore implements RuleStore backed by PostgreSQL. Detection,
// filter, notification and task configs are stored as jsonb documents.
type PostgresRuleStore struct {
	db *sql.DB
}

// NewPostgresRuleStore creates a new PostgreSQL-backed RuleStore
func NewPostgresRuleStore(db *sql.DB) *PostgresRuleStore {
	return &PostgresRuleStore{db: db}
}

const ruleColumns = `id, name, entity_type, trigger_kind, signal_name,
		detection, filters, filter_expression,
		send_notification, notification, create_task, task,
		cooldown_hours, active, created_at, updated_at`

// Add inserts a new rule into the database
func (s *PostgresRuleStore) Add(rule *Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	var exists bool
	err := s.db.QueryRow(`
		SELECT EXISTS(SELECT 1 FROM rules WHERE id = $1)
	`, rule.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check rule existence: %w", err)
	}
	if exists {
		return fmt.Errorf("rule with ID %s already exists", rule.ID)
	}

	detection, filters, notification, task, err := marshalRuleConfigs(rule)
	if err != nil {
		return err
	}

	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	_, err = s.db.Exec(`
		INSERT INTO rules (`+ruleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, rule.ID, rule.Name, rule.EntityType, rule.TriggerKind, rule.SignalName,
		detection, filters, rule.FilterExpression,
		rule.SendNotification, notification, rule.CreateTask, task,
		rule.CooldownHours, rule.Active, rule.CreatedAt, rule.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}

	return nil
}

// Get retrieves a rule by ID
func (s *PostgresRuleStore) Get(id string) (*Rule, error) {
	row := s.db.QueryRow(`
		SELECT `+ruleColumns+`
		FROM rules
		WHERE id = $1
	`, id)

	rule, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, Errorf(KindNotFound, "rule %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}

	return rule, nil
}

// ListActive returns all active rules
func (s *PostgresRuleStore) ListActive() ([]*Rule, error) {
	return s.list(`
		SELECT ` + ruleColumns + `
		FROM rules
		WHERE active = true
		ORDER BY created_at ASC
	`)
}

// ListActiveByTrigger returns active rules with the given trigger kind
func (s *PostgresRuleStore) ListActiveByTrigger(kind TriggerKind) ([]*Rule, error) {
	return s.list(`
		SELECT `+ruleColumns+`
		FROM rules
		WHERE active = true AND trigger_kind = $1
		ORDER BY created_at ASC
	`, string(kind))
}

func (s *PostgresRuleStore) list(query string, args ...any) ([]*Rule, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rulesList []*Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rulesList = append(rulesList, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}

	return rulesList, nil
}

// Update modifies an existing rule
func (s *PostgresRuleStore) Update(rule *Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	detection, filters, notification, task, err := marshalRuleConfigs(rule)
	if err != nil {
		return err
	}

	rule.UpdatedAt = time.Now()

	result, err := s.db.Exec(`
		UPDATE rules
		SET name = $1, entity_type = $2, trigger_kind = $3, signal_name = $4,
		    detection = $5, filters = $6, filter_expression = $7,
		    send_notification = $8, notification = $9, create_task = $10, task = $11,
		    cooldown_hours = $12, active = $13, updated_at = $14
		WHERE id = $15
	`, rule.Name, rule.EntityType, rule.TriggerKind, rule.SignalName,
		detection, filters, rule.FilterExpression,
		rule.SendNotification, notification, rule.CreateTask, task,
		rule.CooldownHours, rule.Active, rule.UpdatedAt, rule.ID)

	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return Errorf(KindNotFound, "rule %s not found", rule.ID)
	}

	return nil
}

// Delete removes a rule from the database
func (s *PostgresRuleStore) Delete(id string) error {
	result, err := s.db.Exec(`DELETE FROM rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return Errorf(KindNotFound, "rule %s not found", id)
	}

	return nil
}

// marshalRuleConfigs serializes the jsonb columns. Nil configs become SQL NULLs.
func marshalRuleConfigs(rule *Rule) (detection, filters, notification, task any, err error) {
	if rule.Detection != nil {
		detection, err = json.Marshal(rule.Detection)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("failed to marshal detection config: %w", err)
		}
	}
	if len(rule.Filters) > 0 {
		filters, err = json.Marshal(rule.Filters)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("failed to marshal filters: %w", err)
		}
	}
	if rule.Notification != nil {
		notification, err = json.Marshal(rule.Notification)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("failed to marshal notification config: %w", err)
		}
	}
	if rule.Task != nil {
		task, err = json.Marshal(rule.Task)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("failed to marshal task config: %w", err)
		}
	}
	return detection, filters, notification, task, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*Rule, error) {
	var rule Rule
	var entityType, signalName, filterExpression sql.NullString
	var detection, filters, notification, task []byte

	err := row.Scan(
		&rule.ID,
		&rule.Name,
		&entityType,
		&rule.TriggerKind,
		&signalName,
		&detection,
		&filters,
		&filterExpression,
		&rule.SendNotification,
		&notification,
		&rule.CreateTask,
		&task,
		&rule.CooldownHours,
		&rule.Active,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.EntityType = entityType.String
	rule.SignalName = signalName.String
	rule.FilterExpression = filterExpression.String

	if len(detection) > 0 {
		rule.Detection = &DetectionConfig{}
		if err := json.Unmarshal(detection, rule.Detection); err != nil {
			return nil, fmt.Errorf("invalid detection config for rule %s: %w", rule.ID, err)
		}
	}
	if len(filters) > 0 {
		if err := json.Unmarshal(filters, &rule.Filters); err != nil {
			return nil, fmt.Errorf("invalid filters for rule %s: %w", rule.ID, err)
		}
	}
	if len(notification) > 0 {
		rule.Notification = &NotificationConfig{}
		if err := json.Unmarshal(notification, rule.Notification); err != nil {
			return nil, fmt.Errorf("invalid notification config for rule %s: %w", rule.ID, err)
		}
	}
	if len(task) > 0 {
		rule.Task = &TaskConfig{}
		if err := json.Unmarshal(task, rule.Task); err != nil {
			return nil, fmt.Errorf("invalid task config for rule %s: %w", rule.ID, err)
		}
	}

	return &rule, nil
}
