package notify

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/talentpipe/sentinel/engine"
)

// SQLTaskStore implements engine.TaskStore over the follow_up_tasks table.
type SQLTaskStore struct {
	db *sql.DB
}

// NewSQLTaskStore creates a task store backed by the given database
func NewSQLTaskStore(db *sql.DB) *SQLTaskStore {
	return &SQLTaskStore{db: db}
}

// Create inserts one follow-up task and returns its identifier
func (s *SQLTaskStore) Create(ctx context.Context, task engine.FollowUpTask) (string, error) {
	id := "task-" + uuid.New().String()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO follow_up_tasks (id, title, priority, due_date, assignee_id, entity_type, entity_id, execution_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())`,
		id, task.Title, task.Priority, task.DueDate, nullIfEmpty(task.AssigneeID),
		task.EntityType, task.EntityID, task.ExecutionID,
	)
	if err != nil {
		return "", engine.WrapKind(engine.KindConnection, err, "notify", "create_task", task.EntityID)
	}
	return id, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
