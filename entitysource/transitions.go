package entitysource

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/talentpipe/sentinel/engine"
)

// SQLTransitionLog answers stage-entry queries from the stage_transitions
// table. Every stage change an application performs is expected to append a
// row there; detection reads only the most recent entry per stage.
type SQLTransitionLog struct {
	db *sql.DB
}

// NewSQLTransitionLog creates a transition log backed by the given database
func NewSQLTransitionLog(db *sql.DB) *SQLTransitionLog {
	return &SQLTransitionLog{db: db}
}

// LastTransitionTo returns the most recent time the entity entered the
// given stage, and false if no transition is recorded.
func (l *SQLTransitionLog) LastTransitionTo(ctx context.Context, entityType, entityID string, stage any) (time.Time, bool, error) {
	if stage == nil {
		return time.Time{}, false, nil
	}
	s, ok := stage.(string)
	if !ok {
		s = fmt.Sprintf("%v", stage)
	}

	var occurredAt time.Time
	err := l.db.QueryRowContext(ctx, `
		SELECT occurred_at FROM stage_transitions
		WHERE entity_type = $1 AND entity_id = $2 AND stage = $3
		ORDER BY occurred_at DESC
		LIMIT 1`,
		entityType, entityID, s,
	).Scan(&occurredAt)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, engine.WrapKind(engine.KindConnection, err, "entitysource", "last_transition", entityType)
	}
	return occurredAt, true, nil
}

// Record appends one stage transition. Applications call this from their
// stage-change paths so stage-duration detection has accurate entry times.
func (l *SQLTransitionLog) Record(ctx context.Context, entityType, entityID, stage string, occurredAt time.Time) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO stage_transitions (entity_type, entity_id, stage, occurred_at)
		VALUES ($1, $2, $3, $4)`,
		entityType, entityID, stage, occurredAt,
	)
	if err != nil {
		return engine.WrapKind(engine.KindConnection, err, "entitysource", "record_transition", entityType)
	}
	return nil
}
