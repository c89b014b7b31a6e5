package entitysource

import (
	"context"
	"database/sql"

	"github.com/talentpipe/sentinel/engine"
)

// SQLUserDirectory resolves recipients from the users table.
type SQLUserDirectory struct {
	db *sql.DB
}

// NewSQLUserDirectory creates a user directory backed by the given database
func NewSQLUserDirectory(db *sql.DB) *SQLUserDirectory {
	return &SQLUserDirectory{db: db}
}

// User returns one user by identifier
func (d *SQLUserDirectory) User(ctx context.Context, id string) (engine.UserRef, error) {
	var u engine.UserRef
	err := d.db.QueryRowContext(ctx,
		"SELECT id, name, email FROM users WHERE id = $1", id,
	).Scan(&u.ID, &u.Name, &u.Email)
	if err == sql.ErrNoRows {
		return engine.UserRef{}, engine.Errorf(engine.KindNotFound, "user %q not found", id)
	}
	if err != nil {
		return engine.UserRef{}, engine.WrapKind(engine.KindConnection, err, "entitysource", "user", id)
	}
	return u, nil
}

// ActiveWithRole returns every active user holding the given role
func (d *SQLUserDirectory) ActiveWithRole(ctx context.Context, role string) ([]engine.UserRef, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT id, name, email FROM users WHERE role = $1 AND active = TRUE ORDER BY id", role,
	)
	if err != nil {
		return nil, engine.WrapKind(engine.KindConnection, err, "entitysource", "active_with_role", role)
	}
	defer rows.Close()

	var users []engine.UserRef
	for rows.Next() {
		var u engine.UserRef
		if err := rows.Scan(&u.ID, &u.Name, &u.Email); err != nil {
			return nil, engine.WrapKind(engine.KindConnection, err, "entitysource", "active_with_role", role)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, engine.WrapKind(engine.KindConnection, err, "entitysource", "active_with_role", role)
	}
	return users, nil
}
