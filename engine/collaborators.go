package engine

import (
	"context"
	"time"
)

// Collaborator interfaces consumed by the engine. The implementations live
// outside the core: the engine only renders, resolves, dispatches and records.

// TransitionLog answers when an entity last entered a given stage.
// Used by stage-duration detection.
type TransitionLog interface {
	// LastTransitionTo returns the most recent time the entity moved into
	// the given stage, and false if no transition is recorded.
	LastTransitionTo(ctx context.Context, entityType, entityID string, stage any) (time.Time, bool, error)
}

// UserRef identifies an internal user as a notification target.
type UserRef struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// UserDirectory resolves user identifiers and roles to concrete users.
type UserDirectory interface {
	// User returns one user by identifier
	User(ctx context.Context, id string) (UserRef, error)

	// ActiveWithRole returns every active user holding the given role
	ActiveWithRole(ctx context.Context, role string) ([]UserRef, error)
}

// Notification is one rendered message for one recipient. Internal
// notifications carry a UserID; direct external sends carry only an email.
type Notification struct {
	ExecutionID string
	RuleID      string
	UserID      string
	Email       string
	Title       string
	Body        string
}

// Delivery is the per-recipient outcome of a send attempt.
type Delivery struct {
	Sent  bool
	Error string
}

// NotificationChannel dispatches one notification. Implementations must
// honour ctx cancellation; the executor bounds every send with a timeout
// and treats a timeout as a per-recipient failure.
type NotificationChannel interface {
	Send(ctx context.Context, n Notification) Delivery
}

// FollowUpTask is the task materialized when a rule's task action fires.
type FollowUpTask struct {
	Title       string
	Priority    string
	DueDate     time.Time
	AssigneeID  string
	EntityType  string
	EntityID    string
	ExecutionID string // links the task back to the triggering detection
}

// TaskStore creates follow-up tasks in the task subsystem.
type TaskStore interface {
	Create(ctx context.Context, task FollowUpTask) (string, error)
}

// TemplateStore renders a stored, named template. Optional: rules without a
// template reference render their inline templates instead.
type TemplateStore interface {
	Render(ctx context.Context, ref string, context map[string]any) (title, body string, err error)
}
