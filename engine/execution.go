package engine

import (
	"time"
)

// ExecutionStatus is the lifecycle state of one audited rule firing.
// pending → running → {success, failed}; terminal states never change.
type ExecutionStatus string

const (
	ExecutionPending ExecutionStatus = "pending"
	ExecutionRunning ExecutionStatus = "running"
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionFailed  ExecutionStatus = "failed"
)

// TriggeredBySystem marks executions started by the scheduler rather than a user.
const TriggeredBySystem = "system"

// Execution is the audit record for one attempt to act on one rule/entity
// pairing. Created with status running when an execution begins, mutated
// exactly once more to its terminal status. The engine owns these rows
// exclusively.
type Execution struct {
	ID           string          `json:"id"`
	RuleID       string          `json:"ruleId"`
	TriggerKind  TriggerKind     `json:"triggerKind"` // snapshot at firing time
	EntityType   string          `json:"entityType,omitempty"`
	EntityID     string          `json:"entityId,omitempty"` // empty for pure-signal rules
	Status       ExecutionStatus `json:"status"`
	IsTest       bool            `json:"isTest"`
	TriggeredBy  string          `json:"triggeredBy"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	Result       *ActionResult   `json:"result,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// ActionStatus values aggregated into an ActionResult.
const (
	ActionSuccess      = "success"
	ActionError        = "error"
	ActionNoRecipients = "no_recipients"
)

// ExternalDelivery is the outcome of one direct send to a non-user email.
type ExternalDelivery struct {
	Email     string `json:"email"`
	EmailSent bool   `json:"emailSent"`
	Error     string `json:"emailError,omitempty"`
}

// ActionResult is the structured outcome of one rule firing.
type ActionResult struct {
	Status            string             `json:"status"`
	NotificationCount int                `json:"notificationCount"`
	EmailsSent        int                `json:"emailsSent"`
	EmailsFailed      int                `json:"emailsFailed"`
	ExternalEmails    []ExternalDelivery `json:"externalEmails,omitempty"`
	TaskID            string             `json:"taskId,omitempty"`
	Error             string             `json:"error,omitempty"`
}
