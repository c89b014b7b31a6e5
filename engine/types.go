package engine

import (
	"fmt"
	"time"
)

// TriggerKind determines when a rule fires.
type TriggerKind string

const (
	TriggerScheduled     TriggerKind = "scheduled"
	TriggerModelCreated  TriggerKind = "model_created"
	TriggerModelUpdated  TriggerKind = "model_updated"
	TriggerStatusChanged TriggerKind = "status_changed"
	TriggerSignal        TriggerKind = "signal"
)

// Operator is the comparison vocabulary for filter conditions.
type Operator string

const (
	OperatorEquals      Operator = "equals"
	OperatorNotEquals   Operator = "not_equals"
	OperatorGreaterThan Operator = "gt"
	OperatorLessThan    Operator = "lt"
	OperatorContains    Operator = "contains"
)

// DetectionKind selects which temporal predicate a scheduled rule uses.
type DetectionKind string

const (
	DetectStageDuration DetectionKind = "stage_duration"
	DetectOverdue       DetectionKind = "overdue"
	DetectLastActivity  DetectionKind = "last_activity"
)

// StageDurationConfig matches entities that have sat in their current stage
// for at least ThresholdDays. The most recent transition into the stage is
// authoritative; entities with no transition history fall back to creation time.
type StageDurationConfig struct {
	StageField      string `json:"stageField"`
	ThresholdDays   int    `json:"thresholdDays"`
	ExcludeTerminal bool   `json:"excludeTerminal"`
}

// OverdueConfig matches entities whose due-date field is strictly before
// now minus ThresholdDays. ThresholdDays zero means "past now".
type OverdueConfig struct {
	DueField      string `json:"dueField"`
	ThresholdDays int    `json:"thresholdDays"`
}

// LastActivityConfig matches entities whose activity timestamp is older
// than now minus ThresholdDays.
type LastActivityConfig struct {
	ActivityField string `json:"activityField"`
	ThresholdDays int    `json:"thresholdDays"`
}

// DetectionConfig is a tagged union: Kind selects exactly one populated variant.
// Validated at rule-load time, never at evaluation time.
type DetectionConfig struct {
	Kind          DetectionKind        `json:"kind"`
	StageDuration *StageDurationConfig `json:"stageDuration,omitempty"`
	Overdue       *OverdueConfig       `json:"overdue,omitempty"`
	LastActivity  *LastActivityConfig  `json:"lastActivity,omitempty"`
}

// Validate checks that the union is well-formed.
func (dc *DetectionConfig) Validate() error {
	switch dc.Kind {
	case DetectStageDuration:
		if dc.StageDuration == nil {
			return fmt.Errorf("detection kind %q requires stageDuration config", dc.Kind)
		}
		if dc.StageDuration.StageField == "" {
			return fmt.Errorf("stage_duration detection requires a stage field")
		}
		if dc.StageDuration.ThresholdDays < 0 {
			return fmt.Errorf("stage_duration threshold cannot be negative")
		}
	case DetectOverdue:
		if dc.Overdue == nil {
			return fmt.Errorf("detection kind %q requires overdue config", dc.Kind)
		}
		if dc.Overdue.DueField == "" {
			return fmt.Errorf("overdue detection requires a due-date field")
		}
		if dc.Overdue.ThresholdDays < 0 {
			return fmt.Errorf("overdue threshold cannot be negative")
		}
	case DetectLastActivity:
		if dc.LastActivity == nil {
			return fmt.Errorf("detection kind %q requires lastActivity config", dc.Kind)
		}
		if dc.LastActivity.ActivityField == "" {
			return fmt.Errorf("last_activity detection requires an activity field")
		}
		if dc.LastActivity.ThresholdDays < 0 {
			return fmt.Errorf("last_activity threshold cannot be negative")
		}
	default:
		return fmt.Errorf("unknown detection kind %q", dc.Kind)
	}
	return nil
}

// FilterCondition is one conjunctive predicate applied after detection.
type FilterCondition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
}

// NotificationConfig describes what a firing rule sends and to whom.
// RecipientType is an abstract role token resolved at firing time.
// If TemplateRef is empty, TitleTemplate and BodyTemplate are rendered inline.
type NotificationConfig struct {
	RecipientType    string   `json:"recipientType"`
	RecipientUserIDs []string `json:"recipientUserIds,omitempty"`
	TemplateRef      string   `json:"templateRef,omitempty"`
	TitleTemplate    string   `json:"titleTemplate,omitempty"`
	BodyTemplate     string   `json:"bodyTemplate,omitempty"`
}

// TaskConfig describes the follow-up task a firing rule creates.
// AssignTo is resolved like a recipient role and defaults to the entity owner.
type TaskConfig struct {
	TitleTemplate string `json:"titleTemplate"`
	Priority      string `json:"priority,omitempty"`
	DueInDays     int    `json:"dueInDays,omitempty"`
	AssignTo      string `json:"assignTo,omitempty"`
}

// Rule is one automation: when to fire, against what, and what to do.
// Rules are configuration data; the engine reads them, it never edits them.
type Rule struct {
	ID               string              `json:"id"`
	Name             string              `json:"name"`
	EntityType       string              `json:"entityType,omitempty"` // empty for pure-signal rules
	TriggerKind      TriggerKind         `json:"triggerKind"`
	SignalName       string              `json:"signalName,omitempty"`
	Detection        *DetectionConfig    `json:"detection,omitempty"`
	Filters          []FilterCondition   `json:"filters,omitempty"`
	FilterExpression string              `json:"filterExpression,omitempty"` // optional CEL expression over entity fields
	SendNotification bool                `json:"sendNotification"`
	Notification     *NotificationConfig `json:"notification,omitempty"`
	CreateTask       bool                `json:"createTask"`
	Task             *TaskConfig         `json:"task,omitempty"`
	CooldownHours    uint                `json:"cooldownHours"`
	Active           bool                `json:"active"`
	CreatedAt        time.Time           `json:"createdAt"`
	UpdatedAt        time.Time           `json:"updatedAt"`
}

// Validate checks the rule's structural invariants. Stores call this before
// persisting so a malformed rule can never reach the dispatcher.
func (r *Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule id is required")
	}
	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}

	switch r.TriggerKind {
	case TriggerScheduled:
		if r.Detection == nil {
			return fmt.Errorf("scheduled rule %s requires a detection config", r.ID)
		}
		if err := r.Detection.Validate(); err != nil {
			return fmt.Errorf("rule %s: %w", r.ID, err)
		}
		if r.EntityType == "" {
			return fmt.Errorf("scheduled rule %s requires an entity type", r.ID)
		}
	case TriggerModelCreated, TriggerModelUpdated, TriggerStatusChanged:
		if r.EntityType == "" {
			return fmt.Errorf("rule %s with trigger %s requires an entity type", r.ID, r.TriggerKind)
		}
	case TriggerSignal:
		if r.SignalName == "" {
			return fmt.Errorf("signal rule %s requires a signal name", r.ID)
		}
	default:
		return fmt.Errorf("rule %s has unknown trigger kind %q", r.ID, r.TriggerKind)
	}

	for i, f := range r.Filters {
		if f.Field == "" {
			return fmt.Errorf("rule %s: filter %d has empty field", r.ID, i)
		}
		if f.Operator == "" {
			return fmt.Errorf("rule %s: filter %d has empty operator", r.ID, i)
		}
	}

	if r.SendNotification {
		if r.Notification == nil {
			return fmt.Errorf("rule %s sends notifications but has no notification config", r.ID)
		}
		if r.Notification.TemplateRef == "" &&
			(r.Notification.TitleTemplate == "" || r.Notification.BodyTemplate == "") {
			return fmt.Errorf("rule %s: notification config needs a template reference or inline title and body templates", r.ID)
		}
	}

	if r.CreateTask && r.Task == nil {
		return fmt.Errorf("rule %s creates tasks but has no task config", r.ID)
	}
	if r.CreateTask && r.Task.TitleTemplate == "" {
		return fmt.Errorf("rule %s: task config requires a title template", r.ID)
	}

	return nil
}

// EventMatches reports whether this rule should be considered for an event
// of the given trigger kind on the given entity type or signal.
func (r *Rule) EventMatches(kind TriggerKind, entityType, signalName string) bool {
	if !r.Active || r.TriggerKind != kind {
		return false
	}
	if r.TriggerKind == TriggerSignal {
		return r.SignalName == signalName
	}
	return r.EntityType == entityType
}
