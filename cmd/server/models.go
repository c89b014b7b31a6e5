package main

import (
	"time"

	"github.com/talentpipe/sentinel/engine"
)

// Request and response shapes for the HTTP API. Rule payloads mirror
// engine.Rule minus the server-owned identifier and timestamps.

type ruleRequest struct {
	Name             string                     `json:"name"`
	EntityType       string                     `json:"entityType,omitempty"`
	TriggerKind      engine.TriggerKind         `json:"triggerKind"`
	SignalName       string                     `json:"signalName,omitempty"`
	Detection        *engine.DetectionConfig    `json:"detection,omitempty"`
	Filters          []engine.FilterCondition   `json:"filters,omitempty"`
	FilterExpression string                     `json:"filterExpression,omitempty"`
	SendNotification bool                       `json:"sendNotification"`
	Notification     *engine.NotificationConfig `json:"notification,omitempty"`
	CreateTask       bool                       `json:"createTask"`
	Task             *engine.TaskConfig         `json:"task,omitempty"`
	CooldownHours    uint                       `json:"cooldownHours"`
	Active           bool                       `json:"active"`
}

func (r *ruleRequest) toRule(id string) *engine.Rule {
	return &engine.Rule{
		ID:               id,
		Name:             r.Name,
		EntityType:       r.EntityType,
		TriggerKind:      r.TriggerKind,
		SignalName:       r.SignalName,
		Detection:        r.Detection,
		Filters:          r.Filters,
		FilterExpression: r.FilterExpression,
		SendNotification: r.SendNotification,
		Notification:     r.Notification,
		CreateTask:       r.CreateTask,
		Task:             r.Task,
		CooldownHours:    r.CooldownHours,
		Active:           r.Active,
	}
}

type eventRequest struct {
	TriggerKind engine.TriggerKind `json:"triggerKind"`
	EntityType  string             `json:"entityType"`
	EntityID    string             `json:"entityId"`
	OldValues   map[string]any     `json:"oldValues,omitempty"`
	NewValues   map[string]any     `json:"newValues,omitempty"`
}

type signalRequest struct {
	Payload map[string]any `json:"payload"`
}

type previewRequest struct {
	Sample map[string]any `json:"sample"`
}

type testFireRequest struct {
	EntityID    string `json:"entityId"`
	TriggeredBy string `json:"triggeredBy"`
}

type runResponse struct {
	Summary engine.RunSummary `json:"summary"`
	Elapsed string            `json:"elapsed"`
	AsOf    time.Time         `json:"asOf"`
}
