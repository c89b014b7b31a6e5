package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func notifyingRule() *Rule {
	return &Rule{
		ID:               "rule-1",
		Name:             "Stuck candidate",
		EntityType:       "candidate",
		TriggerKind:      TriggerScheduled,
		SendNotification: true,
		Notification: &NotificationConfig{
			RecipientType: RoleAllRecruiters,
			TitleTemplate: "{{display_name}} needs attention",
			BodyTemplate:  "{{display_name}} has been in {{stage}} too long",
		},
		Active: true,
	}
}

func newExecution() *Execution {
	return &Execution{
		ID:     NewExecutionID(),
		RuleID: "rule-1",
		Status: ExecutionRunning,
	}
}

func TestExecuteDeliversToAllRecipients(t *testing.T) {
	channel := &fakeChannel{}
	executor := NewActionExecutor(NewRecipientResolver(testDirectory(), nil), channel, nil, nil, 0, nil)

	record := rec("cand-1", map[string]any{"name": "Dana Reyes", "stage": "screening"})
	result := executor.Execute(context.Background(), newExecution(), notifyingRule(), record, nil, nil, nil)

	if result.Status != ActionSuccess {
		t.Fatalf("Execute() status = %q, want %q (error: %s)", result.Status, ActionSuccess, result.Error)
	}
	if result.NotificationCount != 2 {
		t.Errorf("NotificationCount = %d, want 2", result.NotificationCount)
	}
	if result.EmailsSent != 2 || result.EmailsFailed != 0 {
		t.Errorf("EmailsSent/Failed = %d/%d, want 2/0", result.EmailsSent, result.EmailsFailed)
	}
	if channel.sentCount() != 2 {
		t.Errorf("channel received %d sends, want 2", channel.sentCount())
	}
	for _, n := range channel.sent {
		if n.Title != "Dana Reyes needs attention" {
			t.Errorf("rendered title = %q", n.Title)
		}
		if !strings.Contains(n.Body, "screening") {
			t.Errorf("rendered body = %q, want stage substituted", n.Body)
		}
	}
}

func TestExecutePartialFailureStaysSuccessful(t *testing.T) {
	channel := &fakeChannel{fail: map[string]bool{"u2": true}}
	executor := NewActionExecutor(NewRecipientResolver(testDirectory(), nil), channel, nil, nil, 0, nil)

	record := rec("cand-1", map[string]any{"name": "Dana"})
	result := executor.Execute(context.Background(), newExecution(), notifyingRule(), record, nil, nil, nil)

	if result.Status != ActionSuccess {
		t.Fatalf("Execute() status = %q, want %q: one failed delivery must not fail the run", result.Status, ActionSuccess)
	}
	if result.EmailsSent != 1 || result.EmailsFailed != 1 {
		t.Errorf("EmailsSent/Failed = %d/%d, want 1/1", result.EmailsSent, result.EmailsFailed)
	}
}

func TestExecuteAllDeliveriesFailingFailsTheRun(t *testing.T) {
	channel := &fakeChannel{fail: map[string]bool{"u1": true, "u2": true}}
	executor := NewActionExecutor(NewRecipientResolver(testDirectory(), nil), channel, nil, nil, 0, nil)

	record := rec("cand-1", map[string]any{"name": "Dana"})
	result := executor.Execute(context.Background(), newExecution(), notifyingRule(), record, nil, nil, nil)

	if result.Status != ActionError {
		t.Fatalf("Execute() status = %q, want %q", result.Status, ActionError)
	}
	if !strings.Contains(result.Error, "all 2 deliveries failed") {
		t.Errorf("Execute() error = %q, want aggregate failure message", result.Error)
	}
}

func TestExecuteDeliveryTimeoutIsPerRecipientFailure(t *testing.T) {
	channel := &fakeChannel{block: 200 * time.Millisecond}
	executor := NewActionExecutor(NewRecipientResolver(testDirectory(), nil), channel, nil, nil, 10*time.Millisecond, nil)

	record := rec("cand-1", map[string]any{"name": "Dana"})
	result := executor.Execute(context.Background(), newExecution(), notifyingRule(), record, nil, nil, nil)

	if result.Status != ActionError {
		t.Fatalf("Execute() status = %q, want %q when every send times out", result.Status, ActionError)
	}
	if !strings.Contains(result.Error, "timed out") {
		t.Errorf("Execute() error = %q, want timeout message", result.Error)
	}
}

func TestExecuteNoRecipients(t *testing.T) {
	channel := &fakeChannel{}
	tasks := &fakeTasks{}
	executor := NewActionExecutor(NewRecipientResolver(testDirectory(), nil), channel, tasks, nil, 0, nil)

	rule := notifyingRule()
	rule.Notification.RecipientType = RoleAssignedUser
	rule.CreateTask = true
	rule.Task = &TaskConfig{TitleTemplate: "Follow up"}

	// record carries no assignee, so resolution comes back empty
	record := rec("cand-1", map[string]any{"name": "Dana"})
	result := executor.Execute(context.Background(), newExecution(), rule, record, nil, nil, nil)

	if result.Status != ActionNoRecipients {
		t.Fatalf("Execute() status = %q, want %q", result.Status, ActionNoRecipients)
	}
	if channel.sentCount() != 0 {
		t.Errorf("channel received %d sends, want 0", channel.sentCount())
	}
	if len(tasks.created) != 0 {
		t.Errorf("task created despite no recipients")
	}
}

func TestExecuteTemplateErrorShortCircuits(t *testing.T) {
	channel := &fakeChannel{}
	executor := NewActionExecutor(NewRecipientResolver(testDirectory(), nil), channel, nil, nil, 0, nil)

	rule := notifyingRule()
	rule.Notification.TemplateRef = "missing-template" // no template store configured

	record := rec("cand-1", map[string]any{"name": "Dana"})
	result := executor.Execute(context.Background(), newExecution(), rule, record, nil, nil, nil)

	if result.Status != ActionError {
		t.Fatalf("Execute() status = %q, want %q", result.Status, ActionError)
	}
	if channel.sentCount() != 0 {
		t.Errorf("channel received %d sends, want 0 after template failure", channel.sentCount())
	}
}

func TestExecuteCreatesFollowUpTask(t *testing.T) {
	channel := &fakeChannel{}
	tasks := &fakeTasks{}
	executor := NewActionExecutor(NewRecipientResolver(testDirectory(), nil), channel, tasks, nil, 0, nil)

	rule := notifyingRule()
	rule.CreateTask = true
	rule.Task = &TaskConfig{
		TitleTemplate: "Call {{display_name}}",
		Priority:      "high",
		DueInDays:     2,
		AssignTo:      RoleAssignedUser,
	}

	record := rec("cand-1", map[string]any{"name": "Dana", "assigned_to": "u2"})
	result := executor.Execute(context.Background(), newExecution(), rule, record, nil, nil, nil)

	if result.Status != ActionSuccess {
		t.Fatalf("Execute() status = %q, want %q (error: %s)", result.Status, ActionSuccess, result.Error)
	}
	if result.TaskID == "" {
		t.Error("result.TaskID is empty")
	}
	if len(tasks.created) != 1 {
		t.Fatalf("created %d tasks, want 1", len(tasks.created))
	}

	task := tasks.created[0]
	if task.Title != "Call Dana" {
		t.Errorf("task title = %q, want %q", task.Title, "Call Dana")
	}
	if task.Priority != "high" {
		t.Errorf("task priority = %q, want high", task.Priority)
	}
	if task.AssigneeID != "u2" {
		t.Errorf("task assignee = %q, want u2", task.AssigneeID)
	}
	if task.EntityID != "cand-1" {
		t.Errorf("task entity = %q, want cand-1", task.EntityID)
	}

	wantDue := time.Now().AddDate(0, 0, 2)
	if task.DueDate.Before(wantDue.Add(-time.Minute)) || task.DueDate.After(wantDue.Add(time.Minute)) {
		t.Errorf("task due date = %v, want about %v", task.DueDate, wantDue)
	}
}

func TestExecuteTaskFailureAfterSentNotifications(t *testing.T) {
	channel := &fakeChannel{}
	tasks := &fakeTasks{err: errors.New("task service down")}
	executor := NewActionExecutor(NewRecipientResolver(testDirectory(), nil), channel, tasks, nil, 0, nil)

	rule := notifyingRule()
	rule.CreateTask = true
	rule.Task = &TaskConfig{TitleTemplate: "Follow up"}

	record := rec("cand-1", map[string]any{"name": "Dana", "created_by": "u1"})
	result := executor.Execute(context.Background(), newExecution(), rule, record, nil, nil, nil)

	// Notifications already went out; the delivery outcome stands and the
	// task problem is recorded on the result.
	if result.Status != ActionSuccess {
		t.Fatalf("Execute() status = %q, want %q", result.Status, ActionSuccess)
	}
	if result.Error == "" {
		t.Error("result.Error is empty, want the task failure recorded")
	}
	if result.EmailsSent != 2 {
		t.Errorf("EmailsSent = %d, want 2", result.EmailsSent)
	}
}

func TestExecuteTaskOnlyRuleFailsOnTaskError(t *testing.T) {
	tasks := &fakeTasks{err: errors.New("task service down")}
	executor := NewActionExecutor(NewRecipientResolver(testDirectory(), nil), &fakeChannel{}, tasks, nil, 0, nil)

	rule := &Rule{
		ID:          "rule-1",
		Name:        "Task only",
		EntityType:  "candidate",
		TriggerKind: TriggerScheduled,
		CreateTask:  true,
		Task:        &TaskConfig{TitleTemplate: "Follow up"},
		Active:      true,
	}

	record := rec("cand-1", map[string]any{"created_by": "u1"})
	result := executor.Execute(context.Background(), newExecution(), rule, record, nil, nil, nil)

	if result.Status != ActionError {
		t.Fatalf("Execute() status = %q, want %q", result.Status, ActionError)
	}
}

func TestBuildContext(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	rule := notifyingRule()
	record := rec("cand-1", map[string]any{
		"name":       "Dana Reyes",
		"stage":      "screening",
		"created_at": now.AddDate(0, 0, -9),
	})

	got := BuildContext(rule, record, map[string]any{"stage": "sourced"}, map[string]any{"stage": "screening"}, now)

	if got["entity_id"] != "cand-1" {
		t.Errorf("entity_id = %v", got["entity_id"])
	}
	if got["entity_type"] != "candidate" {
		t.Errorf("entity_type = %v", got["entity_type"])
	}
	if got["rule_name"] != "Stuck candidate" {
		t.Errorf("rule_name = %v", got["rule_name"])
	}
	if got["display_name"] != "Dana Reyes" {
		t.Errorf("display_name = %v", got["display_name"])
	}
	if got["old_stage"] != "sourced" {
		t.Errorf("old_stage = %v", got["old_stage"])
	}
	if got["stage"] != "screening" {
		t.Errorf("stage = %v", got["stage"])
	}
	if got["days_since_created"] != 9 {
		t.Errorf("days_since_created = %v, want 9", got["days_since_created"])
	}
}

func TestPreviewWritesNothing(t *testing.T) {
	channel := &fakeChannel{}
	tasks := &fakeTasks{}
	executor := NewActionExecutor(NewRecipientResolver(testDirectory(), nil), channel, tasks, nil, 0, nil)

	rule := notifyingRule()
	record := rec("cand-1", map[string]any{"name": "Dana", "stage": "screening"})

	got, err := executor.Preview(context.Background(), rule, record, nil, nil)
	if err != nil {
		t.Fatalf("Preview() error: %v", err)
	}

	if got.Title != "Dana needs attention" {
		t.Errorf("preview title = %q", got.Title)
	}
	if len(got.Recipients) != 2 {
		t.Errorf("preview recipients = %v, want 2 recruiters", got.Recipients)
	}
	if channel.sentCount() != 0 {
		t.Errorf("preview sent %d notifications, want 0", channel.sentCount())
	}
	if len(tasks.created) != 0 {
		t.Errorf("preview created %d tasks, want 0", len(tasks.created))
	}
}
