package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// DefaultDeliveryTimeout bounds each notification send unless the caller
// configures otherwise. A timed-out send is a per-recipient failure, never
// a fatal error for the rule.
const DefaultDeliveryTimeout = 15 * time.Second

// ActionExecutor orchestrates one rule firing for one entity: builds the
// rendering context, renders the templates, resolves recipients, dispatches
// notifications with per-recipient failure isolation, and optionally creates
// a follow-up task.
type ActionExecutor struct {
	resolver        *RecipientResolver
	channel         NotificationChannel
	tasks           TaskStore
	templates       TemplateStore // optional
	deliveryTimeout time.Duration
	logger          *slog.Logger
}

// NewActionExecutor wires the executor. templates may be nil when rules only
// use inline templates; deliveryTimeout zero selects the default.
func NewActionExecutor(resolver *RecipientResolver, channel NotificationChannel, tasks TaskStore, templates TemplateStore, deliveryTimeout time.Duration, logger *slog.Logger) *ActionExecutor {
	if deliveryTimeout <= 0 {
		deliveryTimeout = DefaultDeliveryTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ActionExecutor{
		resolver:        resolver,
		channel:         channel,
		tasks:           tasks,
		templates:       templates,
		deliveryTimeout: deliveryTimeout,
		logger:          logger,
	}
}

// BuildContext merges the entity field snapshot, prior values for
// change-detection templates, and computed convenience keys.
func BuildContext(rule *Rule, rec Record, oldValues, newValues map[string]any, asOf time.Time) map[string]any {
	context := make(map[string]any)

	if rec != nil {
		for k, v := range rec.Fields() {
			context[k] = v
		}
	}
	for k, v := range newValues {
		context[k] = v
	}
	for k, v := range oldValues {
		context["old_"+k] = v
	}

	if rec != nil {
		context["entity_id"] = rec.ID()
	}
	if rule != nil {
		context["entity_type"] = rule.EntityType
		context["rule_name"] = rule.Name
	}

	// Derived display name: first human-readable identifier the entity carries
	for _, key := range []string{"name", "full_name", "title", "company_name", "email"} {
		if v, ok := context[key]; ok && v != nil {
			context["display_name"] = toString(v)
			break
		}
	}

	if created, ok := context[CreatedAtField]; ok {
		if createdAt, ok := toTime(created); ok {
			context["days_since_created"] = int(asOf.Sub(createdAt).Hours() / 24)
		}
	}

	return context
}

// Execute runs one firing and returns its structured outcome. A template
// failure short-circuits before any notification is created; a single
// recipient's delivery failure never aborts the others.
func (e *ActionExecutor) Execute(ctx context.Context, exec *Execution, rule *Rule, rec Record, accessor Accessor, oldValues, newValues map[string]any) ActionResult {
	renderCtx := BuildContext(rule, rec, oldValues, newValues, time.Now())

	var result ActionResult

	if rule.SendNotification {
		title, body, err := e.render(ctx, rule, renderCtx)
		if err != nil {
			// No partial sends on a bad template
			return ActionResult{Status: ActionError, Error: err.Error()}
		}

		recipients, err := e.resolver.Resolve(ctx, rule.Notification.RecipientType, rec, accessor, rule)
		if err != nil {
			return ActionResult{Status: ActionError, Error: err.Error()}
		}
		if recipients.Empty() {
			return ActionResult{Status: ActionNoRecipients}
		}

		result = e.dispatch(ctx, exec, rule, title, body, recipients)
		if result.Status == ActionError {
			return result
		}
	}

	if rule.CreateTask {
		taskID, err := e.createTask(ctx, exec, rule, rec, accessor, renderCtx)
		if err != nil {
			e.logger.Warn("follow-up task creation failed",
				"rule", rule.ID, "execution", exec.ID, "error", err)
			if !rule.SendNotification {
				return ActionResult{Status: ActionError, Error: err.Error()}
			}
			// Notifications already went out; record the problem without
			// discarding the delivery outcome.
			result.Error = err.Error()
		} else {
			result.TaskID = taskID
		}
	}

	if result.Status == "" {
		result.Status = ActionSuccess
	}
	return result
}

// render produces the notification title and body, via the template store
// when the rule references a stored template, inline otherwise.
func (e *ActionExecutor) render(ctx context.Context, rule *Rule, renderCtx map[string]any) (string, string, error) {
	cfg := rule.Notification

	if cfg.TemplateRef != "" {
		if e.templates == nil {
			return "", "", Errorf(KindTemplate, "rule %s references template %q but no template store is configured", rule.ID, cfg.TemplateRef)
		}
		title, body, err := e.templates.Render(ctx, cfg.TemplateRef, renderCtx)
		if err != nil {
			return "", "", WrapKind(KindTemplate, err, "executor", "render", "render stored template")
		}
		return title, body, nil
	}

	return RenderTemplate(cfg.TitleTemplate, renderCtx), RenderTemplate(cfg.BodyTemplate, renderCtx), nil
}

// dispatch fans deliveries out concurrently, one goroutine per recipient,
// and joins before aggregating. Internal users get Notification rows with
// per-recipient outcome flags; external emails are recorded separately.
func (e *ActionExecutor) dispatch(ctx context.Context, exec *Execution, rule *Rule, title, body string, recipients Recipients) ActionResult {
	type outcome struct {
		delivery Delivery
		external string // non-empty for direct external sends
	}

	outcomes := make([]outcome, len(recipients.Users)+len(recipients.ExternalEmails))
	var wg sync.WaitGroup

	send := func(idx int, n Notification, external string) {
		defer wg.Done()
		sendCtx, cancel := context.WithTimeout(ctx, e.deliveryTimeout)
		defer cancel()

		d := e.channel.Send(sendCtx, n)
		if sendCtx.Err() == context.DeadlineExceeded && !d.Sent && d.Error == "" {
			d.Error = "delivery timed out"
		}
		outcomes[idx] = outcome{delivery: d, external: external}
	}

	for i, user := range recipients.Users {
		wg.Add(1)
		go send(i, Notification{
			ExecutionID: exec.ID,
			RuleID:      rule.ID,
			UserID:      user.ID,
			Email:       user.Email,
			Title:       title,
			Body:        body,
		}, "")
	}
	for i, email := range recipients.ExternalEmails {
		wg.Add(1)
		go send(len(recipients.Users)+i, Notification{
			ExecutionID: exec.ID,
			RuleID:      rule.ID,
			Email:       email,
			Title:       title,
			Body:        body,
		}, email)
	}
	wg.Wait()

	result := ActionResult{
		Status:            ActionSuccess,
		NotificationCount: len(recipients.Users),
	}

	var firstError string
	for _, o := range outcomes {
		if o.delivery.Sent {
			result.EmailsSent++
		} else {
			result.EmailsFailed++
			if firstError == "" {
				firstError = o.delivery.Error
			}
		}
		if o.external != "" {
			result.ExternalEmails = append(result.ExternalEmails, ExternalDelivery{
				Email:     o.external,
				EmailSent: o.delivery.Sent,
				Error:     o.delivery.Error,
			})
		}
	}

	// The execution fails only when every attempted delivery failed
	if result.EmailsSent == 0 && result.EmailsFailed > 0 {
		result.Status = ActionError
		if firstError == "" {
			firstError = "all deliveries failed"
		}
		result.Error = fmt.Sprintf("all %d deliveries failed: %s", result.EmailsFailed, firstError)
	}

	return result
}

// createTask materializes the follow-up task, assignee resolved like a
// recipient role and defaulting to the entity owner.
func (e *ActionExecutor) createTask(ctx context.Context, exec *Execution, rule *Rule, rec Record, accessor Accessor, renderCtx map[string]any) (string, error) {
	if e.tasks == nil {
		return "", Errorf(KindType, "rule %s creates tasks but no task store is configured", rule.ID)
	}

	cfg := rule.Task
	assignRole := cfg.AssignTo
	if assignRole == "" {
		assignRole = RoleEntityOwner
	}

	assignees, err := e.resolver.Resolve(ctx, assignRole, rec, accessor, rule)
	if err != nil {
		return "", err
	}
	var assigneeID string
	if len(assignees.Users) > 0 {
		assigneeID = assignees.Users[0].ID
	}

	task := FollowUpTask{
		Title:       strings.TrimSpace(RenderTemplate(cfg.TitleTemplate, renderCtx)),
		Priority:    cfg.Priority,
		DueDate:     time.Now().AddDate(0, 0, cfg.DueInDays),
		AssigneeID:  assigneeID,
		EntityType:  rule.EntityType,
		ExecutionID: exec.ID,
	}
	if rec != nil {
		task.EntityID = rec.ID()
	}

	taskID, err := e.tasks.Create(ctx, task)
	if err != nil {
		return "", WrapKind(KindConnection, err, "executor", "createTask", "create follow-up task")
	}
	return taskID, nil
}

// PreviewResult is what rule authors see when validating a draft rule.
type PreviewResult struct {
	Title          string    `json:"title"`
	Body           string    `json:"body"`
	Recipients     []UserRef `json:"recipients,omitempty"`
	ExternalEmails []string  `json:"externalEmails,omitempty"`
}

// Preview renders the rule against a sample context through the identical
// render and resolve paths, writing nothing.
func (e *ActionExecutor) Preview(ctx context.Context, rule *Rule, rec Record, accessor Accessor, sample map[string]any) (PreviewResult, error) {
	if rule.Notification == nil {
		return PreviewResult{}, Errorf(KindType, "rule %s has no notification config to preview", rule.ID)
	}

	renderCtx := BuildContext(rule, rec, nil, sample, time.Now())
	title, body, err := e.render(ctx, rule, renderCtx)
	if err != nil {
		return PreviewResult{}, err
	}

	recipients, err := e.resolver.Resolve(ctx, rule.Notification.RecipientType, rec, accessor, rule)
	if err != nil {
		return PreviewResult{}, err
	}

	return PreviewResult{
		Title:          title,
		Body:           body,
		Recipients:     recipients.Users,
		ExternalEmails: recipients.ExternalEmails,
	}, nil
}
