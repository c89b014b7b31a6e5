package engine

import (
	"context"
	"log/slog"
	"time"
)

// DispatcherConfig wires the dispatcher's stores and collaborators.
type DispatcherConfig struct {
	Rules       RuleStore
	Cache       RuleCache // nil selects an in-memory cache
	Registry    *Registry
	Transitions TransitionLog
	Users       UserDirectory
	Channel     NotificationChannel
	Tasks       TaskStore
	Templates   TemplateStore // optional
	Executions  ExecutionStore

	DeliveryTimeout time.Duration
	Logger          *slog.Logger
}

// Dispatcher is the engine's entry point: scheduled polling runs, event-driven
// firings, test firings and previews all come through here. It owns the
// execution audit trail; everything else it consumes through interfaces.
type Dispatcher struct {
	rules      RuleStore
	cache      RuleCache
	registry   *Registry
	detector   *Detector
	guard      *CooldownGuard
	executor   *ActionExecutor
	executions ExecutionStore
	filters    *FilterPrograms
	matcher    *Matcher
	logger     *slog.Logger
}

// RunSummary reports one scheduled pass for logs and the ops surface.
type RunSummary struct {
	Rules    int `json:"rules"`    // scheduled rules evaluated
	Matched  int `json:"matched"`  // entities matched by detection
	Fired    int `json:"fired"`    // executions started
	Cooldown int `json:"cooldown"` // matches suppressed by cooldown
	Failed   int `json:"failed"`   // rules whose run failed outright
}

// NewDispatcher builds the dispatcher and compiles the filter expressions of
// every active rule so a malformed expression surfaces at startup, not at
// evaluation time.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cache := cfg.Cache
	if cache == nil {
		cache = NewMemoryRuleCache(DefaultCacheConfig())
	}

	filters, err := NewFilterPrograms()
	if err != nil {
		return nil, err
	}

	active, err := cfg.Rules.ListActive()
	if err != nil {
		return nil, err
	}
	if err := filters.CompileAll(active); err != nil {
		return nil, err
	}
	cache.Set(active)

	resolver := NewRecipientResolver(cfg.Users, logger)

	d := &Dispatcher{
		rules:      cfg.Rules,
		cache:      cache,
		registry:   cfg.Registry,
		detector:   NewDetector(cfg.Registry, cfg.Transitions, filters, logger),
		guard:      NewCooldownGuard(cfg.Executions),
		executor:   NewActionExecutor(resolver, cfg.Channel, cfg.Tasks, cfg.Templates, cfg.DeliveryTimeout, logger),
		executions: cfg.Executions,
		filters:    filters,
		matcher:    NewMatcher(),
		logger:     logger,
	}
	return d, nil
}

// activeRules serves the cached active-rule list, refreshing on miss.
func (d *Dispatcher) activeRules() ([]*Rule, error) {
	if rules := d.cache.Get(); rules != nil {
		return rules, nil
	}

	rules, err := d.rules.ListActive()
	if err != nil {
		return nil, err
	}
	d.cache.Set(rules)
	return rules, nil
}

// AddRule validates, compiles and stores a new rule.
func (d *Dispatcher) AddRule(rule *Rule) error {
	if err := d.filters.Compile(rule); err != nil {
		return err
	}
	if err := d.rules.Add(rule); err != nil {
		d.filters.Remove(rule.ID)
		return err
	}
	d.cache.Invalidate()
	return nil
}

// UpdateRule validates, recompiles and stores an edited rule.
func (d *Dispatcher) UpdateRule(rule *Rule) error {
	if err := d.filters.Compile(rule); err != nil {
		return err
	}
	if err := d.rules.Update(rule); err != nil {
		return err
	}
	d.cache.Invalidate()
	return nil
}

// DeleteRule removes a rule and its compiled filter.
func (d *Dispatcher) DeleteRule(ruleID string) error {
	if err := d.rules.Delete(ruleID); err != nil {
		return err
	}
	d.filters.Remove(ruleID)
	d.cache.Invalidate()
	return nil
}

// GetRule returns one rule from the store
func (d *Dispatcher) GetRule(ruleID string) (*Rule, error) {
	return d.rules.Get(ruleID)
}

// ListActiveRules returns the active rules (cached)
func (d *Dispatcher) ListActiveRules() ([]*Rule, error) {
	return d.activeRules()
}

// RunScheduled evaluates every active scheduled rule as of now. A rule whose
// detection fails is logged and skipped; it never aborts the pass. The caller
// may time-box the pass through ctx; a cancelled pass leaves in-flight
// executions in running status for the stale-running report.
func (d *Dispatcher) RunScheduled(ctx context.Context, now time.Time) (RunSummary, error) {
	var summary RunSummary

	rules, err := d.rules.ListActiveByTrigger(TriggerScheduled)
	if err != nil {
		return summary, err
	}

	for _, rule := range rules {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		summary.Rules++

		ids, err := d.detector.Detect(ctx, rule, now)
		if err != nil {
			// Configuration problems are operator work, not retries
			summary.Failed++
			d.logger.Error("detection failed", "rule", rule.ID, "name", rule.Name, "error", err)
			continue
		}
		summary.Matched += len(ids)

		accessor, err := d.registry.Accessor(rule.EntityType)
		if err != nil {
			summary.Failed++
			d.logger.Error("detection matched unknown entity type", "rule", rule.ID, "error", err)
			continue
		}

		for _, entityID := range ids {
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}

			exec, ok, err := d.guard.Claim(ctx, rule, entityID, TriggeredBySystem, now)
			if err != nil {
				d.logger.Error("cooldown claim failed", "rule", rule.ID, "entity", entityID, "error", err)
				continue
			}
			if !ok {
				summary.Cooldown++
				continue
			}
			summary.Fired++

			rec, err := accessor.Get(ctx, entityID)
			if err != nil {
				d.finish(ctx, exec, ActionResult{Status: ActionError,
					Error: WrapKind(KindNotFound, err, "dispatcher", "RunScheduled", "load entity").Error()})
				continue
			}

			result := d.executor.Execute(ctx, exec, rule, rec, accessor, nil, nil)
			d.finish(ctx, exec, result)
		}
	}

	return summary, nil
}

// RunOnEvent reacts to a direct state change on one entity instance. The event
// itself is the trigger: there is no detection step, but the cooldown still
// applies so rapid repeated saves cannot re-fire the rule.
func (d *Dispatcher) RunOnEvent(ctx context.Context, kind TriggerKind, entityType string, rec Record, oldValues, newValues map[string]any) error {
	rules, err := d.activeRules()
	if err != nil {
		return err
	}

	if rec == nil {
		rec = &MapRecord{Values: newValues}
	}

	accessor, _ := d.registry.Accessor(entityType) // nil accessor is fine for map records

	for _, rule := range rules {
		if !rule.EventMatches(kind, entityType, "") {
			continue
		}
		if !d.matcher.MatchAll(rec, rule.Filters) {
			continue
		}
		if !d.filters.Allows(rule, rec.Fields()) {
			continue
		}

		exec, ok, err := d.guard.Claim(ctx, rule, rec.ID(), TriggeredBySystem, time.Now())
		if err != nil {
			d.logger.Error("cooldown claim failed", "rule", rule.ID, "entity", rec.ID(), "error", err)
			continue
		}
		if !ok {
			continue
		}

		result := d.executor.Execute(ctx, exec, rule, rec, accessor, oldValues, newValues)
		d.finish(ctx, exec, result)
	}

	return nil
}

// RunOnSignal reacts to a named application signal for pure-signal rules.
// The payload map is the entity context; cooldown keys off the signal name
// when the payload carries no identifier.
func (d *Dispatcher) RunOnSignal(ctx context.Context, signalName string, payload map[string]any) error {
	rules, err := d.activeRules()
	if err != nil {
		return err
	}

	rec := &MapRecord{Values: payload}
	if id, ok := payload["id"]; ok {
		rec.RecordID = toString(id)
	} else {
		rec.RecordID = signalName
	}

	for _, rule := range rules {
		if !rule.EventMatches(TriggerSignal, "", signalName) {
			continue
		}
		if !d.matcher.MatchAll(rec, rule.Filters) {
			continue
		}
		if !d.filters.Allows(rule, rec.Fields()) {
			continue
		}

		exec, ok, err := d.guard.Claim(ctx, rule, rec.ID(), TriggeredBySystem, time.Now())
		if err != nil {
			d.logger.Error("cooldown claim failed", "rule", rule.ID, "signal", signalName, "error", err)
			continue
		}
		if !ok {
			continue
		}

		result := d.executor.Execute(ctx, exec, rule, rec, nil, nil, payload)
		d.finish(ctx, exec, result)
	}

	return nil
}

// TestFire runs the full execution path for one rule and entity, marked as a
// test and bypassing the cooldown, so rule authors can verify delivery.
func (d *Dispatcher) TestFire(ctx context.Context, ruleID, entityID, triggeredBy string) (*Execution, error) {
	rule, err := d.rules.Get(ruleID)
	if err != nil {
		return nil, err
	}

	var rec Record
	var accessor Accessor
	if rule.EntityType != "" {
		accessor, err = d.registry.Accessor(rule.EntityType)
		if err != nil {
			return nil, err
		}
		rec, err = accessor.Get(ctx, entityID)
		if err != nil {
			return nil, WrapKind(KindNotFound, err, "dispatcher", "TestFire", "load entity")
		}
	}

	exec := &Execution{
		ID:          NewExecutionID(),
		RuleID:      rule.ID,
		TriggerKind: rule.TriggerKind,
		EntityType:  rule.EntityType,
		EntityID:    entityID,
		Status:      ExecutionRunning,
		IsTest:      true,
		TriggeredBy: triggeredBy,
	}
	if err := d.executions.Create(ctx, exec); err != nil {
		return nil, err
	}

	result := d.executor.Execute(ctx, exec, rule, rec, accessor, nil, nil)
	d.finish(ctx, exec, result)

	return d.executions.Get(ctx, exec.ID)
}

// Preview renders a rule against a sample context without writing anything.
// It runs the same render and resolve code as a real firing.
func (d *Dispatcher) Preview(ctx context.Context, rule *Rule, sample map[string]any) (PreviewResult, error) {
	var rec Record = &MapRecord{Values: sample}
	var accessor Accessor
	if rule.EntityType != "" {
		accessor, _ = d.registry.Accessor(rule.EntityType)
	}
	return d.executor.Preview(ctx, rule, rec, accessor, sample)
}

// finish maps the action result onto the execution's terminal status.
// no_recipients and error outcomes mark the execution failed with a message;
// anything else succeeds with the result attached.
func (d *Dispatcher) finish(ctx context.Context, exec *Execution, result ActionResult) {
	var status ExecutionStatus
	var message string

	switch result.Status {
	case ActionNoRecipients:
		status = ExecutionFailed
		message = "no recipients resolved"
	case ActionError:
		status = ExecutionFailed
		message = result.Error
	default:
		status = ExecutionSuccess
	}

	if err := d.executions.Finish(ctx, exec.ID, status, message, &result); err != nil {
		d.logger.Error("failed to record execution outcome",
			"execution", exec.ID, "rule", exec.RuleID, "error", err)
	}
}
