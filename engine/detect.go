package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/talentpipe/sentinel/internal/logger"
)

// CreatedAtField is the conventional creation-timestamp field every tracked
// entity type exposes. Stage-duration detection falls back to it when no
// transition history exists.
const CreatedAtField = "created_at"

// Detector evaluates a scheduled rule's detection config against the current
// entity population and returns the matching identifiers. Scans are read-only
// and streamed; a problem with a single entity skips that entity, never the run.
type Detector struct {
	registry    *Registry
	transitions TransitionLog
	matcher     *Matcher
	filters     *FilterPrograms
	logger      *slog.Logger
}

// NewDetector creates a detector over the given registry and transition log.
func NewDetector(registry *Registry, transitions TransitionLog, filters *FilterPrograms, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		registry:    registry,
		transitions: transitions,
		matcher:     NewMatcher(),
		filters:     filters,
		logger:      logger,
	}
}

// Detect returns the IDs of entities currently matching the rule. An unknown
// entity type or malformed detection config is a configuration error and
// fails the rule's run.
func (d *Detector) Detect(ctx context.Context, rule *Rule, asOf time.Time) ([]string, error) {
	if rule.Detection == nil {
		return nil, Errorf(KindType, "rule %s has no detection config", rule.ID)
	}
	if err := rule.Detection.Validate(); err != nil {
		return nil, Errorf(KindType, "rule %s: %v", rule.ID, err)
	}

	accessor, err := d.registry.Accessor(rule.EntityType)
	if err != nil {
		return nil, err
	}

	it, err := accessor.List(ctx)
	if err != nil {
		return nil, WrapKind(KindConnection, err, "detector", "Detect", "list entities")
	}
	defer it.Close()

	var matched []string
	for it.Next(ctx) {
		rec := it.Record()

		hit, err := d.temporalMatch(ctx, rule, accessor, rec, asOf)
		if err != nil {
			// Per-entity problems are skipped, never fatal to the run
			logger.EntitiesSkipped.Add(1)
			d.logger.Debug("skipping entity during detection",
				"rule", rule.ID, "entity", rec.ID(), "error", err)
			continue
		}
		if !hit {
			continue
		}

		if !d.matcher.MatchAll(rec, rule.Filters) {
			continue
		}
		if d.filters != nil && !d.filters.Allows(rule, rec.Fields()) {
			continue
		}

		matched = append(matched, rec.ID())
	}
	if err := it.Err(); err != nil {
		return nil, WrapKind(KindConnection, err, "detector", "Detect", "iterate entities")
	}

	return matched, nil
}

// temporalMatch applies the rule's detection predicate to one record.
func (d *Detector) temporalMatch(ctx context.Context, rule *Rule, accessor Accessor, rec Record, asOf time.Time) (bool, error) {
	cfg := rule.Detection

	switch cfg.Kind {
	case DetectStageDuration:
		return d.stageDurationMatch(ctx, rule, accessor, rec, asOf, cfg.StageDuration)

	case DetectOverdue:
		due, ok := rec.Field(cfg.Overdue.DueField)
		if !ok || due == nil {
			return false, nil
		}
		dueAt, ok := toTime(due)
		if !ok {
			return false, Errorf(KindAttribute, "field %q is not a timestamp", cfg.Overdue.DueField)
		}
		cutoff := asOf.Add(-daysToDuration(cfg.Overdue.ThresholdDays))
		return dueAt.Before(cutoff), nil

	case DetectLastActivity:
		activity, ok := rec.Field(cfg.LastActivity.ActivityField)
		if !ok || activity == nil {
			return false, nil
		}
		lastAt, ok := toTime(activity)
		if !ok {
			return false, Errorf(KindAttribute, "field %q is not a timestamp", cfg.LastActivity.ActivityField)
		}
		cutoff := asOf.Add(-daysToDuration(cfg.LastActivity.ThresholdDays))
		return lastAt.Before(cutoff), nil

	default:
		return false, Errorf(KindType, "unknown detection kind %q", cfg.Kind)
	}
}

// stageDurationMatch checks how long the record has sat in its current stage.
// The most recent transition into the stage is authoritative; entities with
// no transition history fall back to their creation timestamp.
func (d *Detector) stageDurationMatch(ctx context.Context, rule *Rule, accessor Accessor, rec Record, asOf time.Time, cfg *StageDurationConfig) (bool, error) {
	stage, ok := rec.Field(cfg.StageField)
	if !ok || stage == nil {
		return false, nil
	}

	if cfg.ExcludeTerminal && accessor.TerminalStage(stage) {
		return false, nil
	}

	var enteredAt time.Time
	if d.transitions != nil {
		at, found, err := d.transitions.LastTransitionTo(ctx, rule.EntityType, rec.ID(), stage)
		if err != nil {
			return false, WrapKind(KindConnection, err, "detector", "Detect", "read transition history")
		}
		if found {
			enteredAt = at
		}
	}

	if enteredAt.IsZero() {
		created, ok := rec.Field(CreatedAtField)
		if !ok || created == nil {
			return false, Errorf(KindAttribute, "no transition history and no %s field", CreatedAtField)
		}
		createdAt, ok := toTime(created)
		if !ok {
			return false, Errorf(KindAttribute, "field %q is not a timestamp", CreatedAtField)
		}
		enteredAt = createdAt
	}

	return asOf.Sub(enteredAt) >= daysToDuration(cfg.ThresholdDays), nil
}

func daysToDuration(days int) time.Duration {
	return time.Duration(days) * 24 * time.Hour
}
