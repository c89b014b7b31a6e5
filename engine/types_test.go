package engine

import (
	"strings"
	"testing"
)

func validScheduledRule() *Rule {
	return &Rule{
		ID:          "rule-1",
		Name:        "Stuck in screening",
		EntityType:  "candidate",
		TriggerKind: TriggerScheduled,
		Detection: &DetectionConfig{
			Kind: DetectStageDuration,
			StageDuration: &StageDurationConfig{
				StageField:    "stage",
				ThresholdDays: 7,
			},
		},
		SendNotification: true,
		Notification: &NotificationConfig{
			RecipientType: RoleAssignedUser,
			TitleTemplate: "{{name}} is stuck",
			BodyTemplate:  "No movement for a week",
		},
		Active: true,
	}
}

func TestRuleValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *Rule)
		wantErr string
	}{
		{
			name:   "valid scheduled rule",
			mutate: func(r *Rule) {},
		},
		{
			name:    "missing id",
			mutate:  func(r *Rule) { r.ID = "" },
			wantErr: "rule id is required",
		},
		{
			name:    "missing name",
			mutate:  func(r *Rule) { r.Name = "" },
			wantErr: "rule name is required",
		},
		{
			name:    "scheduled without detection",
			mutate:  func(r *Rule) { r.Detection = nil },
			wantErr: "requires a detection config",
		},
		{
			name:    "scheduled without entity type",
			mutate:  func(r *Rule) { r.EntityType = "" },
			wantErr: "requires an entity type",
		},
		{
			name:    "unknown trigger kind",
			mutate:  func(r *Rule) { r.TriggerKind = "whenever" },
			wantErr: "unknown trigger kind",
		},
		{
			name: "signal rule without signal name",
			mutate: func(r *Rule) {
				r.TriggerKind = TriggerSignal
				r.Detection = nil
			},
			wantErr: "requires a signal name",
		},
		{
			name: "signal rule with signal name",
			mutate: func(r *Rule) {
				r.TriggerKind = TriggerSignal
				r.SignalName = "offer_declined"
				r.EntityType = ""
				r.Detection = nil
			},
		},
		{
			name: "event rule without entity type",
			mutate: func(r *Rule) {
				r.TriggerKind = TriggerModelUpdated
				r.EntityType = ""
				r.Detection = nil
			},
			wantErr: "requires an entity type",
		},
		{
			name: "filter with empty field",
			mutate: func(r *Rule) {
				r.Filters = []FilterCondition{{Operator: OperatorEquals, Value: "x"}}
			},
			wantErr: "empty field",
		},
		{
			name: "filter with empty operator",
			mutate: func(r *Rule) {
				r.Filters = []FilterCondition{{Field: "stage", Value: "x"}}
			},
			wantErr: "empty operator",
		},
		{
			name: "notification enabled without config",
			mutate: func(r *Rule) {
				r.Notification = nil
			},
			wantErr: "no notification config",
		},
		{
			name: "notification without any template",
			mutate: func(r *Rule) {
				r.Notification = &NotificationConfig{RecipientType: RoleAssignedUser}
			},
			wantErr: "needs a template reference or inline",
		},
		{
			name: "notification with template ref only",
			mutate: func(r *Rule) {
				r.Notification = &NotificationConfig{
					RecipientType: RoleAssignedUser,
					TemplateRef:   "stuck-candidate",
				}
			},
		},
		{
			name: "task enabled without config",
			mutate: func(r *Rule) {
				r.CreateTask = true
			},
			wantErr: "no task config",
		},
		{
			name: "task without title template",
			mutate: func(r *Rule) {
				r.CreateTask = true
				r.Task = &TaskConfig{Priority: "high"}
			},
			wantErr: "requires a title template",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := validScheduledRule()
			tt.mutate(rule)

			err := rule.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want it to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestDetectionConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  DetectionConfig
		wantErr bool
	}{
		{
			name: "valid stage duration",
			config: DetectionConfig{
				Kind:          DetectStageDuration,
				StageDuration: &StageDurationConfig{StageField: "stage", ThresholdDays: 3},
			},
		},
		{
			name: "valid overdue",
			config: DetectionConfig{
				Kind:    DetectOverdue,
				Overdue: &OverdueConfig{DueField: "due_date"},
			},
		},
		{
			name: "valid last activity",
			config: DetectionConfig{
				Kind:         DetectLastActivity,
				LastActivity: &LastActivityConfig{ActivityField: "last_contacted_at", ThresholdDays: 14},
			},
		},
		{
			name:    "kind without variant",
			config:  DetectionConfig{Kind: DetectOverdue},
			wantErr: true,
		},
		{
			name: "variant without kind match",
			config: DetectionConfig{
				Kind:         "stale",
				LastActivity: &LastActivityConfig{ActivityField: "last_contacted_at"},
			},
			wantErr: true,
		},
		{
			name: "empty stage field",
			config: DetectionConfig{
				Kind:          DetectStageDuration,
				StageDuration: &StageDurationConfig{ThresholdDays: 3},
			},
			wantErr: true,
		},
		{
			name: "negative threshold",
			config: DetectionConfig{
				Kind:    DetectOverdue,
				Overdue: &OverdueConfig{DueField: "due_date", ThresholdDays: -1},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEventMatches(t *testing.T) {
	tests := []struct {
		name       string
		rule       Rule
		kind       TriggerKind
		entityType string
		signalName string
		want       bool
	}{
		{
			name: "matching event rule",
			rule: Rule{Active: true, TriggerKind: TriggerModelUpdated, EntityType: "candidate"},
			kind: TriggerModelUpdated, entityType: "candidate",
			want: true,
		},
		{
			name: "inactive rule never matches",
			rule: Rule{Active: false, TriggerKind: TriggerModelUpdated, EntityType: "candidate"},
			kind: TriggerModelUpdated, entityType: "candidate",
			want: false,
		},
		{
			name: "wrong trigger kind",
			rule: Rule{Active: true, TriggerKind: TriggerModelCreated, EntityType: "candidate"},
			kind: TriggerModelUpdated, entityType: "candidate",
			want: false,
		},
		{
			name: "wrong entity type",
			rule: Rule{Active: true, TriggerKind: TriggerModelUpdated, EntityType: "lead"},
			kind: TriggerModelUpdated, entityType: "candidate",
			want: false,
		},
		{
			name: "signal rule matches by name",
			rule: Rule{Active: true, TriggerKind: TriggerSignal, SignalName: "offer_declined"},
			kind: TriggerSignal, signalName: "offer_declined",
			want: true,
		},
		{
			name: "signal rule wrong name",
			rule: Rule{Active: true, TriggerKind: TriggerSignal, SignalName: "offer_declined"},
			kind: TriggerSignal, signalName: "offer_accepted",
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.rule.EventMatches(tt.kind, tt.entityType, tt.signalName)
			if got != tt.want {
				t.Errorf("EventMatches() = %v, want %v", got, tt.want)
			}
		})
	}
}
