// Package notify delivers rendered notifications and records follow-up
// tasks. Internal notifications are persisted to the notifications table;
// external recipients go straight through the mailer.
package notify

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/google/uuid"

	"github.com/talentpipe/sentinel/engine"
	"github.com/talentpipe/sentinel/internal/logger"
)

// Mailer sends one email. Implementations wrap whatever transport the
// deployment uses (SMTP relay, provider API).
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogMailer logs instead of sending. Default for deployments without an
// email transport configured.
type LogMailer struct {
	Logger *slog.Logger
}

func (m *LogMailer) Send(ctx context.Context, to, subject, body string) error {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "email delivery skipped, no mailer configured",
		"to", to,
		"subject", subject,
	)
	return nil
}

// Channel implements engine.NotificationChannel. Internal recipients get a
// persisted notification row plus an email when they have an address;
// external recipients get email only.
type Channel struct {
	db     *sql.DB
	mailer Mailer
	logger *slog.Logger
}

// NewChannel creates a channel. A nil mailer falls back to LogMailer.
func NewChannel(db *sql.DB, mailer Mailer, logger *slog.Logger) *Channel {
	if mailer == nil {
		mailer = &LogMailer{Logger: logger}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{db: db, mailer: mailer, logger: logger}
}

// Send delivers one notification and reports the per-recipient outcome.
// A persisted row without a deliverable email still counts as sent; the
// in-app notification is the primary channel.
func (c *Channel) Send(ctx context.Context, n engine.Notification) engine.Delivery {
	var notifID string
	if n.UserID != "" {
		id, err := c.persist(ctx, n)
		if err != nil {
			logger.WarnDeliveryFailure()
			c.logger.ErrorContext(ctx, "failed to persist notification",
				"user_id", n.UserID,
				"rule_id", n.RuleID,
				"error", err,
			)
			return engine.Delivery{Sent: false, Error: err.Error()}
		}
		notifID = id
	}

	if n.Email != "" {
		if err := c.email(ctx, n); err != nil {
			logger.WarnDeliveryFailure()
			c.recordEmailOutcome(ctx, notifID, false, err.Error())
			// internal recipients keep their persisted row even when the
			// email leg fails
			if n.UserID != "" {
				c.logger.WarnContext(ctx, "notification persisted but email failed",
					"user_id", n.UserID,
					"error", err,
				)
				return engine.Delivery{Sent: true, Error: err.Error()}
			}
			return engine.Delivery{Sent: false, Error: err.Error()}
		}
		c.recordEmailOutcome(ctx, notifID, true, "")
	}

	return engine.Delivery{Sent: true}
}

// email runs the mailer leg, classifying transport failures.
func (c *Channel) email(ctx context.Context, n engine.Notification) error {
	if err := c.mailer.Send(ctx, n.Email, n.Title, n.Body); err != nil {
		return engine.WrapKind(engine.KindEmail, err, "notify", "email", n.Email)
	}
	return nil
}

func (c *Channel) persist(ctx context.Context, n engine.Notification) (string, error) {
	id := "notif-" + uuid.New().String()
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO notifications (id, execution_id, rule_id, user_id, title, body, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
		id, n.ExecutionID, n.RuleID, n.UserID, n.Title, n.Body,
	)
	if err != nil {
		return "", engine.WrapKind(engine.KindConnection, err, "notify", "persist", n.UserID)
	}
	return id, nil
}

// recordEmailOutcome stamps the email leg's result onto the persisted row.
// Best effort: the delivery outcome was already decided.
func (c *Channel) recordEmailOutcome(ctx context.Context, notifID string, sent bool, emailErr string) {
	if notifID == "" {
		return
	}
	var errVal any
	if emailErr != "" {
		errVal = emailErr
	}
	if _, err := c.db.ExecContext(ctx, `
		UPDATE notifications SET email_sent = $1, email_error = $2 WHERE id = $3`,
		sent, errVal, notifID,
	); err != nil {
		c.logger.WarnContext(ctx, "failed to record email outcome",
			"notification_id", notifID,
			"error", err,
		)
	}
}
