package engine

import (
	"context"
	"log/slog"
	"strings"
)

// Recipient role tokens resolvable at firing time.
const (
	RoleAssignedUser  = "assigned_user"
	RoleEntityOwner   = "entity_owner"
	RoleAllRecruiters = "all_recruiters"
	RoleExplicitUsers = "users"          // explicit list from the notification config
	RoleEntityContact = "entity_contact" // external email carried in the entity data
)

// Default field names used when a record has no accessor (pure-signal rules,
// event payloads handed in as plain maps).
const (
	defaultAssigneeField = "assigned_to"
	defaultOwnerField    = "created_by"
	defaultContactField  = "contact_email"
)

// Recipients is the resolved, de-duplicated target set of one firing.
type Recipients struct {
	Users          []UserRef
	ExternalEmails []string
}

// Empty reports whether resolution produced no targets at all
func (r Recipients) Empty() bool {
	return len(r.Users) == 0 && len(r.ExternalEmails) == 0
}

// RecipientResolver turns abstract role tokens plus entity context into
// concrete notification targets. Unknown roles resolve to an empty set,
// never an error; the executor reports that as no_recipients.
type RecipientResolver struct {
	users  UserDirectory
	logger *slog.Logger
}

// NewRecipientResolver creates a resolver over the user directory
func NewRecipientResolver(users UserDirectory, logger *slog.Logger) *RecipientResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecipientResolver{users: users, logger: logger}
}

// Resolve maps one recipient role to targets. accessor may be nil for records
// that arrived outside the registry; conventional field names apply then.
func (r *RecipientResolver) Resolve(ctx context.Context, recipientType string, rec Record, accessor Accessor, rule *Rule) (Recipients, error) {
	var out Recipients

	switch recipientType {
	case RoleAssignedUser:
		field := defaultAssigneeField
		if accessor != nil && accessor.AssigneeField() != "" {
			field = accessor.AssigneeField()
		}
		user, ok, err := r.userFromField(ctx, rec, field)
		if err != nil {
			return Recipients{}, err
		}
		if ok {
			out.Users = append(out.Users, user)
		}

	case RoleEntityOwner:
		field := defaultOwnerField
		if accessor != nil && accessor.OwnerField() != "" {
			field = accessor.OwnerField()
		}
		user, ok, err := r.userFromField(ctx, rec, field)
		if err != nil {
			return Recipients{}, err
		}
		if ok {
			out.Users = append(out.Users, user)
		}

	case RoleAllRecruiters:
		recruiters, err := r.users.ActiveWithRole(ctx, "recruiter")
		if err != nil {
			return Recipients{}, WrapKind(KindConnection, err, "recipients", "Resolve", "list recruiters")
		}
		out.Users = append(out.Users, recruiters...)

	case RoleExplicitUsers:
		if rule != nil && rule.Notification != nil {
			for _, id := range rule.Notification.RecipientUserIDs {
				user, err := r.users.User(ctx, id)
				if err != nil {
					// A stale ID in config should not silence the others
					r.logger.Warn("configured recipient not found", "rule", rule.ID, "user", id)
					continue
				}
				out.Users = append(out.Users, user)
			}
		}

	case RoleEntityContact:
		field := defaultContactField
		if accessor != nil && accessor.ContactEmailField() != "" {
			field = accessor.ContactEmailField()
		}
		if rec != nil {
			if v, ok := rec.Field(field); ok && v != nil {
				if email := strings.TrimSpace(toString(v)); email != "" {
					out.ExternalEmails = append(out.ExternalEmails, email)
				}
			}
		}

	default:
		// Unknown role: empty result, treated upstream as no_recipients
		r.logger.Warn("unknown recipient role", "role", recipientType)
	}

	return dedupe(out), nil
}

// userFromField reads a user ID off the record and resolves it.
func (r *RecipientResolver) userFromField(ctx context.Context, rec Record, field string) (UserRef, bool, error) {
	if rec == nil {
		return UserRef{}, false, nil
	}
	v, ok := rec.Field(field)
	if !ok || v == nil {
		return UserRef{}, false, nil
	}
	id := toString(v)
	if id == "" {
		return UserRef{}, false, nil
	}

	user, err := r.users.User(ctx, id)
	if err != nil {
		if IsKind(err, KindNotFound) {
			return UserRef{}, false, nil
		}
		return UserRef{}, false, WrapKind(KindConnection, err, "recipients", "Resolve", "look up user")
	}
	return user, true, nil
}

// dedupe removes duplicate targets by identity: user ID for internal users,
// lowercase address for emails. An external email that belongs to a resolved
// user is dropped in favour of the internal notification.
func dedupe(in Recipients) Recipients {
	var out Recipients
	seenUsers := make(map[string]bool)
	seenEmails := make(map[string]bool)

	for _, u := range in.Users {
		if u.ID == "" || seenUsers[u.ID] {
			continue
		}
		seenUsers[u.ID] = true
		if u.Email != "" {
			seenEmails[strings.ToLower(u.Email)] = true
		}
		out.Users = append(out.Users, u)
	}

	for _, email := range in.ExternalEmails {
		key := strings.ToLower(strings.TrimSpace(email))
		if key == "" || seenEmails[key] {
			continue
		}
		seenEmails[key] = true
		out.ExternalEmails = append(out.ExternalEmails, email)
	}

	return out
}
