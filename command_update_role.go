package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type UpdateUserRoleMessage struct {
	UserID uuid.UUID `json:"user_id"`
	Role   string    `json:"role"`

	// Actor is the admin performing the change, recorded in the audit trail.
	Actor Identity

	OnResponse func(*User)
}

func (p UpdateUserRoleMessage) Type() string { return "user.update_role" }

// UpdateUserRoleHandler changes a user's role. The audit entry and the role
// update commit in the same transaction, so every applied change has a
// matching audit row and a failed change leaves neither.
type UpdateUserRoleHandler struct {
	repo     RepositoryManager
	activity ActivitySink
	logger   Logger
}

// NewUpdateUserRoleHandler creates a handler with sane defaults.
func NewUpdateUserRoleHandler(repo RepositoryManager) *UpdateUserRoleHandler {
	return &UpdateUserRoleHandler{
		repo:     repo,
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

// WithActivitySink sets the sink used to emit role change events.
func (h *UpdateUserRoleHandler) WithActivitySink(sink ActivitySink) *UpdateUserRoleHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *UpdateUserRoleHandler) WithLogger(logger Logger) *UpdateUserRoleHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *UpdateUserRoleHandler) Execute(ctx context.Context, event UpdateUserRoleMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during role update",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *UpdateUserRoleHandler) execute(ctx context.Context, event UpdateUserRoleMessage) error {
	role, ok := ParseRole(event.Role)
	if !ok {
		return goerrors.New("invalid role provided", goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest).
			WithMetadata(map[string]any{
				"role":  event.Role,
				"valid": GetAllRoles(),
			})
	}

	user := &User{}
	previousRole := RoleUser

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error

		user, err = h.repo.Users().GetByID(ctx, event.UserID.String())
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrIdentityNotFound.Clone()
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "could not retrieve user for role update")
		}

		previousRole = user.Role

		audit := NewRoleChangeAudit(user.ID, previousRole, role)
		if _, err := h.repo.AuditEntries().CreateTx(ctx, tx, audit); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to record role change audit entry")
		}

		if err := h.repo.Users().UpdateRoleTx(ctx, tx, user.ID, role); err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrIdentityNotFound.Clone()
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update user role in database")
		}

		user.Role = role

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update user role")
	}

	h.recordActivity(ctx, event.Actor, user, previousRole)

	if event.OnResponse != nil {
		event.OnResponse(user)
	}

	return nil
}

func (h *UpdateUserRoleHandler) recordActivity(ctx context.Context, actor Identity, user *User, from UserRole) {
	if user == nil {
		return
	}

	actorRef := ActorRef{Type: "user", ID: user.ID.String()}
	if actor != nil {
		actorRef.ID = actor.ID()
	}

	event := ActivityEvent{
		EventType:  ActivityEventRoleChanged,
		Actor:      actorRef,
		UserID:     user.ID.String(),
		OccurredAt: time.Now(),
		Metadata: map[string]any{
			"from": string(from),
			"to":   string(user.Role),
		},
	}

	if err := normalizeActivitySink(h.activity).Record(ctx, event); err != nil {
		h.logger.Warn("activity sink error during role update: %v", err)
	}
}
