package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type DeleteUserMessage struct {
	UserID uuid.UUID `json:"user_id"`
}

func (p DeleteUserMessage) Type() string { return "user.delete" }

// DeleteUserHandler soft deletes an account. The audit entry commits in the
// same transaction as the delete.
type DeleteUserHandler struct {
	repo     RepositoryManager
	activity ActivitySink
	logger   Logger
}

func NewDeleteUserHandler(repo RepositoryManager) *DeleteUserHandler {
	return &DeleteUserHandler{
		repo:     repo,
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

// WithActivitySink sets the sink used to emit deletion events.
func (h *DeleteUserHandler) WithActivitySink(sink ActivitySink) *DeleteUserHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *DeleteUserHandler) WithLogger(logger Logger) *DeleteUserHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *DeleteUserHandler) Execute(ctx context.Context, event DeleteUserMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during user deletion",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *DeleteUserHandler) execute(ctx context.Context, event DeleteUserMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user, err := h.repo.Users().GetByID(ctx, event.UserID.String())
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrIdentityNotFound.Clone()
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "could not retrieve user for deletion")
		}

		userID := user.ID
		audit := &AuditEntry{
			UserID:  &userID,
			Action:  AuditActionUserDeleted,
			Details: "user " + userID.String() + " was deleted",
		}

		if _, err := h.repo.AuditEntries().CreateTx(ctx, tx, audit); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to record user deletion audit entry")
		}

		if err := h.repo.Users().SoftDeleteTx(ctx, tx, userID); err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrIdentityNotFound.Clone()
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete user")
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete user")
	}

	return nil
}
