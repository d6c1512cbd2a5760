package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
)

type InitializePasswordResetMessage struct {
	Email      string `json:"email"`
	OnResponse func(resp *InitializePasswordResetResponse)
}

func (p InitializePasswordResetMessage) Type() string { return "user.password_reset" }

type InitializePasswordResetResponse struct {
	User      *User
	ExpiresAt time.Time
}

// InitializePasswordResetHandler issues a reset secret for the account
// behind the email. Storing the new hash overwrites any prior reset
// secret, so at most one is outstanding per account.
type InitializePasswordResetHandler struct {
	repo     RepositoryManager
	secrets  SecretService
	mailer   Mailer
	activity ActivitySink
	logger   Logger
	window   time.Duration
}

func NewInitializePasswordResetHandler(repo RepositoryManager, secrets SecretService, mailer Mailer) *InitializePasswordResetHandler {
	return &InitializePasswordResetHandler{
		repo:     repo,
		secrets:  secrets,
		mailer:   mailer,
		activity: noopActivitySink{},
		logger:   defLogger{},
		window:   DefaultSecretValidity,
	}
}

func (h *InitializePasswordResetHandler) WithLogger(logger Logger) *InitializePasswordResetHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *InitializePasswordResetHandler) WithActivitySink(sink ActivitySink) *InitializePasswordResetHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

func (h *InitializePasswordResetHandler) WithSecretValidity(window time.Duration) *InitializePasswordResetHandler {
	if window > 0 {
		h.window = window
	}
	return h
}

func (h *InitializePasswordResetHandler) Execute(ctx context.Context, event InitializePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset initialization",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *InitializePasswordResetHandler) execute(ctx context.Context, event InitializePasswordResetMessage) error {
	if event.Email == "" {
		return goerrors.New("email is required", goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest)
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	user, err := h.repo.Users().GetByEmail(ctx, event.Email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return ErrIdentityNotFound
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user for password reset")
	}

	secret, err := h.secrets.Issue(h.window)
	if err != nil {
		return err
	}

	if err := h.repo.Users().SetResetSecret(ctx, user.ID, secret.Hash, secret.ExpiresAt); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to store password reset secret")
	}

	if err := h.mailer.Send(ctx, user.Email, MailTemplatePasswordReset, map[string]any{
		"subject":    "Reset your password",
		"first_name": user.FirstName,
		"secret":     secret.Plaintext,
		"expires_at": secret.ExpiresAt,
	}); err != nil {
		h.logger.Error("failed to deliver password reset notification", "error", err, "user_id", user.ID.String())
	}

	h.recordActivity(ctx, user)

	if event.OnResponse != nil {
		event.OnResponse(&InitializePasswordResetResponse{
			User:      user,
			ExpiresAt: secret.ExpiresAt,
		})
	}

	return nil
}

func (h *InitializePasswordResetHandler) recordActivity(ctx context.Context, user *User) {
	event := ActivityEvent{
		EventType: ActivityEventPasswordResetStart,
		Actor: ActorRef{
			ID:   user.ID.String(),
			Type: "user",
		},
		UserID:     user.ID.String(),
		OccurredAt: time.Now(),
	}

	if err := normalizeActivitySink(h.activity).Record(ctx, event); err != nil {
		h.logger.Warn("activity sink error during password reset init: %v", err)
	}
}
