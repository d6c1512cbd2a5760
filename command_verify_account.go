package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

type VerifyAccountMessage struct {
	Secret     string `json:"secret"`
	OnResponse func(resp *VerifyAccountResponse)
}

func (e VerifyAccountMessage) Type() string { return "user.verify" }

type VerifyAccountResponse struct {
	User *User
}

// VerifyAccountHandler consumes a verification secret: the stored hash is
// matched, expiry checked, and the secret cleared in the same transaction
// that marks the account verified, enforcing single use.
type VerifyAccountHandler struct {
	repo     RepositoryManager
	mailer   Mailer
	activity ActivitySink
	logger   Logger
	now      func() time.Time
}

func NewVerifyAccountHandler(repo RepositoryManager, mailer Mailer) *VerifyAccountHandler {
	return &VerifyAccountHandler{
		repo:     repo,
		mailer:   mailer,
		activity: noopActivitySink{},
		logger:   defLogger{},
		now:      time.Now,
	}
}

func (h *VerifyAccountHandler) WithLogger(logger Logger) *VerifyAccountHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *VerifyAccountHandler) WithActivitySink(sink ActivitySink) *VerifyAccountHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

func (h *VerifyAccountHandler) WithClock(now func() time.Time) *VerifyAccountHandler {
	if now != nil {
		h.now = now
	}
	return h
}

func (h *VerifyAccountHandler) Execute(ctx context.Context, event VerifyAccountMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during account verification",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *VerifyAccountHandler) execute(ctx context.Context, event VerifyAccountMessage) error {
	if event.Secret == "" {
		return goerrors.New("verification secret is required", goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest)
	}

	user := &User{}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error

		user, err = h.repo.Users().GetByVerificationHash(ctx, HashSecret(event.Secret))
		if err != nil {
			if repository.IsRecordNotFound(err) {
				// unknown and expired secrets are indistinguishable
				return ErrSecretNotFound
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user for verification")
		}

		if user.VerificationExpiresAt == nil || h.now().After(*user.VerificationExpiresAt) {
			return ErrSecretNotFound
		}

		if err := h.repo.Users().MarkVerifiedTx(ctx, tx, user.ID); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to mark user as verified")
		}

		user.EmailVerified = true
		user.VerificationHash = ""
		user.VerificationExpiresAt = nil

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "account verification failed")
	}

	if err := h.mailer.Send(ctx, user.Email, MailTemplateVerified, map[string]any{
		"subject":    "Account verified",
		"first_name": user.FirstName,
	}); err != nil {
		h.logger.Error("failed to deliver verified notification", "error", err, "user_id", user.ID.String())
	}

	h.recordActivity(ctx, user)

	if event.OnResponse != nil {
		event.OnResponse(&VerifyAccountResponse{User: user})
	}

	return nil
}

func (h *VerifyAccountHandler) recordActivity(ctx context.Context, user *User) {
	if user == nil {
		return
	}

	event := ActivityEvent{
		EventType: ActivityEventAccountVerified,
		Actor: ActorRef{
			ID:   user.ID.String(),
			Type: "user",
		},
		UserID:     user.ID.String(),
		OccurredAt: time.Now(),
	}

	if err := normalizeActivitySink(h.activity).Record(ctx, event); err != nil {
		h.logger.Warn("activity sink error during verification: %v", err)
	}
}
