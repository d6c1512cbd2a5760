package auth

import (
	"context"
	"net/mail"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
)

type ReverifyAccountMessage struct {
	Identity string `json:"identity"`
	Email    string `json:"email"`
}

func (e ReverifyAccountMessage) Type() string { return "user.reverify" }

// ReverifyAccountHandler extends the verification window for an
// authenticated but unverified account. The outstanding secret is kept;
// only its expiry moves, so the originally delivered link stays valid.
type ReverifyAccountHandler struct {
	repo   RepositoryManager
	mailer Mailer
	logger Logger
	window time.Duration
	now    func() time.Time
}

func NewReverifyAccountHandler(repo RepositoryManager, mailer Mailer) *ReverifyAccountHandler {
	return &ReverifyAccountHandler{
		repo:   repo,
		mailer: mailer,
		logger: defLogger{},
		window: DefaultSecretValidity,
		now:    time.Now,
	}
}

func (h *ReverifyAccountHandler) WithLogger(logger Logger) *ReverifyAccountHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *ReverifyAccountHandler) WithSecretValidity(window time.Duration) *ReverifyAccountHandler {
	if window > 0 {
		h.window = window
	}
	return h
}

func (h *ReverifyAccountHandler) WithClock(now func() time.Time) *ReverifyAccountHandler {
	if now != nil {
		h.now = now
	}
	return h
}

func (h *ReverifyAccountHandler) Execute(ctx context.Context, event ReverifyAccountMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during reverification",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *ReverifyAccountHandler) execute(ctx context.Context, event ReverifyAccountMessage) error {
	if _, err := mail.ParseAddress(event.Email); err != nil {
		return goerrors.New("invalid email", goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest)
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	user, err := h.repo.Users().GetByEmail(ctx, event.Email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return ErrIdentityNotFound
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user for reverification")
	}

	if user.EmailVerified {
		return goerrors.New("user already verified", goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest)
	}

	expiresAt := h.now().Add(h.window)
	if err := h.repo.Users().ExtendVerification(ctx, user.ID, expiresAt); err != nil {
		if repository.IsRecordNotFound(err) {
			// no outstanding secret to extend
			return ErrSecretNotFound
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to extend verification window")
	}

	if err := h.mailer.Send(ctx, user.Email, MailTemplateVerification, map[string]any{
		"subject":    "Verify your account",
		"first_name": user.FirstName,
		"expires_at": expiresAt,
		"reminder":   true,
	}); err != nil {
		h.logger.Error("failed to deliver reverification notification", "error", err, "user_id", user.ID.String())
	}

	return nil
}
