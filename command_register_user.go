package auth

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

type RegisterUserMessage struct {
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	OnResponse func(resp *RegisterUserResponse)
}

func (e RegisterUserMessage) Type() string { return "user.register" }

type RegisterUserResponse struct {
	User *User
}

type RegisterUserHandler struct {
	repo    RepositoryManager
	secrets SecretService
	mailer  Mailer
	logger  Logger
	window  time.Duration
}

// NewRegisterUserHandler creates a handler with sane defaults.
func NewRegisterUserHandler(repo RepositoryManager, secrets SecretService, mailer Mailer) *RegisterUserHandler {
	return &RegisterUserHandler{
		repo:    repo,
		secrets: secrets,
		mailer:  mailer,
		logger:  defLogger{},
		window:  DefaultSecretValidity,
	}
}

func (h *RegisterUserHandler) WithLogger(logger Logger) *RegisterUserHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

// WithSecretValidity overrides the verification window.
func (h *RegisterUserHandler) WithSecretValidity(window time.Duration) *RegisterUserHandler {
	if window > 0 {
		h.window = window
	}
	return h
}

func (h *RegisterUserHandler) Execute(ctx context.Context, event RegisterUserMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during user registration",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterUserHandler) execute(ctx context.Context, event RegisterUserMessage) error {
	user := &User{}
	var secret IssuedSecret

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		// Pre-checks give the username conflict precedence when both
		// username and email clash. The unique index remains the
		// authoritative conflict signal for concurrent registrations.
		if _, err := h.repo.Users().GetByIdentifierTx(ctx, tx, event.Username); err == nil {
			return goerrors.New("username already exists", goerrors.CategoryConflict).
				WithCode(goerrors.CodeConflict).
				WithTextCode(TextCodeConflict)
		}

		if _, err := h.repo.Users().GetByIdentifierTx(ctx, tx, event.Email); err == nil {
			return goerrors.New("email already exists", goerrors.CategoryConflict).
				WithCode(goerrors.CodeConflict).
				WithTextCode(TextCodeConflict)
		}

		hash, err := HashPassword(event.Password)
		if err != nil {
			var richErr *goerrors.Error
			if goerrors.As(err, &richErr) {
				return goerrors.Wrap(richErr, goerrors.CategoryValidation, "invalid password provided")
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
		}

		if secret, err = h.secrets.Issue(h.window); err != nil {
			return err
		}

		expiresAt := secret.ExpiresAt

		user.PasswordHash = hash
		user.Email = event.Email
		user.FirstName = event.FirstName
		user.LastName = event.LastName
		user.Username = getUsername(event.Username, event.Email)
		user.Role = RoleUser
		user.EmailVerified = false
		user.VerificationHash = secret.Hash
		user.VerificationExpiresAt = &expiresAt

		if user, err = h.repo.Users().CreateTx(ctx, tx, user); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryConflict, "could not create user").
				WithCode(goerrors.CodeConflict).
				WithTextCode(TextCodeConflict)
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}

		return goerrors.Wrap(err, goerrors.CategoryInternal, "user registration transaction failed")
	}

	// The plaintext secret leaves the process exactly once, here.
	if err := h.mailer.Send(ctx, user.Email, MailTemplateVerification, map[string]any{
		"subject":    "Verify your account",
		"first_name": user.FirstName,
		"secret":     secret.Plaintext,
		"expires_at": secret.ExpiresAt,
	}); err != nil {
		h.logger.Error("failed to deliver verification notification", "error", err, "user_id", user.ID.String())
	}

	if event.OnResponse != nil {
		event.OnResponse(&RegisterUserResponse{User: user})
	}

	return nil
}

func getUsername(username, email string) string {
	if username != "" {
		return username
	}

	if strings.Contains(email, "@") {
		username = strings.Split(email, "@")[0]
	}

	return username
}
