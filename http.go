package auth

import (
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// HTTPAuthenticator is the surface the HTTP controller needs from the
// route authenticator.
type HTTPAuthenticator interface {
	Login(ctx router.Context, payload LoginPayload) (string, error)
	Logout(ctx router.Context) error
	ProtectedRoute(optional bool) router.MiddlewareFunc
	SessionFromRequest(ctx router.Context) (Session, error)
}

var _ HTTPAuthenticator = (*RouteAuthenticator)(nil)

type RouteAuthenticator struct {
	auth                   Authenticator
	cfg                    Config
	cookieDuration         time.Duration
	extendedCookieDuration time.Duration
	Logger                 Logger
	ErrorHandler           func(c router.Context, err error) error
}

func NewHTTPAuthenticator(auther Authenticator, cfg Config) (*RouteAuthenticator, error) {
	cookieDuration := 24 * time.Hour
	if cfg.GetTokenExpiration() > 0 {
		cookieDuration = time.Duration(cfg.GetTokenExpiration()) * time.Hour
	}

	extendedCookieDuration := cookieDuration
	if cfg.GetExtendedTokenDuration() > 0 {
		extendedCookieDuration = time.Duration(cfg.GetExtendedTokenDuration()) * time.Hour
	}

	a := &RouteAuthenticator{
		cfg:                    cfg,
		auth:                   auther,
		Logger:                 defLogger{},
		cookieDuration:         cookieDuration,
		extendedCookieDuration: extendedCookieDuration,
	}

	a.ErrorHandler = a.defaultErrHandler

	return a, nil
}

// WithLogger sets the logger used by the route authenticator.
func (a *RouteAuthenticator) WithLogger(logger Logger) *RouteAuthenticator {
	if logger != nil {
		a.Logger = logger
	}
	return a
}

func (a RouteAuthenticator) GetCookieDuration() time.Duration {
	return a.cookieDuration
}

func (a RouteAuthenticator) GetExtendedCookieDuration() time.Duration {
	return a.extendedCookieDuration
}

// TokenFromRequest pulls the bearer token from the Authorization header,
// falling back to the session cookie so browser clients work too.
func (a *RouteAuthenticator) TokenFromRequest(ctx router.Context) string {
	scheme := a.cfg.GetAuthScheme()
	if scheme == "" {
		scheme = "Bearer"
	}

	header := ctx.GetString("Authorization", "")
	if header != "" {
		if strings.HasPrefix(header, scheme+" ") {
			return strings.TrimSpace(strings.TrimPrefix(header, scheme+" "))
		}
		return ""
	}

	return ctx.Cookies(a.cfg.GetContextKey())
}

// ProtectedRoute gates a route behind a valid, non revoked token. Revoked
// tokens are rejected before signature or expiry checks so a logged out
// token cannot slip through as merely expired. With optional set, requests
// without a usable token proceed anonymously.
func (a *RouteAuthenticator) ProtectedRoute(optional bool) router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			token := a.TokenFromRequest(ctx)
			if token == "" {
				if optional {
					return next(ctx)
				}
				return a.ErrorHandler(ctx, errors.New("missing authentication token", errors.CategoryAuth).
					WithCode(errors.CodeUnauthorized).
					WithTextCode(TextCodeTokenMalformed))
			}

			stored, err := a.decodeToken(token)
			if err != nil {
				if optional {
					a.Logger.Info("optional auth failed, proceeding", "error", err)
					return next(ctx)
				}
				return a.ErrorHandler(ctx, err)
			}

			ctx.Locals(a.cfg.GetContextKey(), stored)

			return next(ctx)
		}
	}
}

// decodeToken keeps claims when the authenticator can produce them so the
// policy layer sees role information; otherwise the session is stored.
func (a *RouteAuthenticator) decodeToken(token string) (any, error) {
	if ca, ok := a.auth.(interface {
		ClaimsFromToken(raw string) (AuthClaims, error)
	}); ok {
		return ca.ClaimsFromToken(token)
	}

	return a.auth.SessionFromToken(token)
}

// SessionFromRequest resolves the caller's session from the request token
// without requiring the middleware to have run.
func (a *RouteAuthenticator) SessionFromRequest(ctx router.Context) (Session, error) {
	if session, err := GetRouterSession(ctx, a.cfg.GetContextKey()); err == nil {
		return session, nil
	}

	token := a.TokenFromRequest(ctx)
	if token == "" {
		return nil, ErrUnableToFindSession
	}

	return a.auth.SessionFromToken(token)
}

// Login authenticates the payload and, on success, returns the bearer token
// and mirrors it into the session cookie.
func (a *RouteAuthenticator) Login(ctx router.Context, payload LoginPayload) (string, error) {
	token, err := a.auth.Login(ctx.Context(), payload.GetIdentifier(), payload.GetPassword())
	if err != nil {
		a.Logger.Error("Login error: %s", err)
		return "", err
	}

	duration := a.cookieDuration
	if payload.GetExtendedSession() {
		duration = a.extendedCookieDuration
	}

	a.setCookieToken(ctx, token, duration)
	return token, nil
}

// Logout revokes the presented token and clears the cookie. The cookie is
// cleared even when no token was presented, so logout never fails for a
// client that already lost its session.
func (a *RouteAuthenticator) Logout(ctx router.Context) error {
	token := a.TokenFromRequest(ctx)

	defer a.cookieDel(ctx, a.cfg.GetContextKey())

	if token == "" {
		return nil
	}

	if err := a.auth.Logout(ctx.Context(), token); err != nil {
		a.Logger.Error("Logout revocation error: %s", err)
		return err
	}

	return nil
}

func (a *RouteAuthenticator) setCookieToken(c router.Context, val string, duration time.Duration) {
	c.Cookie(&router.Cookie{
		Name:     a.cfg.GetContextKey(),
		Value:    val,
		Path:     "/",
		Expires:  time.Now().Add(duration),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})
}

func (a *RouteAuthenticator) cookieDel(c router.Context, name string) {
	c.Cookie(&router.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Expires:  time.Now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})
}

func (a *RouteAuthenticator) defaultErrHandler(c router.Context, err error) error {
	return JSONErrorHandler(a.Logger)(c, err)
}

// JSONErrorHandler renders any error as a JSON body with a stable shape.
// Internal detail stays in the logs; clients only see the message, the text
// code, and field level validation metadata.
func JSONErrorHandler(logger Logger) func(router.Context, error) error {
	if logger == nil {
		logger = defLogger{}
	}

	return func(c router.Context, err error) error {
		var richErr *errors.Error
		if !errors.As(err, &richErr) {
			richErr = errors.Wrap(err, errors.CategoryInternal, "An unexpected server error occurred").
				WithCode(errors.CodeInternal)
		}

		status := richErr.Code
		if status < 400 || status > 599 {
			status = errors.CodeInternal
		}

		logger.Info(
			"request error",
			"error", richErr.Message,
			"category", richErr.Category,
			"details", print.MaybePrettyJSON(richErr.Metadata),
		)

		body := map[string]any{
			"error": richErr.Message,
		}

		if richErr.TextCode != "" {
			body["code"] = richErr.TextCode
		}

		if richErr.Category == errors.CategoryValidation || richErr.Category == errors.CategoryBadInput {
			if fields, ok := richErr.Metadata["fields"]; ok {
				body["fields"] = fields
			}
		}

		return c.JSON(status, body)
	}
}
