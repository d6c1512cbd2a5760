package auth

import (
	"context"
	"reflect"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var _ Authenticator = (*Auther)(nil)

type Auther struct {
	provider        IdentityProvider
	signingKey      []byte
	tokenExpiration int
	issuer          string
	audience        []string
	logger          Logger
	tokenService    TokenService
	revoker         TokenRevoker
	activitySink    ActivitySink
}

// NewAuthenticator returns a new Authenticator
func NewAuthenticator(provider IdentityProvider, revoker TokenRevoker, opts Config) *Auther {
	tokenService := NewTokenService(
		[]byte(opts.GetSigningKey()),
		opts.GetTokenExpiration(),
		opts.GetIssuer(),
		opts.GetAudience(),
		defLogger{},
	)

	if revoker == nil {
		revoker = NewRevocationRegistry()
	}

	return &Auther{
		provider:        provider,
		signingKey:      []byte(opts.GetSigningKey()),
		tokenExpiration: opts.GetTokenExpiration(),
		audience:        opts.GetAudience(),
		issuer:          opts.GetIssuer(),
		logger:          defLogger{},
		tokenService:    tokenService,
		revoker:         revoker,
		activitySink:    noopActivitySink{},
	}
}

func (s *Auther) WithLogger(logger Logger) *Auther {
	s.logger = logger
	s.tokenService = NewTokenService(
		s.signingKey,
		s.tokenExpiration,
		s.issuer,
		s.audience,
		logger,
	)
	return s
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func (s *Auther) WithActivitySink(sink ActivitySink) *Auther {
	s.activitySink = normalizeActivitySink(sink)
	return s
}

// TokenService returns the TokenService instance used by this Authenticator
func (s *Auther) TokenService() TokenService {
	return s.tokenService
}

// Revoker returns the registry consulted on every authenticated request
func (s *Auther) Revoker() TokenRevoker {
	return s.revoker
}

// Login resolves the account behind the identifier, checks the password,
// and mints a bearer token. Verification state does not gate login.
func (s *Auther) Login(ctx context.Context, identifier, password string) (string, error) {
	var err error
	var identity Identity

	if identity, err = s.provider.VerifyIdentity(ctx, identifier, password); err != nil {
		s.logger.Error("Login verify identity error", "error", err)
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, ActorRef{Type: "unknown"}, "", map[string]any{
			"identifier": identifier,
			"error":      err.Error(),
		})
		return "", err
	}

	if identity == nil || reflect.ValueOf(identity).IsZero() {
		s.logger.Error("Login identity is nil or zero value")
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, ActorRef{Type: "unknown"}, "", map[string]any{
			"identifier": identifier,
			"error":      ErrMismatchedHashAndPassword.Error(),
		})
		return "", ErrMismatchedHashAndPassword
	}

	token, err := s.tokenService.Generate(identity)
	if err != nil {
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, s.actorFromIdentity(identity), identity.ID(), map[string]any{
			"identifier": identifier,
			"error":      err.Error(),
		})
		return "", err
	}

	s.emitAuthEvent(ctx, ActivityEventLoginSuccess, s.actorFromIdentity(identity), identity.ID(), map[string]any{
		"identifier": identifier,
	})

	return token, nil
}

// Logout adds the token to the revocation registry using the token's own
// expiry as the entry's lifetime. Logging out twice with the same token is
// harmless, and a token we cannot parse at all can never authenticate, so
// it is ignored.
func (s *Auther) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}

	expiresAt, userID := s.tokenExpiry(token)
	if expiresAt.IsZero() {
		// expired or unparseable, nothing left to revoke
		return nil
	}

	s.revoker.Revoke(token, expiresAt)

	s.emitAuthEvent(ctx, ActivityEventLogout, ActorRef{ID: userID, Type: "user"}, userID, nil)

	return nil
}

// SessionFromToken decodes a bearer token into a session. Revocation wins
// over a structurally valid, unexpired token.
func (s Auther) SessionFromToken(raw string) (Session, error) {
	if s.revoker.IsRevoked(raw) {
		return nil, ErrTokenRevoked
	}

	claims, err := s.tokenService.Validate(raw)
	if err != nil {
		s.logger.Error("SessionFromToken validation failed", "error", err)
		return nil, err
	}

	session, err := sessionFromAuthClaims(claims)
	if err != nil {
		s.logger.Error("SessionFromToken failed to create session from claims", "error", err)
		return nil, err
	}

	return session, nil
}

// ClaimsFromToken validates a bearer token and returns its claims with the
// same revocation precedence as SessionFromToken.
func (s Auther) ClaimsFromToken(raw string) (AuthClaims, error) {
	if s.revoker.IsRevoked(raw) {
		return nil, ErrTokenRevoked
	}
	return s.tokenService.Validate(raw)
}

func (s *Auther) IdentityFromSession(ctx context.Context, session Session) (Identity, error) {
	identity, err := s.provider.FindIdentityByIdentifier(ctx, session.GetUserID())

	if err != nil {
		s.logger.Error("IdentityFromSession find identity by identifier", "error", err)
		return nil, err
	}

	return identity, nil
}

// tokenExpiry extracts the expiry and subject from a token without
// enforcing validity; logout must work for tokens that are about to
// expire anyway.
func (s *Auther) tokenExpiry(raw string) (time.Time, string) {
	claims, err := s.tokenService.Validate(raw)
	if err == nil {
		return claims.Expires(), claims.UserID()
	}

	if IsTokenExpiredError(err) {
		return time.Time{}, ""
	}

	// structurally valid but rejected for another reason: parse without
	// verification just to bound the revocation entry
	parser := jwt.NewParser()
	parsed := &JWTClaims{}
	if _, _, perr := parser.ParseUnverified(raw, parsed); perr != nil {
		return time.Time{}, ""
	}

	return parsed.Expires(), parsed.UserID()
}

func (s *Auther) emitAuthEvent(ctx context.Context, eventType ActivityEventType, actor ActorRef, userID string, metadata map[string]any) {
	sink := normalizeActivitySink(s.activitySink)
	event := ActivityEvent{
		EventType: eventType,
		Actor:     actor,
		UserID:    userID,
		Metadata:  metadata,
	}

	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	if err := sink.Record(ctx, event); err != nil {
		s.logger.Warn("activity sink record error: %v", err)
	}
}

func (s *Auther) actorFromIdentity(identity Identity) ActorRef {
	if identity == nil {
		return ActorRef{Type: "unknown"}
	}

	return ActorRef{
		ID:   identity.ID(),
		Type: "user",
	}
}
