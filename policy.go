package auth

import (
	"github.com/goliatone/go-errors"
)

// Action identifies an operation gated by the authorization policy.
type Action string

const (
	ActionListUsers      Action = "users:list"
	ActionReadUser       Action = "users:read"
	ActionUpdateProfile  Action = "users:update"
	ActionDeleteUser     Action = "users:delete"
	ActionUpdateRole     Action = "users:role"
	ActionChangePassword Action = "users:password"
	ActionReverify       Action = "users:reverify"
)

// AuthorizationPolicy is the single canonical policy deciding whether a
// caller's role and identity allow an action. Operations carry one
// configurable set of allowed roles each; self-scoped actions additionally
// require the authenticated identity to match the target.
type AuthorizationPolicy struct {
	allowed map[Action][]UserRole
}

// DefaultAuthorizationPolicy gates admin operations on the admin role and
// leaves self-scoped operations open to every authenticated role.
func DefaultAuthorizationPolicy() *AuthorizationPolicy {
	return &AuthorizationPolicy{
		allowed: map[Action][]UserRole{
			ActionListUsers:      {RoleAdmin},
			ActionDeleteUser:     {RoleAdmin},
			ActionUpdateRole:     {RoleAdmin},
			ActionReadUser:       {RoleUser, RoleOrganizer, RoleAdmin},
			ActionUpdateProfile:  {RoleUser, RoleOrganizer, RoleAdmin},
			ActionChangePassword: {RoleUser, RoleOrganizer, RoleAdmin},
			ActionReverify:       {RoleUser, RoleOrganizer, RoleAdmin},
		},
	}
}

// WithAllowedRoles overrides the role set for a single action.
func (p *AuthorizationPolicy) WithAllowedRoles(action Action, roles ...UserRole) *AuthorizationPolicy {
	if p.allowed == nil {
		p.allowed = map[Action][]UserRole{}
	}
	p.allowed[action] = roles
	return p
}

// Authorize checks the caller's role against the action's allowed set.
func (p *AuthorizationPolicy) Authorize(claims AuthClaims, action Action) error {
	if claims == nil {
		return ErrNotAuthorized
	}

	roles, ok := p.allowed[action]
	if !ok {
		return errors.New("unknown action", errors.CategoryAuth).
			WithCode(errors.CodeUnauthorized).
			WithMetadata(map[string]any{"action": string(action)})
	}

	for _, role := range roles {
		if claims.HasRole(string(role)) {
			return nil
		}
	}

	return ErrNotAuthorized
}

// AuthorizeSelf enforces the self-edit rule: the authenticated identity
// must match the target id. Any mismatch is unauthorized, independent of
// role.
func (p *AuthorizationPolicy) AuthorizeSelf(claims AuthClaims, targetID string, action Action) error {
	if err := p.Authorize(claims, action); err != nil {
		return err
	}

	if targetID == "" || claims.UserID() != targetID {
		return ErrNotAuthorized
	}

	return nil
}

// AuthorizeSelfOrRole allows the action when the caller either matches the
// target identity or carries one of the elevated roles. Used for read
// paths where admins may inspect any account.
func (p *AuthorizationPolicy) AuthorizeSelfOrRole(claims AuthClaims, targetID string, action Action, roles ...UserRole) error {
	if err := p.Authorize(claims, action); err != nil {
		return err
	}

	if targetID != "" && claims.UserID() == targetID {
		return nil
	}

	for _, role := range roles {
		if claims.HasRole(string(role)) {
			return nil
		}
	}

	return ErrNotAuthorized
}
