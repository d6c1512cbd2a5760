package auth

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// UserRole is the user's role
type UserRole string

const (
	// RoleUser is the default role on registration (i.e. buy tickets, self-edit)
	RoleUser UserRole = "user"
	// RoleOrganizer can create and manage events
	RoleOrganizer UserRole = "organizer"
	// RoleAdmin manages the platform (i.e. role changes, user deletion)
	RoleAdmin UserRole = "admin"
)

// User is the user model. PasswordHash and the secret hashes are never
// serialized outward.
type User struct {
	bun.BaseModel `bun:"table:users,alias:usr"`
	ID            uuid.UUID `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Role          UserRole  `bun:"user_role,notnull" json:"user_role,omitempty"`
	FirstName     string    `bun:"first_name,notnull" json:"first_name,omitempty"`
	LastName      string    `bun:"last_name,notnull" json:"last_name,omitempty"`
	Username      string    `bun:"username,notnull,unique" json:"username,omitempty"`
	Email         string    `bun:"email,notnull,unique" json:"email,omitempty"`
	PasswordHash  string    `bun:"password_hash,notnull" json:"-"`
	EmailVerified bool      `bun:"is_email_verified" json:"is_email_verified,omitempty"`

	// At most one outstanding verification secret and one outstanding
	// reset secret per account. A new request overwrites the prior pair,
	// implicitly invalidating it.
	VerificationHash      string     `bun:"verification_hash,nullzero" json:"-"`
	VerificationExpiresAt *time.Time `bun:"verification_expires_at,nullzero" json:"-"`
	ResetHash             string     `bun:"reset_hash,nullzero" json:"-"`
	ResetExpiresAt        *time.Time `bun:"reset_expires_at,nullzero" json:"-"`

	LoginAttempts  int        `bun:"login_attempts" json:"-"`
	LoginAttemptAt *time.Time `bun:"login_attempt_at" json:"-"`
	LoggedInAt     *time.Time `bun:"loggedin_at" json:"loggedin_at,omitempty"`
	CreatedAt      *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt      *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt      *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// HasOutstandingVerification reports whether a verification secret is
// currently stored for the account.
func (u *User) HasOutstandingVerification() bool {
	return u != nil && u.VerificationHash != "" && u.VerificationExpiresAt != nil
}

// HasOutstandingReset reports whether a reset secret is currently stored.
func (u *User) HasOutstandingReset() bool {
	return u != nil && u.ResetHash != "" && u.ResetExpiresAt != nil
}

// Audit actions recorded by credential operations
const (
	AuditActionRoleChangeRequest = "role.change.request"
	AuditActionUserDeleted       = "user.deleted"
)

// AuditEntry is a persisted audit record. Role changes write their entry
// in the same transaction as the update so a committed change always has
// exactly one matching entry.
type AuditEntry struct {
	bun.BaseModel `bun:"table:audit_entries,alias:aud"`
	ID            uuid.UUID      `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID        *uuid.UUID     `bun:"user_id,notnull" json:"user_id,omitempty"`
	User          *User          `bun:"rel:has-one,join:user_id=id" json:"user,omitempty"`
	Action        string         `bun:"action,notnull" json:"action,omitempty"`
	Details       string         `bun:"details" json:"details,omitempty"`
	Metadata      map[string]any `bun:"metadata" json:"metadata,omitempty"`
	CreatedAt     *time.Time     `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// NewRoleChangeAudit builds the audit entry recorded before a role update
// is applied.
func NewRoleChangeAudit(userID uuid.UUID, fromRole, toRole UserRole) *AuditEntry {
	return &AuditEntry{
		UserID:  &userID,
		Action:  AuditActionRoleChangeRequest,
		Details: "user " + userID.String() + " requested a role change to " + string(toRole),
		Metadata: map[string]any{
			"from_role": string(fromRole),
			"to_role":   string(toRole),
		},
	}
}
