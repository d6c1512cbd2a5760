package auth

// authIdentity is the plain-data Identity returned by credential checks
type authIdentity struct {
	id       string
	username string
	email    string
	role     string
	verified bool
}

func (a authIdentity) ID() string {
	return a.id
}

func (a authIdentity) Username() string {
	return a.username
}

func (a authIdentity) Email() string {
	return a.email
}

func (a authIdentity) Role() string {
	return a.role
}

// Verified reports whether the identity's email has been verified. Login
// does not depend on it; reverification flows do.
func (a authIdentity) Verified() bool {
	return a.verified
}

// IdentityFromUser adapts a stored user record into an Identity
func IdentityFromUser(user *User) Identity {
	if user == nil {
		return nil
	}
	return authIdentity{
		id:       user.ID.String(),
		username: user.Username,
		email:    user.Email,
		role:     string(user.Role),
		verified: user.EmailVerified,
	}
}
