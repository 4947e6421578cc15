package auth

import "time"

// Identity status values. The store keeps status as an integer flag.
const (
	StatusDeactivated = 0
	StatusActive      = 1
)

// DefaultRoleName is the role attached to every newly registered identity.
const DefaultRoleName = "user"

// Identity represents an authenticatable account held by the credential store.
type Identity struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	Status       int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Active reports whether the identity may log in.
func (i *Identity) Active() bool {
	return i != nil && i.Status == StatusActive
}

// Role groups free-form permissions under a name.
type Role struct {
	ID          int64
	Name        string
	Description string
	Permissions []string
	CreatedAt   time.Time
}

// Session is one issued access token recorded for revocation.
type Session struct {
	ID           int64
	IdentityID   int64
	Token        string
	RefreshToken string
	ExpiresAt    time.Time
	CreatedAt    time.Time
}

// LiveAt reports whether the session is still usable at now. Expiry is exclusive.
func (s *Session) LiveAt(now time.Time) bool {
	return s != nil && s.ExpiresAt.After(now)
}

// Principal is the identity data embedded into issued tokens.
type Principal struct {
	ID       int64    `json:"id"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Roles    []string `json:"roles"`
}

// Payload is the decoded content of a validated access token.
type Payload struct {
	Sub       int64    `json:"sub"`
	Username  string   `json:"username"`
	Email     string   `json:"email"`
	Roles     []string `json:"roles"`
	IssuedAt  int64    `json:"iat"`
	ExpiresAt int64    `json:"exp"`
}

// HasRole reports whether the payload carries the given role name.
func (p Payload) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// LoginRequest carries credentials; Username matches either username or email.
type LoginRequest struct {
	Username string `json:"username" validate:"required,max=255"`
	Password string `json:"password" validate:"required,max=72"`
}

// RegisterRequest carries the data needed to create an identity.
type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

// TokenResponse is returned by login and registration.
type TokenResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	TokenType    string    `json:"token_type"`
	User         Principal `json:"user"`
}

// LogoutResult reports the outcome of a logout. Removed may be zero.
type LogoutResult struct {
	Success bool  `json:"success"`
	Removed int64 `json:"removed"`
}
