package tokens

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/odyssey-erp/odyssey-auth/internal/principals"
)

// Type discriminates access from refresh tokens.
type Type string

// Token types.
const (
	TypeAccess  Type = "access"
	TypeRefresh Type = "refresh"
)

// Claims is the single claim schema used for issuing and verifying both
// token types.
type Claims struct {
	jwt.RegisteredClaims
	TenantID *string         `json:"tid"`
	Kind     principals.Kind `json:"kind"`
	DeviceID string          `json:"dev,omitempty"`
	Type     Type            `json:"typ"`
	FamilyID string          `json:"fam,omitempty"`
}

// Identity projects the claims into a request identity.
func (c *Claims) Identity() principals.Identity {
	return principals.Identity{
		PrincipalID: c.Subject,
		TenantID:    c.TenantID,
		Kind:        c.Kind,
		DeviceID:    c.DeviceID,
	}
}

// Pair is an issued access/refresh token pair.
type Pair struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	ExpiresIn        int64     `json:"expiresIn"`
	AccessExpiresAt  time.Time `json:"-"`
	RefreshExpiresAt time.Time `json:"-"`
	RefreshJTI       string    `json:"-"`
}

// Record is the persisted state of an issued refresh token.
type Record struct {
	JTI         string
	PrincipalID string
	TenantID    *string
	DeviceID    string
	FamilyID    string
	Revoked     bool
	RevokedAt   *time.Time
	// ReplacedBy is the jti minted when this token was rotated.
	ReplacedBy string
	ExpiresAt  time.Time
	CreatedAt  time.Time
}
