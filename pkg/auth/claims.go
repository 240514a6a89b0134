package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Role is the coarse authorization level carried in the token.
type Role string

const (
	RoleMember   Role = "member"
	RoleOperator Role = "operator"
)

func (r Role) IsValid() bool {
	return r == RoleMember || r == RoleOperator
}

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID   uuid.UUID
	TenantID uuid.UUID
	Role     Role
}

// AccessTokenClaims represents the typed JWT issued to clients.
type AccessTokenClaims struct {
	UserID   uuid.UUID `json:"user_id"`
	TenantID uuid.UUID `json:"tenant_id"`
	Role     Role      `json:"role"`
	jwt.RegisteredClaims
}
