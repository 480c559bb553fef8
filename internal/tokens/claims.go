package tokens

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// PortalClaims are the JWT claims minted by the portal gateway.
type PortalClaims struct {
	jwt.RegisteredClaims
	PortalType  string   `json:"portal_type,omitempty"`
	TenantID    string   `json:"tenant_id,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// Payload is the decoded, client-side view of an access token. It is derived
// on demand and never persisted in decomposed form.
type Payload struct {
	Subject     string    `json:"sub"`
	IssuedAt    time.Time `json:"iat"`
	ExpiresAt   time.Time `json:"exp"`
	Audience    []string  `json:"aud"`
	Issuer      string    `json:"iss"`
	JWTID       string    `json:"jti,omitempty"`
	PortalType  string    `json:"portal_type,omitempty"`
	TenantID    string    `json:"tenant_id,omitempty"`
	Roles       []string  `json:"roles,omitempty"`
	Permissions []string  `json:"permissions,omitempty"`
}

// HasRole reports whether the token carries the given role.
func (p *Payload) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasPermission reports whether the token carries the given permission.
func (p *Payload) HasPermission(perm string) bool {
	for _, candidate := range p.Permissions {
		if candidate == perm {
			return true
		}
	}
	return false
}

func payloadFromClaims(claims *PortalClaims) *Payload {
	payload := &Payload{
		Subject:     claims.Subject,
		Issuer:      claims.Issuer,
		JWTID:       claims.ID,
		Audience:    claims.Audience,
		PortalType:  claims.PortalType,
		TenantID:    claims.TenantID,
		Roles:       claims.Roles,
		Permissions: claims.Permissions,
	}
	if claims.IssuedAt != nil {
		payload.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		payload.ExpiresAt = claims.ExpiresAt.Time
	}
	return payload
}
