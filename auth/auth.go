// Package auth decodes the identity credential issued by the platform's
// authentication service. The realtime layer trusts the decoded identity,
// role and camp affiliation; it never re-derives them.
package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the authenticated principal handed to the realtime hub.
type Identity struct {
	UserID string
	Role   string
	CampID string // empty if the user has no camp affiliation
}

type claims struct {
	Role   string `json:"role,omitempty"`
	CampID string `json:"camp_id,omitempty"`
	jwt.RegisteredClaims
}

// Decoder validates HS256 tokens signed with the shared platform secret.
type Decoder struct {
	secret []byte
}

func NewDecoder(secret []byte) *Decoder {
	return &Decoder{secret: secret}
}

// Decode validates the credential and returns the identity it asserts.
// The subject claim is the user ID, matching the tokens the REST layer mints.
func (d *Decoder) Decode(token string) (*Identity, error) {
	if token == "" {
		return nil, fmt.Errorf("no token provided")
	}
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (interface{}, error) {
		return d.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if c.Subject == "" {
		return nil, fmt.Errorf("token has no subject")
	}
	return &Identity{
		UserID: c.Subject,
		Role:   c.Role,
		CampID: c.CampID,
	}, nil
}
