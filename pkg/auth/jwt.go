// Package auth provides JWT validation and the identity plumbing the HTTP
// and realtime surfaces share.
package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"mindmeld/application/ports"
	"mindmeld/pkg/common"
	apperrors "mindmeld/pkg/errors"
)

// Claims carries the participant identity inside a signed token. The same
// three fields feed presence metadata on the realtime side.
type Claims struct {
	UserID      string `json:"uid"`
	DisplayName string `json:"name"`
	AvatarRef   string `json:"avatar,omitempty"`
	jwt.RegisteredClaims
}

// Validator verifies HS256 tokens
type Validator struct {
	secret []byte
}

// NewValidator creates a validator for the given signing secret
func NewValidator(secret string) *Validator {
	return &Validator{secret: []byte(secret)}
}

// Validate parses and verifies a token, returning the embedded identity
func (v *Validator) Validate(tokenString string) (common.Principal, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apperrors.NewUnauthorizedError("unexpected signing method")
		}
		return v.secret, nil
	})
	if err != nil {
		return common.Principal{}, apperrors.NewUnauthorizedError("invalid token").WithCause(err)
	}
	if !token.Valid || claims.UserID == "" {
		return common.Principal{}, apperrors.NewUnauthorizedError("invalid token")
	}
	return common.Principal{
		UserID:      claims.UserID,
		DisplayName: claims.DisplayName,
		AvatarRef:   claims.AvatarRef,
	}, nil
}

// Issue signs a token for a participant. Mainly for tests and local tooling;
// production tokens come from the identity service.
func (v *Validator) Issue(p common.Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:      p.UserID,
		DisplayName: p.DisplayName,
		AvatarRef:   p.AvatarRef,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", apperrors.Wrap(err, "sign token")
	}
	return signed, nil
}

// ContextIdentity resolves the local participant from the request context,
// satisfying ports.IdentityProvider for server-side sessions.
type ContextIdentity struct{}

func (ContextIdentity) Local(ctx context.Context) (ports.Participant, error) {
	p, ok := common.GetPrincipal(ctx)
	if !ok {
		return ports.Participant{}, apperrors.NewUnauthorizedError("no authenticated identity in context")
	}
	return ports.Participant{
		UserID:      p.UserID,
		DisplayName: p.DisplayName,
		AvatarRef:   p.AvatarRef,
	}, nil
}

// StaticIdentity returns a fixed participant, for tests and local tooling
type StaticIdentity struct {
	Participant ports.Participant
}

func (s StaticIdentity) Local(ctx context.Context) (ports.Participant, error) {
	return s.Participant, nil
}
