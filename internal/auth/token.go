// Package auth turns bearer tokens into a model.Identity on the request
// context. Registration operations read the identity from there and never
// trust a user id taken from the request body.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/club-registration/internal/model"
)

// Claims represents the JWT claims for access tokens. The subject is the
// user id; locale picks the notification language.
type Claims struct {
	Email  string `json:"email,omitempty"`
	Name   string `json:"name,omitempty"`
	Role   string `json:"role,omitempty"`
	Locale string `json:"locale,omitempty"`
	jwt.RegisteredClaims
}

// Validator validates a raw bearer token.
type Validator interface {
	Validate(token string) (model.Identity, error)
}

// TokenService signs and validates HS256 tokens.
type TokenService struct {
	signingKey []byte
	issuer     string
	now        func() time.Time
}

func NewTokenService(signingKey, issuer string) *TokenService {
	return &TokenService{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		now:        time.Now,
	}
}

// Issue signs a token for id valid for ttl.
func (s *TokenService) Issue(id model.Identity, ttl time.Duration) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Email:  id.Email,
		Name:   id.Name,
		Role:   id.Role,
		Locale: id.Locale,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	})
	return token.SignedString(s.signingKey)
}

// Validate parses and verifies token, returning the authenticated identity.
func (s *TokenService) Validate(token string) (model.Identity, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(s.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return model.Identity{}, model.NewError(model.KindUnauthenticated, "token has expired")
		}
		return model.Identity{}, model.NewError(model.KindUnauthenticated, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return model.Identity{}, model.NewError(model.KindUnauthenticated, "invalid token claims")
	}

	return model.Identity{
		UserID:        claims.Subject,
		Email:         claims.Email,
		Name:          claims.Name,
		Role:          claims.Role,
		Locale:        claims.Locale,
		Authenticated: true,
	}, nil
}
