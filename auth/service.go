package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"claimflow/apperr"
	"claimflow/enterprise"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken covers every token that cannot be trusted: bad
	// signature, wrong algorithm, expired, or missing claims.
	ErrInvalidToken = apperr.Kind(apperr.ErrUnauthorizedActor, "auth: invalid token")
	ErrEmptySecret  = errors.New("auth: jwt secret is empty")
)

const issuer = "claimflow"

type claims struct {
	Name          string `json:"name,omitempty"`
	Role          Role   `json:"role"`
	OrgEnterprise string `json:"org_enterprise,omitempty"`
	OrgID         string `json:"org_id,omitempty"`
	jwt.RegisteredClaims
}

// Service issues and verifies HS256 bearer tokens naming an Actor.
type Service struct {
	jwtSecret []byte
	ttl       time.Duration
	now       func() time.Time
}

// NewService creates a token service. ttl defaults to 24 hours.
func NewService(jwtSecret string, ttl time.Duration) (*Service, error) {
	if strings.TrimSpace(jwtSecret) == "" {
		return nil, ErrEmptySecret
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		jwtSecret: []byte(jwtSecret),
		ttl:       ttl,
		now:       time.Now,
	}, nil
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Issue signs a token for actor.
func (s *Service) Issue(actor Actor) (string, error) {
	if strings.TrimSpace(actor.ID) == "" {
		return "", apperr.Invalidf("auth: actor id required")
	}
	if !actor.Role.Valid() {
		return "", apperr.Invalidf("auth: invalid role %q", actor.Role)
	}
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Name:          actor.Name,
		Role:          actor.Role,
		OrgEnterprise: string(actor.Org.Enterprise),
		OrgID:         actor.Org.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	})
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken validates tokenString and returns the actor it names.
func (s *Service) VerifyToken(tokenString string) (Actor, error) {
	var c claims
	token, err := jwt.ParseWithClaims(tokenString, &c, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		return Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || c.Subject == "" {
		return Actor{}, ErrInvalidToken
	}
	if !c.Role.Valid() {
		return Actor{}, fmt.Errorf("%w: role %q", ErrInvalidToken, c.Role)
	}
	return Actor{
		ID:   c.Subject,
		Name: c.Name,
		Role: c.Role,
		Org:  enterprise.Org{Enterprise: enterprise.Enterprise(c.OrgEnterprise), ID: c.OrgID},
	}, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}
