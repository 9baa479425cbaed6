package identity

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"circulationd/pkg/domain"
)

const (
	defaultIssuer   = "library-auth"
	defaultAudience = "circulation"
	defaultLeeway   = 30 * time.Second
)

// Config configures access-token verification.
type Config struct {
	Secret   string
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// Verifier extracts the authenticated actor from HS256 bearer tokens issued
// by the identity collaborator. The engine trusts the id and role claims it
// finds; issuing tokens is out of scope here.
type Verifier struct {
	secret   []byte
	issuer   string
	audience string
	leeway   time.Duration
}

type actorClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// NewVerifier creates a token verifier.
func NewVerifier(cfg Config) (*Verifier, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, errors.New("identity verifier requires a secret")
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = defaultIssuer
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		audience = defaultAudience
	}
	leeway := cfg.Leeway
	if leeway <= 0 {
		leeway = defaultLeeway
	}
	return &Verifier{
		secret:   []byte(cfg.Secret),
		issuer:   issuer,
		audience: audience,
		leeway:   leeway,
	}, nil
}

// VerifyActor validates the token and returns the actor it names.
func (v *Verifier) VerifyActor(token string) (domain.Actor, error) {
	claims := &actorClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) { return v.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithLeeway(v.leeway),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return domain.Actor{}, fmt.Errorf("parse token: %w", err)
	}
	if !parsed.Valid {
		return domain.Actor{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return domain.Actor{}, errors.New("token has no subject")
	}
	role := domain.Role(claims.Role)
	switch role {
	case domain.RoleAdmin, domain.RoleLibrarian, domain.RoleReader:
	default:
		return domain.Actor{}, fmt.Errorf("unknown role %q", claims.Role)
	}
	return domain.Actor{ID: claims.Subject, Role: role}, nil
}

// BearerToken extracts a bearer token from the Authorization header.
func BearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
