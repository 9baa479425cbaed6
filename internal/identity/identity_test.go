package identity

import (
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"circulationd/pkg/domain"
)

const testSecret = "unit-test-secret"

func signToken(t *testing.T, secret string, mutate func(*actorClaims)) string {
	t.Helper()
	claims := &actorClaims{
		Role: string(domain.RoleLibrarian),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "staff-1",
			Issuer:    defaultIssuer,
			Audience:  jwt.ClaimStrings{defaultAudience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	if mutate != nil {
		mutate(claims)
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestVerifyActor(t *testing.T) {
	verifier, err := NewVerifier(Config{Secret: testSecret})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	actor, err := verifier.VerifyActor(signToken(t, testSecret, nil))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if actor.ID != "staff-1" || actor.Role != domain.RoleLibrarian {
		t.Fatalf("actor = %+v, want staff-1/librarian", actor)
	}
}

func TestVerifyActorRejections(t *testing.T) {
	verifier, err := NewVerifier(Config{Secret: testSecret})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	cases := []struct {
		name  string
		token string
	}{
		{"wrong secret", signToken(t, "other-secret", nil)},
		{"wrong issuer", signToken(t, testSecret, func(c *actorClaims) {
			c.Issuer = "someone-else"
		})},
		{"wrong audience", signToken(t, testSecret, func(c *actorClaims) {
			c.Audience = jwt.ClaimStrings{"other-service"}
		})},
		{"expired", signToken(t, testSecret, func(c *actorClaims) {
			c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
		})},
		{"no expiry", signToken(t, testSecret, func(c *actorClaims) {
			c.ExpiresAt = nil
		})},
		{"no subject", signToken(t, testSecret, func(c *actorClaims) {
			c.Subject = ""
		})},
		{"unknown role", signToken(t, testSecret, func(c *actorClaims) {
			c.Role = "superuser"
		})},
		{"garbage", "not-a-token"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := verifier.VerifyActor(tc.token); err == nil {
				t.Fatal("token accepted")
			}
		})
	}
}

func TestVerifyActorLeeway(t *testing.T) {
	verifier, err := NewVerifier(Config{Secret: testSecret, Leeway: time.Minute})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	// Expired ten seconds ago, inside the one-minute leeway.
	token := signToken(t, testSecret, func(c *actorClaims) {
		c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-10 * time.Second))
	})
	if _, err := verifier.VerifyActor(token); err != nil {
		t.Fatalf("verify inside leeway: %v", err)
	}
}

func TestBearerToken(t *testing.T) {
	cases := []struct {
		name   string
		header string
		want   string
		ok     bool
	}{
		{"normal", "Bearer abc123", "abc123", true},
		{"case insensitive scheme", "bearer abc123", "abc123", true},
		{"missing header", "", "", false},
		{"wrong scheme", "Basic abc123", "", false},
		{"empty token", "Bearer ", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			if tc.header != "" {
				r.Header.Set("Authorization", tc.header)
			}
			got, ok := BearerToken(r)
			if ok != tc.ok || got != tc.want {
				t.Fatalf("BearerToken = %q, %v, want %q, %v", got, ok, tc.want, tc.ok)
			}
		})
	}
}
