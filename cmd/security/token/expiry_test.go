package token

import (
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"
	"github.com/golang-jwt/jwt/v5"
)

func TestJWTExpiry(t *testing.T) {
	t.Parallel()

	exp := time.Now().Add(10 * time.Minute).Truncate(time.Second)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
		Subject:   "u1",
	}).SignedString([]byte("backend-secret"))
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}

	got, err := JWTExpiry{}.Expiry(signed)
	if err != nil {
		t.Fatalf("Expiry: %v", err)
	}
	if !got.Equal(exp) {
		t.Fatalf("exp=%v want=%v", got, exp)
	}

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "u1"}).SignedString([]byte("k"))
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	if _, err := (JWTExpiry{}).Expiry(noExp); err != ErrNoExpiry {
		t.Fatalf("expected ErrNoExpiry, got %v", err)
	}

	if _, err := (JWTExpiry{}).Expiry("not-a-jwt"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestPasetoExpiry(t *testing.T) {
	t.Parallel()

	secret := paseto.NewV4AsymmetricSecretKey()
	dec, err := NewPasetoExpiry(secret.Public().ExportHex())
	if err != nil {
		t.Fatalf("NewPasetoExpiry: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	tok := paseto.NewToken()
	tok.SetIssuedAt(now)
	tok.SetExpiration(now.Add(5 * time.Minute))
	signed := tok.V4Sign(secret, nil)

	got, err := dec.Expiry(signed)
	if err != nil {
		t.Fatalf("Expiry: %v", err)
	}
	if !got.Equal(now.Add(5 * time.Minute)) {
		t.Fatalf("exp=%v want=%v", got, now.Add(5*time.Minute))
	}

	// Tokens from another key are rejected.
	foreign := paseto.NewToken()
	foreign.SetExpiration(now.Add(5 * time.Minute))
	if _, err := dec.Expiry(foreign.V4Sign(paseto.NewV4AsymmetricSecretKey(), nil)); err == nil {
		t.Fatalf("expected verification failure")
	}
}

func TestChainExpiryAndLifetime(t *testing.T) {
	t.Parallel()

	now := time.Now()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(90 * time.Second)),
	}).SignedString([]byte("k"))
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}

	secret := paseto.NewV4AsymmetricSecretKey()
	pdec, err := NewPasetoExpiry(secret.Public().ExportHex())
	if err != nil {
		t.Fatalf("NewPasetoExpiry: %v", err)
	}
	chain := ChainExpiry{pdec, JWTExpiry{}}

	d, ok := Lifetime(chain, signed, now)
	if !ok {
		t.Fatalf("expected lifetime")
	}
	if d <= 80*time.Second || d > 90*time.Second {
		t.Fatalf("lifetime=%v out of range", d)
	}

	if _, ok := Lifetime(chain, signed, now.Add(2*time.Minute)); ok {
		t.Fatalf("expired token must not report a lifetime")
	}
	if _, ok := Lifetime(chain, "garbage", now); ok {
		t.Fatalf("garbage must not report a lifetime")
	}
	if _, ok := Lifetime(nil, signed, now); ok {
		t.Fatalf("nil decoder must not report a lifetime")
	}
	if _, err := (ChainExpiry{}).Expiry(signed); err != ErrNoExpiry {
		t.Fatalf("empty chain: expected ErrNoExpiry, got %v", err)
	}
}
