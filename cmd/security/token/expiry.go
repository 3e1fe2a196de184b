package token

import (
	"errors"
	"time"

	paseto "aidanwoods.dev/go-paseto"
	"github.com/golang-jwt/jwt/v5"
)

// ExpiryDecoder reads the absolute expiry out of an access token.
type ExpiryDecoder interface {
	Expiry(tok string) (time.Time, error)
}

// JWTExpiry reads "exp" from a JWT without verifying its signature.
// The agent never authorizes anything from these claims; it only schedules renewal.
type JWTExpiry struct{}

func (JWTExpiry) Expiry(tok string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		return time.Time{}, err
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, err
	}
	if exp == nil {
		return time.Time{}, ErrNoExpiry
	}
	return exp.Time, nil
}

// PasetoExpiry verifies a PASETO v4.public token and reads its "exp".
type PasetoExpiry struct {
	public paseto.V4AsymmetricPublicKey
}

// NewPasetoExpiry builds a decoder from a hex-encoded Ed25519 public key.
func NewPasetoExpiry(publicKeyHex string) (*PasetoExpiry, error) {
	pk, err := paseto.NewV4AsymmetricPublicKeyFromHex(publicKeyHex)
	if err != nil {
		return nil, err
	}
	return &PasetoExpiry{public: pk}, nil
}

func (p *PasetoExpiry) Expiry(tok string) (time.Time, error) {
	// Expired tokens still decode: the caller decides what a past expiry means.
	parser := paseto.NewParserWithoutExpiryCheck()
	parsed, err := parser.ParseV4Public(p.public, tok, nil)
	if err != nil {
		return time.Time{}, err
	}

	exp, err := parsed.GetExpiration()
	if err != nil {
		return time.Time{}, ErrNoExpiry
	}
	return exp, nil
}

// ChainExpiry tries each decoder in order and returns the first success.
type ChainExpiry []ExpiryDecoder

func (c ChainExpiry) Expiry(tok string) (time.Time, error) {
	errs := make([]error, 0, len(c))
	for _, d := range c {
		if d == nil {
			continue
		}
		exp, err := d.Expiry(tok)
		if err == nil {
			return exp, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return time.Time{}, ErrNoExpiry
	}
	return time.Time{}, errors.Join(errs...)
}

// Lifetime returns how long tok remains valid at now.
// ok is false when the expiry cannot be decoded or already passed.
func Lifetime(dec ExpiryDecoder, tok string, now time.Time) (time.Duration, bool) {
	if dec == nil || tok == "" {
		return 0, false
	}
	exp, err := dec.Expiry(tok)
	if err != nil {
		return 0, false
	}
	d := exp.Sub(now)
	if d <= 0 {
		return 0, false
	}
	return d, true
}
