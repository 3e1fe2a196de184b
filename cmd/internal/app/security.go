package app

import (
	"errors"
	"fmt"
	"log/slog"

	"ticketline/cmd/security/token"
)

// NewSealerFromEnv builds the at-rest sealer from TICKETLINE_STATE_KEY.
//
// Without a key the sealer is nil and state is stored in the clear, unless
// cfg.RequireStateKey is set, in which case startup fails. A key that is set
// but too short always fails: silently falling back to plaintext is not allowed.
func NewSealerFromEnv(cfg Config, log *slog.Logger) (*token.Sealer, error) {
	secret, err := token.StateKeyFromEnv(token.MinStateKeyBytes)
	switch {
	case errors.Is(err, token.ErrKeyMissing):
		if cfg.RequireStateKey {
			return nil, fmt.Errorf("security policy: TICKETLINE_REQUIRE_STATE_KEY=true but %s is missing", token.StateKeyEnv)
		}
		log.Warn("security.state_key.missing", "sealed", false)
		return nil, nil
	case errors.Is(err, token.ErrKeyTooShort):
		return nil, fmt.Errorf("security policy: %s is too short (min %d bytes)", token.StateKeyEnv, token.MinStateKeyBytes)
	case err != nil:
		return nil, err
	}

	s, err := token.NewSealer(secret)
	if err != nil {
		return nil, err
	}
	log.Info("security.state_key.ok", "sealed", true)
	return s, nil
}

// NewExpiryDecoder returns the access-token expiry decoder: a verified PASETO
// v4.public decoder when a public key is configured, then unverified JWT.
func NewExpiryDecoder(cfg Config) (token.ExpiryDecoder, error) {
	chain := token.ChainExpiry{}
	if cfg.PasetoPublicKeyHex != "" {
		p, err := token.NewPasetoExpiry(cfg.PasetoPublicKeyHex)
		if err != nil {
			return nil, fmt.Errorf("%w: paseto public key: %v", ErrConfig, err)
		}
		chain = append(chain, p)
	}
	chain = append(chain, token.JWTExpiry{})
	return chain, nil
}
