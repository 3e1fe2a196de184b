// Package token provides the agent's token-handling primitives.
//
// It covers three concerns:
// - Fingerprints: stable, non-reversible short IDs for logging access tokens.
// - Expiry decoding: reading the "exp" claim of PASETO v4.public or JWT access
//   tokens when the backend omits expires_in.
// - Sealing: XChaCha20-Poly1305 encryption of persisted auth snapshots.
//
// Environment:
// - TICKETLINE_STATE_KEY: when set, persisted snapshots are sealed.
// - TICKETLINE_PASETO_V4_PUBLIC_KEY_HEX: when set, PASETO access tokens are
//   verified before their expiry is trusted.
package token
