// Package guardian implements a mobile-authenticator core for Steam-style
// accounts: time-based login code generation, encrypted at-rest storage of
// account secrets, the RSA-encrypted login handshake with token refresh, and
// polling plus signing of pending trade and market confirmations.
//
// The root package exposes the Engine, which aggregates the subsystems:
//
//   - timesync: adjusted clock reconciled against the platform time endpoint
//   - vault: passphrase-based encryption of account records
//   - rpc: binary request/response calls against named platform services
//   - session: the login/refresh state machine
//   - confirm: listing and acting on pending confirmations
//   - manifest: lifecycle of encrypted account records
//
// All engine operations for a single account are serialized through a
// per-account lock; distinct accounts may be processed concurrently.
package guardian
