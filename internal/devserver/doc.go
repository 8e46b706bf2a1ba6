// Package devserver is an in-memory stand-in for the identity, biometric
// and user-management services, served by one fiber app.
//
// Routes live under /identity, /biometric and /management, matching the
// default goEnroll endpoint configuration. Verification codes are logged
// instead of delivered. Refresh tokens rotate on every use and a replayed
// token revokes its whole family. Security answers are Argon2id hashed and
// fallback keys are ed25519 pairs whose private half never leaves the
// server. Fixed-window rate limits run on Redis; without an address an
// embedded miniredis is started.
//
// Nothing is persisted. The server is meant for local development and for
// end-to-end tests of the engine.
package devserver
