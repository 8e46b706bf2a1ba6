// Package goEnroll is the client-side enrollment and session engine for the
// voting platform.
//
// An [Engine] walks a new user through email and phone verification,
// security questions, the two-phase credential ceremony and profile
// creation, then owns the resulting session: it persists the Credential
// Record, renews it before expiry and answers role queries for the
// signed-in user.
//
// # Concurrency
//
// Engine methods are safe to call from multiple goroutines after
// [Builder.Build]. At most one enrollment operation runs at a time; a
// second one fails fast with [ErrBusy]. [Engine.Logout] and
// [Engine.ResetAuth] are never rejected: they advance a session epoch so
// any operation still in flight finishes without writing into the new
// state.
//
// # Layout
//
// The root package holds the orchestration and the public types. Remote
// services live behind package backend, HTTP plumbing in package
// transport, persistence in packages storage and session, and the role
// table in packages permission and roles. Package ceremony runs the
// biometric and fallback credential registration.
package goEnroll
