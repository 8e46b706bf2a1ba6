// Package session owns the persisted Credential Record: the access/refresh
// token pair, its expiry descriptor and the time it was issued.
//
// # Storage layout
//
// Five keys under a common prefix: access_token, refresh_token,
// token_expiry (JSON string), token_issued_at (epoch milliseconds) and user
// (JSON). The four record keys are written in a single SetMany; a record
// with any of them missing is treated as absent.
//
// # Rotation
//
// [Manager.SetTokens] is the only write path and always replaces the whole
// pair. [Manager.Refresh] exchanges the stored refresh token for a new pair
// and stores both halves; a failed refresh runs the OnRefreshFailure hook so
// the caller can end the session.
//
// # Renewal timer
//
// A one-shot timer fires RenewalLead before issuedAt + RenewalHorizon. The
// horizon is a fixed seven days unless ScheduleFromExpiry is set, in which
// case the parsed descriptor is used. The timer is never armed for a
// deadline in the past and is cancelled by Stop and Clear.
//
// # What this package must NOT do
//
//   - Import goEnroll (no upward imports).
//   - Log token values.
package session
