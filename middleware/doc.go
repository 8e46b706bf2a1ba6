// Package middleware provides fiber handlers that authenticate requests
// with goEnroll access tokens.
//
// [Guard] reads the Authorization header, verifies the bearer token with a
// [jwt.Manager] and stores the claims in the request locals, where
// [ClaimsFrom] finds them. [RequireSubject] additionally pins a route
// parameter to the token subject unless the caller's role is listed as
// trusted. [RequireRole] gates a route on the role claim.
//
// The handlers never issue tokens and never touch storage.
package middleware
