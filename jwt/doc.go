// Package jwt issues and inspects the access tokens exchanged during
// enrollment.
//
// The client side never holds a verification key, so [Peek] reads claims
// without checking the signature; use it for display and scheduling only,
// never for authorization. [Manager] signs and verifies tokens and is used
// by the development backend.
package jwt
