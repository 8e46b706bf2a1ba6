// Package permission holds the static role → permission table and the
// bitmask registry that backs it.
//
// # Role table
//
// Role strings are matched case-insensitively after trimming. Each known
// role maps to a fixed list of permissions; "user", empty and unrecognised
// roles map to the empty set. A [Set] can never contain a permission that
// the table does not list for its role.
//
// # Architecture boundaries
//
// This package is a pure in-memory data structure with no I/O.
//
// # What this package must NOT do
//
//   - Access storage or the network.
//   - Import goEnroll, roles, or transport.
//   - Change the table after package initialisation.
package permission
