// Package rate implements Redis fixed-window counters for the dev server.
//
// Each hit runs INCR and sets the window TTL on the first hit. Keys are
// namespaced by rule:
//   - otp:  code sends per destination
//   - vfy:  code checks per destination
//   - rf:   refresh calls per token family
//
// A Redis outage fails open only when the caller asks for it.
package rate
