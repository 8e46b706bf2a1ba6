// Package answer hashes and verifies security-question answers with
// Argon2id.
//
// Answers are normalized before hashing: surrounding space is trimmed,
// inner runs of space collapse to one and letters are lower-cased, so
// "  New  York" and "new york" verify against the same hash.
//
// Hashes use the PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// The package never stores answers and never logs them.
package answer
