// Package auth inspects session tokens without verifying them.
// Fingerprints decide connection reuse; expiry checks fail fast before a
// doomed dial.
package auth
