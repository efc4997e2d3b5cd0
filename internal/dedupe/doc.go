// Package dedupe provides a TTL-based seen-key cache used to drop
// duplicate live frames delivered across a reconnect.
package dedupe
