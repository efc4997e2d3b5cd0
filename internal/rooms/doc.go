// Package rooms keeps the set of live-subscribed conversation rooms in
// sync with what the client wants, re-issuing joins after every reconnect
// since server-side membership does not survive a transport reset.
package rooms
