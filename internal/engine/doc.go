// ABOUTME: Package engine is the top-level conversation sync orchestrator.
// ABOUTME: It owns the socket event loop, periodic refresh, and user actions.

// Package engine assembles the sync core: socket events and REST history
// both flow through the reconciler into the store, unread counts track the
// merged result, and room subscriptions follow the active conversation.
//
// The engine degrades gracefully: when the live connection is down it runs
// REST-only, and the periodic refresh repairs anything a dropped push left
// behind. Close is deterministic; after it returns no goroutine or timer
// owned by the engine fires again.
package engine
