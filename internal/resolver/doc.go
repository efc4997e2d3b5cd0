// Package resolver maps booking ids to conversations, creating a
// conversation on first contact. Creation is idempotent under repeated
// clicks and concurrent participants: concurrent callers coalesce onto a
// single in-flight request and the server remains the authority on
// whether the conversation was newly created.
package resolver
