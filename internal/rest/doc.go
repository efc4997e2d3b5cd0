// Package rest implements the HTTP client for the booking backend's
// conversation endpoints: listing conversations, paging message history,
// starting a conversation from a booking, sending messages, acknowledging
// reads, and fetching the global unread count.
package rest
