// Package chat defines the entity types shared across the conversation
// sync core: conversations, messages, participants, and the canonical
// (sentAt, id) message ordering rule that every merge path relies on.
package chat
