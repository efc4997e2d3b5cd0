// Package unread tracks per-conversation and global unread message counts
// against last-read markers, updated incrementally per incoming message.
package unread
