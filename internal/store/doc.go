// Package store holds the canonical client-side state: the conversation
// list, per-conversation message timelines, and the active-conversation
// pointer. It is the single writer for shared entity state; every other
// component holds only ids and requests mutations through its API.
package store
