// Package socket owns the lifecycle of the single persistent websocket a
// session holds against the booking backend. It exposes the connection
// state, an event stream of connects, disconnects, and decoded pushes, and
// degrades to nothing worse than a returned error when the transport is
// unavailable.
package socket
