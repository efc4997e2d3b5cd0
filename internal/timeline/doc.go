// Package timeline reconciles paginated REST history and live socket
// pushes into one ordered, id-deduplicated timeline per conversation,
// buffering pushes for conversations the client has not resolved yet.
package timeline
