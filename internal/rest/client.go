// ABOUTME: REST client for the conversation endpoints of the booking backend.
// ABOUTME: All calls take a context and surface failures as FetchError values.

package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/voltdesk/chatsync/internal/chat"
)

// FetchError describes a failed REST call. It is returned to the caller and
// never retried by the core; retry policy belongs to whoever initiated the
// action.
type FetchError struct {
	Op         string // e.g. "list conversations"
	StatusCode int    // zero when the request never reached the server
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// TokenSource supplies the current bearer token for each request.
type TokenSource func() string

// Client talks to the booking backend's conversation endpoints.
type Client struct {
	baseURL string
	token   TokenSource
	http    *http.Client
}

// NewClient creates a REST client for the given base URL.
// The token source is consulted per request so token refresh is transparent.
func NewClient(baseURL string, token TokenSource, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// StartResult is the server's answer to a start-conversation request.
// IsNew is server-authoritative: the client adopts it even when its local
// guess differed.
type StartResult struct {
	ConversationID string `json:"conversationId"`
	IsNew          bool   `json:"isNew"`
}

// ListConversations fetches the conversation summaries for the session user.
func (c *Client) ListConversations(ctx context.Context) ([]chat.Conversation, error) {
	var out []chat.Conversation
	if err := c.get(ctx, "list conversations", "/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Messages fetches one page of a conversation's history, oldest first.
func (c *Client) Messages(ctx context.Context, conversationID string, page, limit int) ([]chat.Message, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))

	var out []chat.Message
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.get(ctx, "fetch messages", path, q, &out); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Delivery = chat.DeliverySent
	}
	return out, nil
}

// StartConversation asks the server for the conversation tied to a booking,
// creating one if none exists. The server enforces at most one conversation
// per booking.
func (c *Client) StartConversation(ctx context.Context, bookingID, initialMessage string) (StartResult, error) {
	body := map[string]string{"bookingId": bookingID}
	if initialMessage != "" {
		body["initialMessage"] = initialMessage
	}

	var out StartResult
	if err := c.post(ctx, "start conversation", "/conversations/start", body, &out); err != nil {
		return StartResult{}, err
	}
	if out.ConversationID == "" {
		return StartResult{}, &FetchError{Op: "start conversation", Err: fmt.Errorf("server returned empty conversation id")}
	}
	return out, nil
}

// SendMessage posts a new message and returns the created server copy.
func (c *Client) SendMessage(ctx context.Context, conversationID, content string) (chat.Message, error) {
	var out chat.Message
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.post(ctx, "send message", path, map[string]string{"content": content}, &out); err != nil {
		return chat.Message{}, err
	}
	out.Delivery = chat.DeliverySent
	return out, nil
}

// MarkRead acknowledges the conversation as read up to now.
func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	path := "/conversations/" + url.PathEscape(conversationID) + "/read"
	return c.post(ctx, "mark read", path, struct{}{}, nil)
}

// UnreadCount fetches the global unread badge value.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var out int
	if err := c.get(ctx, "fetch unread count", "/unread-count", nil, &out); err != nil {
		return 0, err
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, op, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return &FetchError{Op: op, Err: err}
	}
	return c.do(op, req, out)
}

func (c *Client) post(ctx context.Context, op, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return &FetchError{Op: op, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return &FetchError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(op, req, out)
}

func (c *Client) do(op string, req *http.Request, out any) error {
	if token := c.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &FetchError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Include a snippet of the body for diagnostics; cap it so a
		// misbehaving server cannot balloon the error.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &FetchError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", strings.TrimSpace(string(snippet))),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &FetchError{Op: op, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}
