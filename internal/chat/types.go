// ABOUTME: Core entity types for the conversation sync core.
// ABOUTME: Conversations, messages, participants, and the canonical message ordering rule.

package chat

import (
	"errors"
	"time"
)

// Entity errors shared across the sync core.
var (
	ErrNotFound        = errors.New("not found")
	ErrEmptyMessageID  = errors.New("message id is empty")
	ErrEmptyBody       = errors.New("message body is empty")
	ErrUnknownDelivery = errors.New("unknown delivery state")
)

// Role identifies a participant's relationship to the service workflow.
type Role string

const (
	RoleCustomer   Role = "customer"
	RoleStaff      Role = "staff"
	RoleTechnician Role = "technician"
)

// DeliveryState tracks a message through the local send pipeline.
// Messages received from the server are always Sent.
type DeliveryState string

const (
	DeliveryPending DeliveryState = "pending"
	DeliverySent    DeliveryState = "sent"
	DeliveryFailed  DeliveryState = "failed"
)

// Participant is a reference to a user taking part in a conversation.
// Identity is looked up, never owned, by the conversation.
type Participant struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Role        Role   `json:"role"`
}

// Message is a single chat message. Once a message id has been accepted
// into a timeline it is immutable.
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversationId"`
	Sender         Participant   `json:"sender"`
	Body           string        `json:"body"`
	SentAt         time.Time     `json:"sentAt"`
	Delivery       DeliveryState `json:"delivery,omitempty"`
}

// Validate checks the fields the merge path depends on.
func (m *Message) Validate() error {
	if m.ID == "" {
		return ErrEmptyMessageID
	}
	if m.Body == "" {
		return ErrEmptyBody
	}
	switch m.Delivery {
	case "", DeliveryPending, DeliverySent, DeliveryFailed:
		return nil
	default:
		return ErrUnknownDelivery
	}
}

// Before reports whether m precedes other in timeline order.
// Order is (sentAt, id): two messages can share a timestamp at
// second-level resolution, so the id breaks the tie deterministically.
func (m *Message) Before(other *Message) bool {
	if !m.SentAt.Equal(other.SentAt) {
		return m.SentAt.Before(other.SentAt)
	}
	return m.ID < other.ID
}

// Conversation is a chat thread tied to a booking. Conversations are
// created server-side on first contact and never deleted client-side,
// only evicted from the cache on logout.
type Conversation struct {
	ID           string        `json:"id"`
	BookingID    string        `json:"bookingId"`
	Participants []Participant `json:"participants"`
	LastActivity time.Time     `json:"lastActivity"`
	LastMessage  *Message      `json:"lastMessage,omitempty"`
	Unread       int           `json:"unreadCount"`
	LastReadAt   time.Time     `json:"lastReadAt"`
}

// HasParticipant reports whether the given user is a member.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}
