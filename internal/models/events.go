package models

// Feed event types emitted over live feed connections.
const (
	EventConnected    = "connected"
	EventNewMessage   = "new_message"
	EventUnreadUpdate = "unread_update"
	EventPresence     = "presence"
)

// FeedEvent is the envelope written to a live feed connection.
type FeedEvent struct {
	Type    string   `json:"type"`
	Message *Message `json:"message,omitempty"`
	Unread  *int     `json:"unread,omitempty"`
	UserID  int      `json:"user_id,omitempty"`
	Online  *bool    `json:"online,omitempty"`
}

// NewMessageEvent wraps a message for delivery.
func NewMessageEvent(msg Message) FeedEvent {
	return FeedEvent{Type: EventNewMessage, Message: &msg}
}

// UnreadUpdateEvent carries a changed unread total.
func UnreadUpdateEvent(total int) FeedEvent {
	return FeedEvent{Type: EventUnreadUpdate, Unread: &total}
}

// PresenceEvent signals a user going online or offline.
func PresenceEvent(userID int, online bool) FeedEvent {
	return FeedEvent{Type: EventPresence, UserID: userID, Online: &online}
}
