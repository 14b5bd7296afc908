package models

import "time"

// Receipt statuses. A receipt only ever moves sent -> read.
const (
	ReceiptSent = "sent"
	ReceiptRead = "read"
)

// Message is an immutable chat message. ClientMsgID is the client-supplied
// idempotency token, unique per room; retrying a send with the same token
// returns this row instead of creating a duplicate.
type Message struct {
	ID          int       `db:"id" json:"id"`
	RoomID      int       `db:"room_id" json:"room_id"`
	SenderID    int       `db:"sender_id" json:"sender_id"`
	Body        string    `db:"body" json:"body"`
	ClientMsgID string    `db:"client_msg_id" json:"client_msg_id"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Receipt is the per-recipient delivery/read status for one message.
type Receipt struct {
	MessageID int       `db:"message_id" json:"message_id"`
	UserID    int       `db:"user_id" json:"user_id"`
	Status    string    `db:"status" json:"status"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
