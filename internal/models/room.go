package models

import (
	"database/sql"
	"time"
)

// Room types.
const (
	RoomTypeTeam   = "team"
	RoomTypeDirect = "direct"
)

// Room is a conversation container. A direct room carries its canonicalized
// member pair (user_lo < user_hi) so the storage layer can enforce at most one
// room per pair; both columns are NULL for the team room.
type Room struct {
	ID        int           `db:"id" json:"id"`
	Type      string        `db:"type" json:"type"`
	UserLo    sql.NullInt64 `db:"user_lo" json:"-"`
	UserHi    sql.NullInt64 `db:"user_hi" json:"-"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
}

// Membership is a user's participation record in a room, carrying the read
// cursor. last_read_at is NULL until the user first marks the room read.
type Membership struct {
	RoomID     int          `db:"room_id" json:"room_id"`
	UserID     int          `db:"user_id" json:"user_id"`
	LastReadAt sql.NullTime `db:"last_read_at" json:"last_read_at"`
	JoinedAt   time.Time    `db:"joined_at" json:"joined_at"`
}

// RoomSummary is the API-facing view of a room for one user.
type RoomSummary struct {
	RoomID      int       `json:"room_id"`
	Type        string    `json:"type"`
	LastMessage *Message  `json:"last_message,omitempty"`
	UnreadCount int       `json:"unread_count"`
	CreatedAt   time.Time `json:"created_at"`
}
