package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"workchat-service/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository defines interactions for messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, roomID, senderID int, body, clientMsgID string) (models.Message, bool, error)
	ListBefore(ctx context.Context, roomID int, before time.Time, limit int) ([]models.Message, error)
	ListSince(ctx context.Context, roomIDs []int, since time.Time, excludeSender int) ([]models.Message, error)
	LastMessage(ctx context.Context, roomID int) (models.Message, error)
	UnreadCount(ctx context.Context, roomID, userID int) (int, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, room_id, sender_id, body, client_msg_id, created_at`

// CreateMessage inserts a message, deduplicated by (room_id, client_msg_id).
// The returned bool is true when a new row was created; on a replay the
// original row is returned unchanged.
func (r *MessageRepo) CreateMessage(ctx context.Context, roomID, senderID int, body, clientMsgID string) (models.Message, bool, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO messages (room_id, sender_id, body, client_msg_id) VALUES ($1, $2, $3, $4)
         ON CONFLICT (room_id, client_msg_id) DO NOTHING
         RETURNING `+messageColumns,
		roomID, senderID, body, clientMsgID).StructScan(&msg)
	if err == nil {
		return msg, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, false, err
	}

	// Idempotent replay: the token already won a previous insert.
	err = r.db.GetContext(ctx, &msg,
		`SELECT `+messageColumns+` FROM messages WHERE room_id=$1 AND client_msg_id=$2`,
		roomID, clientMsgID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, false, ErrMessageNotFound
	}
	return msg, false, err
}

// ListBefore returns up to limit messages older than the cursor, in ascending
// creation-time order.
func (r *MessageRepo) ListBefore(ctx context.Context, roomID int, before time.Time, limit int) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs,
		`SELECT `+messageColumns+` FROM (
            SELECT `+messageColumns+` FROM messages
            WHERE room_id=$1 AND created_at < $2
            ORDER BY created_at DESC
            LIMIT $3
         ) page ORDER BY created_at ASC`,
		roomID, before, limit)
	return msgs, err
}

// ListSince returns messages created after the watermark across the given
// rooms, excluding the given sender, in ascending creation-time order.
func (r *MessageRepo) ListSince(ctx context.Context, roomIDs []int, since time.Time, excludeSender int) ([]models.Message, error) {
	if len(roomIDs) == 0 {
		return nil, nil
	}
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs,
		`SELECT `+messageColumns+` FROM messages
         WHERE room_id = ANY($1) AND created_at > $2 AND sender_id <> $3
         ORDER BY created_at ASC`,
		pq.Array(roomIDs), since, excludeSender)
	return msgs, err
}

// LastMessage returns the newest message of a room.
func (r *MessageRepo) LastMessage(ctx context.Context, roomID int) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg,
		`SELECT `+messageColumns+` FROM messages WHERE room_id=$1 ORDER BY created_at DESC LIMIT 1`,
		roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// UnreadCount is the canonical unread definition: messages newer than the
// user's read cursor, not authored by the user. A user without a membership
// row counts the full history.
func (r *MessageRepo) UnreadCount(ctx context.Context, roomID, userID int) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM messages m
         LEFT JOIN room_members rm ON rm.room_id = m.room_id AND rm.user_id = $2
         WHERE m.room_id=$1 AND m.sender_id <> $2
           AND m.created_at > COALESCE(rm.last_read_at, to_timestamp(0))`,
		roomID, userID)
	return count, err
}
