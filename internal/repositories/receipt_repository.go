package repositories

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"workchat-service/internal/models"
)

// ReceiptRepository defines interactions for per-recipient receipts.
type ReceiptRepository interface {
	FanOutSent(ctx context.Context, messageID, roomID int) error
	MarkReadUpTo(ctx context.Context, roomID, userID int, upTo time.Time) error
	ListForMessage(ctx context.Context, messageID int) ([]models.Receipt, error)
}

// ReceiptRepo is a sqlx-backed repository.
type ReceiptRepo struct {
	db *sqlx.DB
}

// NewReceiptRepo constructs ReceiptRepo.
func NewReceiptRepo(db *sqlx.DB) *ReceiptRepo {
	return &ReceiptRepo{db: db}
}

// FanOutSent creates a 'sent' receipt for every current room member, the
// sender included. The upsert keeps a concurrent duplicate fan-out harmless
// and never downgrades an existing 'read' receipt.
func (r *ReceiptRepo) FanOutSent(ctx context.Context, messageID, roomID int) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO message_receipts (message_id, user_id, status)
         SELECT $1, user_id, $3 FROM room_members WHERE room_id=$2
         ON CONFLICT (message_id, user_id) DO NOTHING`,
		messageID, roomID, models.ReceiptSent)
	return err
}

// MarkReadUpTo upgrades the user's receipts to 'read' for every message in
// the room created at or before the cutoff. Never transitions read back to
// sent.
func (r *ReceiptRepo) MarkReadUpTo(ctx context.Context, roomID, userID int, upTo time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE message_receipts mr SET status=$4, updated_at=NOW()
         FROM messages m
         WHERE mr.message_id = m.id
           AND m.room_id=$1 AND mr.user_id=$2 AND mr.status=$3
           AND m.created_at <= $5`,
		roomID, userID, models.ReceiptSent, models.ReceiptRead, upTo)
	return err
}

// ListForMessage returns all receipts of a message.
func (r *ReceiptRepo) ListForMessage(ctx context.Context, messageID int) ([]models.Receipt, error) {
	var receipts []models.Receipt
	err := r.db.SelectContext(ctx, &receipts,
		`SELECT message_id, user_id, status, updated_at FROM message_receipts WHERE message_id=$1`,
		messageID)
	return receipts, err
}
