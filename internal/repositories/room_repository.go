package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"workchat-service/internal/models"
)

var ErrRoomNotFound = errors.New("room not found")

// RoomRepository abstracts room and membership persistence.
type RoomRepository interface {
	GetRoom(ctx context.Context, roomID int) (models.Room, error)
	GetOrCreateTeamRoom(ctx context.Context) (models.Room, error)
	FindDirectRoom(ctx context.Context, userA, userB int) (models.Room, error)
	CreateDirectRoom(ctx context.Context, userA, userB int) (models.Room, error)
	IsMember(ctx context.Context, roomID, userID int) (bool, error)
	EnsureMembership(ctx context.Context, roomID, userID int) error
	Members(ctx context.Context, roomID int) ([]models.Membership, error)
	HasPrivilegedMember(ctx context.Context, roomID int) (bool, error)
	ListRoomsForUser(ctx context.Context, userID int) ([]models.Room, error)
	SetLastRead(ctx context.Context, roomID, userID int, readAt time.Time) error
}

// RoomRepo is a sqlx implementation of RoomRepository.
type RoomRepo struct {
	db *sqlx.DB
}

// NewRoomRepo constructs a RoomRepo.
func NewRoomRepo(db *sqlx.DB) *RoomRepo {
	return &RoomRepo{db: db}
}

const roomColumns = `id, type, user_lo, user_hi, created_at`

// GetRoom fetches a room by id.
func (r *RoomRepo) GetRoom(ctx context.Context, roomID int) (models.Room, error) {
	var room models.Room
	err := r.db.GetContext(ctx, &room, `SELECT `+roomColumns+` FROM rooms WHERE id=$1`, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Room{}, ErrRoomNotFound
	}
	return room, err
}

// GetOrCreateTeamRoom returns the singleton team room, creating it on first
// access. The partial unique index on rooms(type) serializes concurrent
// creation: the loser's insert returns no row and the winner's row is re-read.
func (r *RoomRepo) GetOrCreateTeamRoom(ctx context.Context) (models.Room, error) {
	var room models.Room
	err := r.db.GetContext(ctx, &room, `SELECT `+roomColumns+` FROM rooms WHERE type=$1`, models.RoomTypeTeam)
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Room{}, err
	}

	err = r.db.QueryRowxContext(ctx,
		`INSERT INTO rooms (type) VALUES ($1)
         ON CONFLICT (type) WHERE type = 'team' DO NOTHING
         RETURNING `+roomColumns, models.RoomTypeTeam).StructScan(&room)
	if errors.Is(err, sql.ErrNoRows) {
		err = r.db.GetContext(ctx, &room, `SELECT `+roomColumns+` FROM rooms WHERE type=$1`, models.RoomTypeTeam)
	}
	return room, err
}

// FindDirectRoom looks up the direct room for an unordered user pair.
func (r *RoomRepo) FindDirectRoom(ctx context.Context, userA, userB int) (models.Room, error) {
	lo, hi := orderPair(userA, userB)
	var room models.Room
	err := r.db.GetContext(ctx, &room,
		`SELECT `+roomColumns+` FROM rooms WHERE type=$1 AND user_lo=$2 AND user_hi=$3`,
		models.RoomTypeDirect, lo, hi)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Room{}, ErrRoomNotFound
	}
	return room, err
}

// CreateDirectRoom creates a direct room plus both membership rows in one
// transaction, so a half-constructed room is never visible. The unique index
// on (user_lo, user_hi) makes concurrent creation collapse onto one row.
func (r *RoomRepo) CreateDirectRoom(ctx context.Context, userA, userB int) (models.Room, error) {
	lo, hi := orderPair(userA, userB)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Room{}, err
	}
	defer tx.Rollback()

	var room models.Room
	err = tx.QueryRowxContext(ctx,
		`INSERT INTO rooms (type, user_lo, user_hi) VALUES ($1, $2, $3)
         ON CONFLICT (user_lo, user_hi) DO NOTHING
         RETURNING `+roomColumns,
		models.RoomTypeDirect, lo, hi).StructScan(&room)
	if errors.Is(err, sql.ErrNoRows) {
		// Lost the creation race; the winner's transaction already holds the
		// row and its memberships.
		return r.FindDirectRoom(ctx, userA, userB)
	}
	if err != nil {
		return models.Room{}, err
	}

	for _, userID := range []int{lo, hi} {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO room_members (room_id, user_id) VALUES ($1, $2)
             ON CONFLICT (room_id, user_id) DO NOTHING`, room.ID, userID); err != nil {
			return models.Room{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return models.Room{}, err
	}
	return room, nil
}

// IsMember checks whether a user belongs to the room.
func (r *RoomRepo) IsMember(ctx context.Context, roomID, userID int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM room_members WHERE room_id=$1 AND user_id=$2)`, roomID, userID)
	return exists, err
}

// EnsureMembership inserts a membership row if one does not exist.
func (r *RoomRepo) EnsureMembership(ctx context.Context, roomID, userID int) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO room_members (room_id, user_id) VALUES ($1, $2)
         ON CONFLICT (room_id, user_id) DO NOTHING`, roomID, userID)
	return err
}

// Members returns all membership rows of a room.
func (r *RoomRepo) Members(ctx context.Context, roomID int) ([]models.Membership, error) {
	var members []models.Membership
	err := r.db.SelectContext(ctx, &members,
		`SELECT room_id, user_id, last_read_at, joined_at FROM room_members WHERE room_id=$1`, roomID)
	return members, err
}

// HasPrivilegedMember reports whether any member holds a manager or
// super_admin role. Direct rooms require at least one such participant.
func (r *RoomRepo) HasPrivilegedMember(ctx context.Context, roomID int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(
            SELECT 1 FROM room_members rm
            JOIN users u ON u.id = rm.user_id
            WHERE rm.room_id=$1 AND u.role IN ($2, $3))`,
		roomID, models.RoleManager, models.RoleSuperAdmin)
	return exists, err
}

// ListRoomsForUser returns the rooms the user is a member of, newest first.
func (r *RoomRepo) ListRoomsForUser(ctx context.Context, userID int) ([]models.Room, error) {
	var rooms []models.Room
	err := r.db.SelectContext(ctx, &rooms,
		`SELECT r.id, r.type, r.user_lo, r.user_hi, r.created_at FROM rooms r
         JOIN room_members rm ON rm.room_id = r.id
         WHERE rm.user_id=$1
         ORDER BY r.created_at DESC`, userID)
	return rooms, err
}

// SetLastRead advances the user's read cursor for a room.
func (r *RoomRepo) SetLastRead(ctx context.Context, roomID, userID int, readAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE room_members SET last_read_at=$3 WHERE room_id=$1 AND user_id=$2`,
		roomID, userID, readAt)
	return err
}

func orderPair(a, b int) (int, int) {
	if a > b {
		return b, a
	}
	return a, b
}
