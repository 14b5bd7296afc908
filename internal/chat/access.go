package chat

import (
	"context"
	"errors"

	"workchat-service/internal/models"
	"workchat-service/internal/repositories"
)

// AccessResolver decides whether a user may use a room and performs the lazy
// membership bookkeeping that comes with first access.
type AccessResolver struct {
	rooms repositories.RoomRepository
	users repositories.UserRepository
}

// NewAccessResolver constructs an AccessResolver.
func NewAccessResolver(rooms repositories.RoomRepository, users repositories.UserRepository) *AccessResolver {
	return &AccessResolver{rooms: rooms, users: users}
}

// CheckAccess resolves read/write access for (room, user, role).
//
// The team room is open to every authenticated user: first access auto-joins.
// A direct room requires existing membership plus at least one privileged
// participant; a pair of plain employees can never hold a direct conversation,
// even one created before a member was demoted.
func (a *AccessResolver) CheckAccess(ctx context.Context, roomID, userID int, role string) (models.Room, error) {
	room, err := a.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return models.Room{}, err
	}

	switch room.Type {
	case models.RoomTypeTeam:
		if err := a.rooms.EnsureMembership(ctx, room.ID, userID); err != nil {
			return models.Room{}, err
		}
		return room, nil
	case models.RoomTypeDirect:
		member, err := a.rooms.IsMember(ctx, room.ID, userID)
		if err != nil {
			return models.Room{}, err
		}
		if !member {
			return models.Room{}, ErrNotMember
		}
		privileged, err := a.rooms.HasPrivilegedMember(ctx, room.ID)
		if err != nil {
			return models.Room{}, err
		}
		if !privileged {
			return models.Room{}, ErrAccessDenied
		}
		return room, nil
	default:
		return models.Room{}, repositories.ErrRoomNotFound
	}
}

// GetOrCreateTeamRoom finds or creates the singleton team room and ensures the
// user is a member. Safe under concurrent first access.
func (a *AccessResolver) GetOrCreateTeamRoom(ctx context.Context, userID int) (models.Room, error) {
	room, err := a.rooms.GetOrCreateTeamRoom(ctx)
	if err != nil {
		return models.Room{}, err
	}
	if err := a.rooms.EnsureMembership(ctx, room.ID, userID); err != nil {
		return models.Room{}, err
	}
	return room, nil
}

// GetOrCreateDirectRoom returns the direct room for (creator, target),
// creating it on first use. Only managers and super admins may start direct
// conversations, and a manager may only open one with an employee.
func (a *AccessResolver) GetOrCreateDirectRoom(ctx context.Context, creatorID int, creatorRole string, targetID int) (models.Room, error) {
	if !models.IsPrivileged(creatorRole) {
		return models.Room{}, ErrOnlyManagers
	}
	if creatorID == targetID {
		return models.Room{}, ErrSelfRoom
	}

	target, err := a.users.GetUser(ctx, targetID)
	if err != nil {
		return models.Room{}, err
	}
	if !target.IsActive {
		return models.Room{}, ErrTargetInactive
	}
	if creatorRole == models.RoleManager && target.Role != models.RoleEmployee {
		return models.Room{}, ErrTargetIneligible
	}

	room, err := a.rooms.FindDirectRoom(ctx, creatorID, targetID)
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, repositories.ErrRoomNotFound) {
		return models.Room{}, err
	}
	return a.rooms.CreateDirectRoom(ctx, creatorID, targetID)
}
