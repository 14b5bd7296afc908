package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"workchat-service/internal/models"
)

type RoomRepositoryMock struct {
	mock.Mock
}

func (m *RoomRepositoryMock) GetRoom(ctx context.Context, roomID int) (models.Room, error) {
	args := m.Called(ctx, roomID)
	var room models.Room
	if val := args.Get(0); val != nil {
		room = val.(models.Room)
	}
	return room, args.Error(1)
}

func (m *RoomRepositoryMock) GetOrCreateTeamRoom(ctx context.Context) (models.Room, error) {
	args := m.Called(ctx)
	var room models.Room
	if val := args.Get(0); val != nil {
		room = val.(models.Room)
	}
	return room, args.Error(1)
}

func (m *RoomRepositoryMock) FindDirectRoom(ctx context.Context, userA, userB int) (models.Room, error) {
	args := m.Called(ctx, userA, userB)
	var room models.Room
	if val := args.Get(0); val != nil {
		room = val.(models.Room)
	}
	return room, args.Error(1)
}

func (m *RoomRepositoryMock) CreateDirectRoom(ctx context.Context, userA, userB int) (models.Room, error) {
	args := m.Called(ctx, userA, userB)
	var room models.Room
	if val := args.Get(0); val != nil {
		room = val.(models.Room)
	}
	return room, args.Error(1)
}

func (m *RoomRepositoryMock) IsMember(ctx context.Context, roomID, userID int) (bool, error) {
	args := m.Called(ctx, roomID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *RoomRepositoryMock) EnsureMembership(ctx context.Context, roomID, userID int) error {
	args := m.Called(ctx, roomID, userID)
	return args.Error(0)
}

func (m *RoomRepositoryMock) Members(ctx context.Context, roomID int) ([]models.Membership, error) {
	args := m.Called(ctx, roomID)
	var members []models.Membership
	if val := args.Get(0); val != nil {
		members = val.([]models.Membership)
	}
	return members, args.Error(1)
}

func (m *RoomRepositoryMock) HasPrivilegedMember(ctx context.Context, roomID int) (bool, error) {
	args := m.Called(ctx, roomID)
	return args.Bool(0), args.Error(1)
}

func (m *RoomRepositoryMock) ListRoomsForUser(ctx context.Context, userID int) ([]models.Room, error) {
	args := m.Called(ctx, userID)
	var rooms []models.Room
	if val := args.Get(0); val != nil {
		rooms = val.([]models.Room)
	}
	return rooms, args.Error(1)
}

func (m *RoomRepositoryMock) SetLastRead(ctx context.Context, roomID, userID int, readAt time.Time) error {
	args := m.Called(ctx, roomID, userID, readAt)
	return args.Error(0)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, roomID, senderID int, body, clientMsgID string) (models.Message, bool, error) {
	args := m.Called(ctx, roomID, senderID, body, clientMsgID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Bool(1), args.Error(2)
}

func (m *MessageRepositoryMock) ListBefore(ctx context.Context, roomID int, before time.Time, limit int) ([]models.Message, error) {
	args := m.Called(ctx, roomID, before, limit)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) ListSince(ctx context.Context, roomIDs []int, since time.Time, excludeSender int) ([]models.Message, error) {
	args := m.Called(ctx, roomIDs, since, excludeSender)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) LastMessage(ctx context.Context, roomID int) (models.Message, error) {
	args := m.Called(ctx, roomID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) UnreadCount(ctx context.Context, roomID, userID int) (int, error) {
	args := m.Called(ctx, roomID, userID)
	return args.Int(0), args.Error(1)
}

type ReceiptRepositoryMock struct {
	mock.Mock
}

func (m *ReceiptRepositoryMock) FanOutSent(ctx context.Context, messageID, roomID int) error {
	args := m.Called(ctx, messageID, roomID)
	return args.Error(0)
}

func (m *ReceiptRepositoryMock) MarkReadUpTo(ctx context.Context, roomID, userID int, upTo time.Time) error {
	args := m.Called(ctx, roomID, userID, upTo)
	return args.Error(0)
}

func (m *ReceiptRepositoryMock) ListForMessage(ctx context.Context, messageID int) ([]models.Receipt, error) {
	args := m.Called(ctx, messageID)
	var receipts []models.Receipt
	if val := args.Get(0); val != nil {
		receipts = val.([]models.Receipt)
	}
	return receipts, args.Error(1)
}

type UserRepositoryMock struct {
	mock.Mock
}

func (m *UserRepositoryMock) GetUser(ctx context.Context, userID int) (models.User, error) {
	args := m.Called(ctx, userID)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *UserRepositoryMock) ListActiveByRole(ctx context.Context, roles []string) ([]models.User, error) {
	args := m.Called(ctx, roles)
	var users []models.User
	if val := args.Get(0); val != nil {
		users = val.([]models.User)
	}
	return users, args.Error(1)
}
