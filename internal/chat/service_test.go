package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"workchat-service/internal/mocks"
	"workchat-service/internal/models"
	"workchat-service/internal/repositories"
)

func newTestService(rooms *mocks.RoomRepositoryMock, messages *mocks.MessageRepositoryMock, receipts *mocks.ReceiptRepositoryMock, users *mocks.UserRepositoryMock) *Service {
	return NewService(NewAccessResolver(rooms, users), rooms, messages, receipts, users)
}

func expectTeamAccess(rooms *mocks.RoomRepositoryMock, roomID, userID int) {
	rooms.On("GetRoom", mock.Anything, roomID).Return(models.Room{ID: roomID, Type: models.RoomTypeTeam}, nil).Once()
	rooms.On("EnsureMembership", mock.Anything, roomID, userID).Return(nil).Once()
}

func TestSendCreatesMessageAndFansOut(t *testing.T) {
	rooms := new(mocks.RoomRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)
	receipts := new(mocks.ReceiptRepositoryMock)
	svc := newTestService(rooms, messages, receipts, new(mocks.UserRepositoryMock))

	expectTeamAccess(rooms, 1, 7)
	msg := models.Message{ID: 10, RoomID: 1, SenderID: 7, Body: "hello", ClientMsgID: "t1"}
	messages.On("CreateMessage", mock.Anything, 1, 7, "hello", "t1").Return(msg, true, nil).Once()
	receipts.On("FanOutSent", mock.Anything, 10, 1).Return(nil).Once()
	receipts.On("ListForMessage", mock.Anything, 10).Return([]models.Receipt{
		{MessageID: 10, UserID: 7, Status: models.ReceiptSent},
		{MessageID: 10, UserID: 8, Status: models.ReceiptSent},
	}, nil).Once()

	result, err := svc.Send(context.Background(), 1, 7, models.RoleEmployee, "hello", "t1")
	require.NoError(t, err)
	assert.Equal(t, 10, result.Message.ID)
	assert.False(t, result.Replayed)
	assert.Len(t, result.Receipts, 2)
	receipts.AssertExpectations(t)
}

func TestSendReplaySkipsFanOut(t *testing.T) {
	rooms := new(mocks.RoomRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)
	receipts := new(mocks.ReceiptRepositoryMock)
	svc := newTestService(rooms, messages, receipts, new(mocks.UserRepositoryMock))

	expectTeamAccess(rooms, 1, 7)
	msg := models.Message{ID: 10, RoomID: 1, SenderID: 7, Body: "hello", ClientMsgID: "t1"}
	messages.On("CreateMessage", mock.Anything, 1, 7, "hello", "t1").Return(msg, false, nil).Once()
	receipts.On("ListForMessage", mock.Anything, 10).Return([]models.Receipt(nil), nil).Once()

	result, err := svc.Send(context.Background(), 1, 7, models.RoleEmployee, "hello", "t1")
	require.NoError(t, err)
	assert.Equal(t, 10, result.Message.ID)
	assert.True(t, result.Replayed)
	receipts.AssertNotCalled(t, "FanOutSent", mock.Anything, mock.Anything, mock.Anything)
}

func TestSendEmptyBodyRejected(t *testing.T) {
	rooms := new(mocks.RoomRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)
	svc := newTestService(rooms, messages, new(mocks.ReceiptRepositoryMock), new(mocks.UserRepositoryMock))

	expectTeamAccess(rooms, 1, 7)

	_, err := svc.Send(context.Background(), 1, 7, models.RoleEmployee, "   ", "t1")
	assert.ErrorIs(t, err, ErrEmptyBody)
	messages.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSendDeniedPropagates(t *testing.T) {
	rooms := new(mocks.RoomRepositoryMock)
	svc := newTestService(rooms, new(mocks.MessageRepositoryMock), new(mocks.ReceiptRepositoryMock), new(mocks.UserRepositoryMock))

	rooms.On("GetRoom", mock.Anything, 2).Return(models.Room{ID: 2, Type: models.RoomTypeDirect}, nil).Once()
	rooms.On("IsMember", mock.Anything, 2, 7).Return(false, nil).Once()

	_, err := svc.Send(context.Background(), 2, 7, models.RoleEmployee, "hi", "t1")
	assert.ErrorIs(t, err, ErrNotMember)
}

func TestSendFanOutFailureStillSucceeds(t *testing.T) {
	rooms := new(mocks.RoomRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)
	receipts := new(mocks.ReceiptRepositoryMock)
	svc := newTestService(rooms, messages, receipts, new(mocks.UserRepositoryMock))

	expectTeamAccess(rooms, 1, 7)
	msg := models.Message{ID: 10, RoomID: 1, SenderID: 7, Body: "hello", ClientMsgID: "t1"}
	messages.On("CreateMessage", mock.Anything, 1, 7, "hello", "t1").Return(msg, true, nil).Once()
	receipts.On("FanOutSent", mock.Anything, 10, 1).Return(assert.AnError).Once()
	receipts.On("ListForMessage", mock.Anything, 10).Return([]models.Receipt(nil), nil).Once()

	// The message is already durable; a failed fan-out must not fail the send.
	result, err := svc.Send(context.Background(), 1, 7, models.RoleEmployee, "hello", "t1")
	require.NoError(t, err)
	assert.Equal(t, 10, result.Message.ID)
}

func TestMarkReadAdvancesCursorAndReceipts(t *testing.T) {
	rooms := new(mocks.RoomRepositoryMock)
	receipts := new(mocks.ReceiptRepositoryMock)
	svc := newTestService(rooms, new(mocks.MessageRepositoryMock), receipts, new(mocks.UserRepositoryMock))

	expectTeamAccess(rooms, 1, 7)
	rooms.On("SetLastRead", mock.Anything, 1, 7, mock.AnythingOfType("time.Time")).Return(nil).Once()
	receipts.On("MarkReadUpTo", mock.Anything, 1, 7, mock.AnythingOfType("time.Time")).Return(nil).Once()

	require.NoError(t, svc.MarkRead(context.Background(), 1, 7, models.RoleEmployee))
	rooms.AssertExpectations(t)
	receipts.AssertExpectations(t)
}

func TestMarkReadReceiptFailureIsSwallowed(t *testing.T) {
	rooms := new(mocks.RoomRepositoryMock)
	receipts := new(mocks.ReceiptRepositoryMock)
	svc := newTestService(rooms, new(mocks.MessageRepositoryMock), receipts, new(mocks.UserRepositoryMock))

	expectTeamAccess(rooms, 1, 7)
	rooms.On("SetLastRead", mock.Anything, 1, 7, mock.AnythingOfType("time.Time")).Return(nil).Once()
	receipts.On("MarkReadUpTo", mock.Anything, 1, 7, mock.AnythingOfType("time.Time")).Return(assert.AnError).Once()

	require.NoError(t, svc.MarkRead(context.Background(), 1, 7, models.RoleEmployee))
}

func TestListMessagesClampsLimit(t *testing.T) {
	rooms := new(mocks.RoomRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)
	svc := newTestService(rooms, messages, new(mocks.ReceiptRepositoryMock), new(mocks.UserRepositoryMock))

	expectTeamAccess(rooms, 1, 7)
	expectTeamAccess(rooms, 1, 7)

	messages.On("ListBefore", mock.Anything, 1, mock.AnythingOfType("time.Time"), maxPageSize).Return([]models.Message(nil), nil).Once()
	_, err := svc.ListMessages(context.Background(), 1, 7, models.RoleEmployee, time.Time{}, 500)
	require.NoError(t, err)

	messages.On("ListBefore", mock.Anything, 1, mock.AnythingOfType("time.Time"), defaultPageSize).Return([]models.Message(nil), nil).Once()
	_, err = svc.ListMessages(context.Background(), 1, 7, models.RoleEmployee, time.Time{}, 0)
	require.NoError(t, err)

	messages.AssertExpectations(t)
}

func TestListRoomsBuildsSummaries(t *testing.T) {
	rooms := new(mocks.RoomRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)
	svc := newTestService(rooms, messages, new(mocks.ReceiptRepositoryMock), new(mocks.UserRepositoryMock))

	rooms.On("GetOrCreateTeamRoom", mock.Anything).Return(models.Room{ID: 1, Type: models.RoomTypeTeam}, nil).Once()
	rooms.On("EnsureMembership", mock.Anything, 1, 7).Return(nil).Once()
	rooms.On("ListRoomsForUser", mock.Anything, 7).Return([]models.Room{
		{ID: 1, Type: models.RoomTypeTeam},
		{ID: 2, Type: models.RoomTypeDirect},
	}, nil).Once()

	last := models.Message{ID: 4, RoomID: 1, SenderID: 8, Body: "latest"}
	messages.On("LastMessage", mock.Anything, 1).Return(last, nil).Once()
	messages.On("UnreadCount", mock.Anything, 1, 7).Return(3, nil).Once()
	messages.On("LastMessage", mock.Anything, 2).Return(models.Message{}, repositories.ErrMessageNotFound).Once()
	messages.On("UnreadCount", mock.Anything, 2, 7).Return(0, nil).Once()

	summaries, err := svc.ListRooms(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, 3, summaries[0].UnreadCount)
	require.NotNil(t, summaries[0].LastMessage)
	assert.Equal(t, "latest", summaries[0].LastMessage.Body)
	assert.Nil(t, summaries[1].LastMessage)
}

func TestListDirectTargets(t *testing.T) {
	users := new(mocks.UserRepositoryMock)
	svc := newTestService(new(mocks.RoomRepositoryMock), new(mocks.MessageRepositoryMock), new(mocks.ReceiptRepositoryMock), users)

	_, err := svc.ListDirectTargets(context.Background(), 7, models.RoleEmployee)
	assert.ErrorIs(t, err, ErrOnlyManagers)

	users.On("ListActiveByRole", mock.Anything, []string{models.RoleEmployee}).Return([]models.User{
		{ID: 7, Role: models.RoleEmployee},
		{ID: 8, Role: models.RoleEmployee},
	}, nil).Once()

	targets, err := svc.ListDirectTargets(context.Background(), 7, models.RoleManager)
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, 8, targets[0].ID)
}
