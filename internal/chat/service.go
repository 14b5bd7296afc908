package chat

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"workchat-service/internal/models"
	"workchat-service/internal/observability"
	"workchat-service/internal/repositories"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// SendResult is a persisted message joined with its receipts.
type SendResult struct {
	Message  models.Message   `json:"message"`
	Receipts []models.Receipt `json:"receipts"`
	Replayed bool             `json:"replayed"`
}

// Service implements the chat operations on top of the repositories.
type Service struct {
	access   *AccessResolver
	rooms    repositories.RoomRepository
	messages repositories.MessageRepository
	receipts repositories.ReceiptRepository
	users    repositories.UserRepository
	tracer   trace.Tracer
}

// NewService constructs a Service.
func NewService(access *AccessResolver, rooms repositories.RoomRepository, messages repositories.MessageRepository, receipts repositories.ReceiptRepository, users repositories.UserRepository) *Service {
	return &Service{
		access:   access,
		rooms:    rooms,
		messages: messages,
		receipts: receipts,
		users:    users,
		tracer:   otel.Tracer("workchat-service/chat"),
	}
}

// Access exposes the resolver for callers that only need access checks.
func (s *Service) Access() *AccessResolver {
	return s.access
}

// Send stores a message idempotently and fans out 'sent' receipts.
//
// A replayed client_msg_id returns the original message with no new rows. A
// fan-out failure after the insert is logged and swallowed: the message is
// already durable, a missing receipt only degrades one recipient's unread
// accuracy.
func (s *Service) Send(ctx context.Context, roomID, senderID int, role, body, clientMsgID string) (SendResult, error) {
	ctx, span := s.tracer.Start(ctx, "chat.send")
	defer span.End()
	span.SetAttributes(attribute.Int("room.id", roomID), attribute.Int("sender.id", senderID))

	if _, err := s.access.CheckAccess(ctx, roomID, senderID, role); err != nil {
		return SendResult{}, err
	}
	if strings.TrimSpace(body) == "" {
		return SendResult{}, ErrEmptyBody
	}

	msg, created, err := s.messages.CreateMessage(ctx, roomID, senderID, body, clientMsgID)
	if err != nil {
		return SendResult{}, err
	}

	if created {
		if err := s.receipts.FanOutSent(ctx, msg.ID, roomID); err != nil {
			log.Printf("receipt fan-out failed for message %d: %v", msg.ID, err)
			observability.IncReceiptFanOutError()
		}
	}

	receipts, err := s.receipts.ListForMessage(ctx, msg.ID)
	if err != nil {
		log.Printf("loading receipts for message %d failed: %v", msg.ID, err)
		receipts = nil
	}
	return SendResult{Message: msg, Receipts: receipts, Replayed: !created}, nil
}

// MarkRead advances the user's read cursor and upgrades covered receipts.
func (s *Service) MarkRead(ctx context.Context, roomID, userID int, role string) error {
	if _, err := s.access.CheckAccess(ctx, roomID, userID, role); err != nil {
		return err
	}

	now := time.Now()
	if err := s.rooms.SetLastRead(ctx, roomID, userID, now); err != nil {
		return err
	}

	// Best effort: the cursor is authoritative, receipt rows just trail it.
	if err := s.receipts.MarkReadUpTo(ctx, roomID, userID, now); err != nil {
		log.Printf("receipt read upgrade failed for room %d user %d: %v", roomID, userID, err)
	}
	return nil
}

// UnreadCount returns the canonical unread total for (room, user).
func (s *Service) UnreadCount(ctx context.Context, roomID, userID int) (int, error) {
	return s.messages.UnreadCount(ctx, roomID, userID)
}

// ListMessages pages backward through room history by a before-timestamp
// cursor. Pages come back in ascending creation-time order.
func (s *Service) ListMessages(ctx context.Context, roomID, userID int, role string, before time.Time, limit int) ([]models.Message, error) {
	if _, err := s.access.CheckAccess(ctx, roomID, userID, role); err != nil {
		return nil, err
	}

	if before.IsZero() {
		before = time.Now()
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return s.messages.ListBefore(ctx, roomID, before, limit)
}

// ListRooms returns the user's rooms with last message and unread count. The
// team room is joined lazily here so every user always sees it.
func (s *Service) ListRooms(ctx context.Context, userID int) ([]models.RoomSummary, error) {
	if _, err := s.access.GetOrCreateTeamRoom(ctx, userID); err != nil {
		return nil, err
	}

	rooms, err := s.rooms.ListRoomsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	summaries := make([]models.RoomSummary, 0, len(rooms))
	for _, room := range rooms {
		summary := models.RoomSummary{RoomID: room.ID, Type: room.Type, CreatedAt: room.CreatedAt}

		last, err := s.messages.LastMessage(ctx, room.ID)
		if err == nil {
			summary.LastMessage = &last
		} else if !errors.Is(err, repositories.ErrMessageNotFound) {
			return nil, err
		}

		unread, err := s.messages.UnreadCount(ctx, room.ID, userID)
		if err != nil {
			return nil, err
		}
		summary.UnreadCount = unread
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// ListDirectTargets returns the users the caller may open a direct room with.
func (s *Service) ListDirectTargets(ctx context.Context, callerID int, callerRole string) ([]models.User, error) {
	if !models.IsPrivileged(callerRole) {
		return nil, ErrOnlyManagers
	}

	roles := []string{models.RoleEmployee}
	if callerRole == models.RoleSuperAdmin {
		roles = []string{models.RoleEmployee, models.RoleManager, models.RoleSuperAdmin}
	}

	users, err := s.users.ListActiveByRole(ctx, roles)
	if err != nil {
		return nil, err
	}

	targets := users[:0]
	for _, u := range users {
		if u.ID != callerID {
			targets = append(targets, u)
		}
	}
	return targets, nil
}

// RoomIDsForUser lists the ids of rooms the user belongs to, for the
// cross-room feed variant.
func (s *Service) RoomIDsForUser(ctx context.Context, userID int) ([]int, error) {
	if _, err := s.access.GetOrCreateTeamRoom(ctx, userID); err != nil {
		return nil, err
	}
	rooms, err := s.rooms.ListRoomsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := make([]int, 0, len(rooms))
	for _, room := range rooms {
		ids = append(ids, room.ID)
	}
	return ids, nil
}
