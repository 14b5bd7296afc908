package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"workchat-service/internal/chat"
	"workchat-service/internal/middleware"
	"workchat-service/internal/models"
	"workchat-service/internal/observability"
	"workchat-service/internal/repositories"
)

// Handler serves live feed websocket connections.
type Handler struct {
	hub     *Hub
	service *chat.Service
	source  MessageSource
	secret  []byte
	cfg     Config
}

// NewHandler constructs a feed Handler.
func NewHandler(hub *Hub, service *chat.Service, source MessageSource, secret []byte, cfg Config) *Handler {
	return &Handler{hub: hub, service: service, source: source, secret: secret, cfg: cfg}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleRoom opens a live feed for a single room.
func (h *Handler) HandleRoom(c *gin.Context) {
	roomID, err := strconv.Atoi(c.Param("room_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}

	ctx, span := otel.Tracer("workchat-service/feed").Start(c.Request.Context(), "feed.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	session, ok := h.authenticate(c)
	if !ok {
		return
	}

	if _, err := h.service.Access().CheckAccess(ctx, roomID, session.UserID, session.Role); err != nil {
		status, msg := accessStatus(err)
		c.JSON(status, gin.H{"error": msg})
		return
	}

	h.serve(c, session, []int{roomID}, "room")
}

// HandleAll opens a cross-room live feed covering every room the user belongs to.
func (h *Handler) HandleAll(c *gin.Context) {
	ctx, span := otel.Tracer("workchat-service/feed").Start(c.Request.Context(), "feed.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	session, ok := h.authenticate(c)
	if !ok {
		return
	}

	roomIDs, err := h.service.RoomIDsForUser(ctx, session.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load rooms"})
		return
	}

	h.serve(c, session, roomIDs, "all")
}

// authenticate accepts the Authorization header or a token query parameter,
// since browsers cannot set headers on websocket dials.
func (h *Handler) authenticate(c *gin.Context) (middleware.Session, bool) {
	token := c.GetHeader("Authorization")
	if token == "" {
		if q := c.Query("token"); q != "" {
			token = "Bearer " + q
		}
	}

	parts := strings.SplitN(token, " ", 2)
	if len(parts) != 2 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return middleware.Session{}, false
	}

	session, err := middleware.ParseToken(h.secret, parts[1])
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return middleware.Session{}, false
	}
	return session, true
}

func (h *Handler) serve(c *gin.Context, session middleware.Session, roomIDs []int, kind string) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	traceID := ""
	if sc := trace.SpanFromContext(c.Request.Context()).SpanContext(); sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}
	requestID := observability.RequestIDFromRequest(c.Request)
	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      session.UserID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   requestID,
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	}

	sink := newWSSink(conn)
	client := NewClient(sink, session.UserID, info)
	h.hub.Join(roomIDs, client)

	observability.IncFeedActive(kind)
	publishFeedEvent(c.Request.Context(), kind, roomIDs, info, "feed_connect", "")

	poller := NewPoller(sink, h.source, session.UserID, roomIDs, kind, h.cfg)

	// Detached from the request context: the connection outlives the
	// handshake request.
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		defer func() {
			h.hub.Leave(roomIDs, client)
			observability.DecFeedActive(kind)
			publishFeedEvent(context.Background(), kind, roomIDs, info, "feed_disconnect", "")
		}()
		poller.Run(ctx)
	}()

	// Read pump: its only job is to notice the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					publishFeedEvent(context.Background(), kind, roomIDs, info, "feed_error", err.Error())
				}
				return
			}
		}
	}()
}

func accessStatus(err error) (int, string) {
	switch {
	case errors.Is(err, repositories.ErrRoomNotFound):
		return http.StatusNotFound, "room not found"
	case errors.Is(err, chat.ErrNotMember), errors.Is(err, chat.ErrAccessDenied):
		return http.StatusForbidden, err.Error()
	default:
		return http.StatusInternalServerError, "failed to verify access"
	}
}

func publishFeedEvent(ctx context.Context, kind string, roomIDs []int, info ConnInfo, event, reason string) {
	observability.IncFeedEvent(kind, event)
	payload := map[string]interface{}{
		"feed": map[string]interface{}{
			"kind":        kind,
			"room_ids":    roomIDs,
			"event":       event,
			"conn_id":     info.ConnID,
			"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}
	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(ctx, "feed_events."+kind, observability.EventEnvelope{
		EventType: "feed_events",
		EventName: event,
		Payload:   payload,
	}, headers)
}

// wsSink adapts a websocket connection to EventSink. Writes are serialized;
// gorilla/websocket allows at most one concurrent writer.
type wsSink struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func newWSSink(conn *websocket.Conn) *wsSink {
	return &wsSink{conn: conn}
}

func (s *wsSink) Send(event models.FeedEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *wsSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return s.conn.Close()
}
