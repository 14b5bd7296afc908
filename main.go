package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"workchat-service/internal/chat"
	"workchat-service/internal/db"
	"workchat-service/internal/feed"
	"workchat-service/internal/handlers"
	"workchat-service/internal/middleware"
	"workchat-service/internal/observability"
	"workchat-service/internal/rabbitmq"
	"workchat-service/internal/repositories"
	"workchat-service/internal/telemetry"
)

func main() {
	database, err := db.Connect()
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}

	otlpAddr := getEnv("OTLP_GRPC_ADDR", "localhost:4317")
	shutdownTracing, err := telemetry.InitTracing(context.Background(), "workchat-service", otlpAddr)
	if err != nil {
		log.Printf("tracing disabled: %v", err)
	} else {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTracing(ctx)
		}()
	}

	amqpURL := getEnv("AMQP_URL", "")
	exchange := getEnv("AMQP_EXCHANGE", "workchat.events")
	if eventPublisher, err := observability.NewAMQPPublisher(amqpURL, exchange); err != nil {
		log.Printf("event publishing disabled: %v", err)
	} else {
		observability.SetPublisher(eventPublisher)
		defer eventPublisher.Close()
	}

	auditPublisher := rabbitmq.NewPublisher(amqpURL, getEnv("AMQP_AUDIT_EXCHANGE", "platform.audit"))
	defer auditPublisher.Close()
	log.Printf("audit publisher mode=%s", rabbitmq.PublisherMode(auditPublisher))
	auditEmitter := telemetry.NewAuditEmitter(auditPublisher, "audit_log.workchat", "workchat-service", getEnv("ENVIRONMENT", "dev"))

	jwtSecret := []byte(getEnv("JWT_SECRET", "dev-secret"))

	roomRepo := repositories.NewRoomRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	receiptRepo := repositories.NewReceiptRepo(database)
	userRepo := repositories.NewUserRepo(database)

	access := chat.NewAccessResolver(roomRepo, userRepo)
	service := chat.NewService(access, roomRepo, messageRepo, receiptRepo, userRepo)

	hub := feed.NewHub()
	feedCfg := feed.Config{
		Interval: getDurationEnv("FEED_POLL_INTERVAL", 1500*time.Millisecond),
		Lifetime: getDurationEnv("FEED_MAX_LIFETIME", 5*time.Minute),
	}
	feedHandler := feed.NewHandler(hub, service, messageRepo, jwtSecret, feedCfg)

	chatHandler := handlers.NewChatHandler(service)

	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("workchat-service"))
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(jwtSecret)

	router.GET("/rooms", authMiddleware, chatHandler.ListRooms)
	router.POST("/rooms/team", authMiddleware, chatHandler.CreateTeamRoom)
	router.POST("/rooms/direct", authMiddleware, chatHandler.CreateDirectRoom)
	router.GET("/rooms/direct/targets", authMiddleware, chatHandler.ListDirectTargets)
	router.GET("/rooms/:room_id/messages", authMiddleware, chatHandler.GetMessages)
	router.POST("/rooms/:room_id/messages", authMiddleware, chatHandler.PostMessage)
	router.POST("/rooms/:room_id/read", authMiddleware, chatHandler.MarkRead)

	router.GET("/ws/rooms/:room_id", feedHandler.HandleRoom)
	router.GET("/ws/feed", feedHandler.HandleAll)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handlers.RegisterDebugRoutes(router, auditEmitter, getEnv("DEBUG_ROUTES", "") == "true")

	port := getEnv("PORT", "8083")
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}
