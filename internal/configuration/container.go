package configuration

import (
	"context"
	"fmt"
	"log"
	"time"

	"CarryChat/internal/db"
	"CarryChat/internal/handler"
	"CarryChat/internal/hub"
	"CarryChat/internal/moderation"
	"CarryChat/internal/repo"
	"CarryChat/internal/service"
	"CarryChat/internal/session"

	"github.com/benbjohnson/clock"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

type Container struct {
	ChatHandler handler.ChatHandler
	Hub         *hub.Hub
	Config      Config
	Logger      *zap.Logger

	// private - for cleanup
	mongoClient *mongo.Database
}

func BuildContainer(configPath string) (*Container, error) {
	config, err := LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	con, err := db.OpenConnection(config.ChatDatabase.Uri, config.ChatDatabase.Database)
	if err != nil {
		return nil, err
	}

	logger, _ := zap.NewProduction()
	clk := clock.New()

	messageStore := repo.NewMessageRepository(con,
		config.ChatDatabase.MessagesCollection,
		config.ChatDatabase.BlocksCollection,
		config.ChatDatabase.NotificationsCollection,
		logger,
	)
	userRepo := repo.NewUserRepository(con, config.ChatDatabase.UsersCollection)

	resolver := session.NewJWTResolver(config.Session.JWTSecret, clk)
	filter := moderation.NewFilter()

	opts := hub.Options{
		HandshakeTimeout: config.Messaging.HandshakeTimeout(),
		MaxConnsPerUser:  config.Messaging.MaxConnectionsPerUser,
		TypingTTL:        config.Messaging.TypingTTL(),
		RateWindow:       config.Messaging.RateWindow(),
		RateMaxMessages:  config.Messaging.RateMaxMessages,
		MaxFrameBytes:    config.Messaging.MaxFrameBytes,
		MaxContentLen:    config.Messaging.MaxContentLength,
		MaxAttachments:   config.Messaging.MaxAttachments,
		WorkerPoolSize:   hub.DefaultOptions().WorkerPoolSize,
		AllowedOrigins:   config.Messaging.AllowedOrigins,
	}

	chatService := service.NewChatService(messageStore, userRepo, clk)
	chatHandler := handler.NewChatHandler(chatService)

	Hub := hub.NewHub(messageStore, resolver, filter, clk, logger, opts)

	return &Container{
		ChatHandler: chatHandler,
		Hub:         Hub,
		Config:      *config,
		Logger:      logger,
		mongoClient: con,
	}, nil
}

// Close gracefully shuts down all connections
func (c *Container) Close() error {
	// Stop the hub first (closes all WebSocket connections)
	if c.Hub != nil {
		c.Hub.Stop()
	}

	if c.Logger != nil {
		_ = c.Logger.Sync()
	}

	if c.mongoClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.mongoClient.Client().Disconnect(ctx); err != nil {
			return fmt.Errorf("failed to close MongoDB connection: %w", err)
		}
	}

	return nil
}
