package service

import (
	"context"
	"errors"

	"CarryChat/internal/db"
	"CarryChat/internal/model"
	"CarryChat/internal/repo"

	"github.com/benbjohnson/clock"
	"go.mongodb.org/mongo-driver/mongo"
)

// ErrUnknownPeer is returned when the requested conversation peer does not
// exist.
var ErrUnknownPeer = errors.New("unknown peer")

// ChatService serves conversation history over HTTP. Receivers that were
// offline at send time catch up here, then raise messages to seen through
// the read-receipt path.
type ChatService interface {
	GetConversation(ctx context.Context, userID, peerID string, page int64) (*db.PaginatedResult[model.Message], error)
	MarkConversationRead(ctx context.Context, userID, peerID string) (int64, error)
	UnreadCount(ctx context.Context, userID string) (int64, error)
}

type chatService struct {
	store repo.MessageStore
	users repo.UserRepository
	clk   clock.Clock
}

func NewChatService(store repo.MessageStore, users repo.UserRepository, clk clock.Clock) ChatService {
	return &chatService{
		store: store,
		users: users,
		clk:   clk,
	}
}

func (s *chatService) GetConversation(ctx context.Context, userID, peerID string, page int64) (*db.PaginatedResult[model.Message], error) {
	if _, err := s.users.GetUser(ctx, peerID); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrUnknownPeer
		}
		return nil, err
	}
	return s.store.ConversationHistory(ctx, userID, peerID, page)
}

func (s *chatService) MarkConversationRead(ctx context.Context, userID, peerID string) (int64, error) {
	return s.store.MarkConversationRead(ctx, userID, peerID, s.clk.Now())
}

func (s *chatService) UnreadCount(ctx context.Context, userID string) (int64, error) {
	return s.store.UnreadCount(ctx, userID)
}
