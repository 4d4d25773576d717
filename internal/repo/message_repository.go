package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"CarryChat/internal/db"
	"CarryChat/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

var (
	ErrInvalidMessage   = errors.New("invalid message: message cannot be nil")
	ErrInvalidUserID    = errors.New("invalid user id: cannot be empty")
	ErrInvalidMessageID = errors.New("invalid message id")
	ErrOperationTimeout = errors.New("operation timeout exceeded")
)

const (
	defaultWriteTimeout = 5 * time.Second
	defaultReadTimeout  = 30 * time.Second

	maxRetries     = 3
	baseRetryDelay = 100 * time.Millisecond
	maxRetryDelay  = 2 * time.Second

	historyPageSize = 15
)

// MessageStore is the durable-store boundary the message pipeline writes
// through. Attachments are embedded in the message document, so a message and
// its attachments are created in one atomic insert.
type MessageStore interface {
	CreateMessage(ctx context.Context, msg *model.Message) (string, error)
	IsBlockedPair(ctx context.Context, userA, userB string) (bool, error)
	MarkRead(ctx context.Context, messageID, readerID string, at time.Time) (bool, error)
	CreateNotification(ctx context.Context, n *model.Notification) error
	MarkConversationRead(ctx context.Context, userID, peerID string, at time.Time) (int64, error)
	ConversationHistory(ctx context.Context, userA, userB string, page int64) (*db.PaginatedResult[model.Message], error)
	UnreadCount(ctx context.Context, userID string) (int64, error)
}

type messageRepository struct {
	messages      *db.Repository[model.Message]
	blocks        *db.Repository[model.Block]
	notifications *db.Repository[model.Notification]
	logger        *zap.Logger
}

func NewMessageRepository(con *mongo.Database, msgCollection, blockCollection, notificationCollection string, logger *zap.Logger) MessageStore {
	return &messageRepository{
		messages:      db.NewRepository[model.Message](con, msgCollection),
		blocks:        db.NewRepository[model.Block](con, blockCollection),
		notifications: db.NewRepository[model.Notification](con, notificationCollection),
		logger:        logger,
	}
}

// -----------------------------------------------------------------------------
// CreateMessage
// -----------------------------------------------------------------------------

func (m *messageRepository) CreateMessage(ctx context.Context, msg *model.Message) (string, error) {
	if msg == nil {
		return "", ErrInvalidMessage
	}
	if msg.SenderID == "" || msg.ReceiverID == "" {
		return "", ErrInvalidUserID
	}

	ctx, cancel := m.ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			if err := m.waitForRetry(ctx, attempt); err != nil {
				return "", err
			}
		}

		result, err := m.messages.Create(ctx, *msg)
		if err == nil {
			insertedID := ""
			if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
				insertedID = oid.Hex()
				msg.ID = oid
			}

			m.logger.Info("message inserted",
				zap.String("inserted_id", insertedID),
				zap.String("sender_id", msg.SenderID),
				zap.String("receiver_id", msg.ReceiverID),
				zap.Int("attachments", len(msg.Attachments)),
				zap.Int("attempt", attempt+1),
			)
			return insertedID, nil
		}

		lastErr = err
		if !m.isRetryableError(err) {
			break
		}

		m.logger.Warn("insert attempt failed, retrying",
			zap.Error(err),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", maxRetries),
		)
	}

	m.logger.Error("failed to insert message after all retries",
		zap.Error(lastErr),
		zap.String("sender_id", msg.SenderID),
	)

	return "", fmt.Errorf("insert message failed: %w", lastErr)
}

// -----------------------------------------------------------------------------
// IsBlockedPair
// -----------------------------------------------------------------------------

// IsBlockedPair reports whether a block record exists in either direction
// between the two users.
func (m *messageRepository) IsBlockedPair(ctx context.Context, userA, userB string) (bool, error) {
	if userA == "" || userB == "" {
		return false, ErrInvalidUserID
	}

	ctx, cancel := m.ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().Or(
		db.NewFilter().Eq("user_id", userA).Eq("blocked_id", userB).Build(),
		db.NewFilter().Eq("user_id", userB).Eq("blocked_id", userA).Build(),
	).Build()

	blocked, err := m.blocks.Exists(ctx, filter)
	if err != nil {
		m.logger.Error("block lookup failed",
			zap.Error(err),
			zap.String("user_a", userA),
			zap.String("user_b", userB),
		)
		return false, fmt.Errorf("block lookup failed: %w", err)
	}
	return blocked, nil
}

// -----------------------------------------------------------------------------
// MarkRead
// -----------------------------------------------------------------------------

// MarkRead raises a message to seen. The update filter only matches when the
// reader is the message's receiver and the message is not already seen, so the
// status never moves backward and a repeat receipt reports no change.
func (m *messageRepository) MarkRead(ctx context.Context, messageID, readerID string, at time.Time) (bool, error) {
	if readerID == "" {
		return false, ErrInvalidUserID
	}
	oid, err := primitive.ObjectIDFromHex(messageID)
	if err != nil {
		return false, fmt.Errorf("%w: %q", ErrInvalidMessageID, messageID)
	}

	ctx, cancel := m.ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().
		Eq("_id", oid).
		Eq("receiver_id", readerID).
		Ne("status", model.StatusSeen).
		Build()

	result, err := m.messages.Update(ctx, filter, bson.M{
		"status":  model.StatusSeen,
		"read_at": at,
	})
	if err != nil {
		m.logger.Error("mark read failed",
			zap.Error(err),
			zap.String("message_id", messageID),
			zap.String("reader_id", readerID),
		)
		return false, fmt.Errorf("mark read failed: %w", err)
	}

	return result.ModifiedCount > 0, nil
}

// -----------------------------------------------------------------------------
// CreateNotification
// -----------------------------------------------------------------------------

func (m *messageRepository) CreateNotification(ctx context.Context, n *model.Notification) error {
	if n == nil || n.UserID == "" {
		return ErrInvalidUserID
	}

	ctx, cancel := m.ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	if _, err := m.notifications.Create(ctx, *n); err != nil {
		return fmt.Errorf("create notification failed: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// MarkConversationRead
// -----------------------------------------------------------------------------

// MarkConversationRead raises every unseen message from peerID to userID to
// seen in one update. It backs the catch-up path: a receiver that was offline
// fetches history over HTTP and acknowledges the whole conversation at once.
func (m *messageRepository) MarkConversationRead(ctx context.Context, userID, peerID string, at time.Time) (int64, error) {
	if userID == "" || peerID == "" {
		return 0, ErrInvalidUserID
	}

	ctx, cancel := m.ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().
		Eq("sender_id", peerID).
		Eq("receiver_id", userID).
		Ne("status", model.StatusSeen).
		Build()

	result, err := m.messages.UpdateMany(ctx, filter, bson.M{
		"status":  model.StatusSeen,
		"read_at": at,
	})
	if err != nil {
		m.logger.Error("mark conversation read failed",
			zap.Error(err),
			zap.String("user_id", userID),
			zap.String("peer_id", peerID),
		)
		return 0, fmt.Errorf("mark conversation read failed: %w", err)
	}

	return result.ModifiedCount, nil
}

// -----------------------------------------------------------------------------
// ConversationHistory
// -----------------------------------------------------------------------------

// ConversationHistory returns one page of the message history between two
// users, oldest first. Offline receivers catch up through this path.
func (m *messageRepository) ConversationHistory(ctx context.Context, userA, userB string, page int64) (*db.PaginatedResult[model.Message], error) {
	if userA == "" || userB == "" {
		return nil, ErrInvalidUserID
	}

	ctx, cancel := m.ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().Or(
		db.NewFilter().Eq("sender_id", userA).Eq("receiver_id", userB).Build(),
		db.NewFilter().Eq("sender_id", userB).Eq("receiver_id", userA).Build(),
	).Build()

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			if err := m.waitForRetry(ctx, attempt); err != nil {
				return nil, err
			}
			m.logger.Warn("retrying conversation history",
				zap.String("user_a", userA),
				zap.String("user_b", userB),
				zap.Int("attempt", attempt+1),
			)
		}

		result, err := m.messages.FindWithPagination(ctx, filter, db.PaginationParams{
			Page:     page,
			PageSize: historyPageSize,
			SortBy:   "created_at",
			SortDesc: false,
		})
		if err == nil {
			m.logger.Debug("conversation history fetched",
				zap.String("user_a", userA),
				zap.String("user_b", userB),
				zap.Int("count", len(result.Data)),
				zap.Int64("total", result.Total),
			)
			return result, nil
		}

		lastErr = err
		if !m.isRetryableError(err) {
			break
		}
	}

	return nil, m.handleReadError(lastErr, userA, userB)
}

// UnreadCount counts messages addressed to the user that are not yet seen.
func (m *messageRepository) UnreadCount(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, ErrInvalidUserID
	}

	ctx, cancel := m.ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().
		Eq("receiver_id", userID).
		Ne("status", model.StatusSeen).
		Build()

	return m.messages.Count(ctx, filter)
}

// -----------------------------------------------------------------------------
// Private Helper Methods
// -----------------------------------------------------------------------------

func (m *messageRepository) ensureTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, hadDeadline := ctx.Deadline(); hadDeadline {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func (m *messageRepository) waitForRetry(ctx context.Context, attempt int) error {
	delay := time.Duration(1<<uint(attempt)) * baseRetryDelay
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("retry wait cancelled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func (m *messageRepository) isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	return mongo.IsTimeout(err) || mongo.IsNetworkError(err)
}

func (m *messageRepository) handleReadError(err error, userA, userB string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		m.logger.Error("read timeout", zap.String("user_a", userA), zap.String("user_b", userB))
		return ErrOperationTimeout
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil
	}

	m.logger.Error("read failed", zap.Error(err), zap.String("user_a", userA), zap.String("user_b", userB))
	return fmt.Errorf("conversation history failed: %w", err)
}
