package hub

import (
	"context"
	"sync"
	"testing"
	"time"

	"CarryChat/internal/db"
	"CarryChat/internal/event"
	"CarryChat/internal/model"
	"CarryChat/internal/moderation"
	"CarryChat/internal/repo"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// fakePeer stands in for the submitting connection.
type fakePeer struct {
	userID  string
	admit   bool
	replies []any
}

func (p *fakePeer) UserID() string     { return p.userID }
func (p *fakePeer) AdmitMessage() bool { return p.admit }

func (p *fakePeer) Reply(frame any) bool {
	p.replies = append(p.replies, frame)
	return true
}

// fakeRouter records fan-out per user; only users in online deliver.
type fakeRouter struct {
	online    map[string]bool
	delivered map[string][]any
}

func newFakeRouter(onlineUsers ...string) *fakeRouter {
	online := make(map[string]bool)
	for _, u := range onlineUsers {
		online[u] = true
	}
	return &fakeRouter{online: online, delivered: make(map[string][]any)}
}

func (r *fakeRouter) DeliverToUser(userID string, frame any) bool {
	if !r.online[userID] {
		return false
	}
	r.delivered[userID] = append(r.delivered[userID], frame)
	return true
}

// fakeStore is an in-memory MessageStore.
type fakeStore struct {
	mu            sync.Mutex
	messages      []*model.Message
	notifications []*model.Notification
	blockedPairs  map[[2]string]bool
	seen          map[string]bool
	failCreate    error
	slowFirst     time.Duration // stall the first insert to surface ordering races
	notified      chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		blockedPairs: make(map[[2]string]bool),
		seen:         make(map[string]bool),
		notified:     make(chan struct{}, 8),
	}
}

func (s *fakeStore) block(a, b string) {
	s.blockedPairs[[2]string{a, b}] = true
}

func (s *fakeStore) CreateMessage(ctx context.Context, msg *model.Message) (string, error) {
	s.mu.Lock()
	if s.failCreate != nil {
		s.mu.Unlock()
		return "", s.failCreate
	}
	stall := s.slowFirst > 0 && len(s.messages) == 0
	s.mu.Unlock()

	if stall {
		time.Sleep(s.slowFirst)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	msg.ID = primitive.NewObjectID()
	s.messages = append(s.messages, msg)
	return msg.ID.Hex(), nil
}

func (s *fakeStore) IsBlockedPair(ctx context.Context, a, b string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blockedPairs[[2]string{a, b}] || s.blockedPairs[[2]string{b, a}], nil
}

func (s *fakeStore) MarkRead(ctx context.Context, messageID, readerID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[messageID] {
		return false, nil
	}
	s.seen[messageID] = true
	return true, nil
}

func (s *fakeStore) CreateNotification(ctx context.Context, n *model.Notification) error {
	s.mu.Lock()
	s.notifications = append(s.notifications, n)
	s.mu.Unlock()
	s.notified <- struct{}{}
	return nil
}

func (s *fakeStore) MarkConversationRead(ctx context.Context, userID, peerID string, at time.Time) (int64, error) {
	return 0, nil
}

func (s *fakeStore) ConversationHistory(ctx context.Context, a, b string, page int64) (*db.PaginatedResult[model.Message], error) {
	return &db.PaginatedResult[model.Message]{}, nil
}

func (s *fakeStore) UnreadCount(ctx context.Context, userID string) (int64, error) {
	return 0, nil
}

func (s *fakeStore) messageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func (s *fakeStore) contents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, m.Content)
	}
	return out
}

func newTestPipeline(router Router, store repo.MessageStore) (*Pipeline, *TypingTracker) {
	mock := clock.NewMock()
	typing := NewTypingTracker(3*time.Second, mock, func(string, event.TypingIndicator) {})
	p := NewPipeline(router, store, moderation.NewFilter(), typing, mock, zap.NewNop(), DefaultOptions())
	return p, typing
}

func waitNotified(t *testing.T, store *fakeStore) {
	t.Helper()
	select {
	case <-store.notified:
	case <-time.After(2 * time.Second):
		t.Fatal("notification was never created")
	}
}

func sendFrame(cid string) *event.SendMessage {
	return &event.SendMessage{
		Type:            event.TypeSendMessage,
		ReceiverID:      "B",
		Content:         "hello",
		ClientMessageID: cid,
	}
}

func TestHandleSend_ReceiverOnline(t *testing.T) {
	store := newFakeStore()
	router := newFakeRouter("A", "B")
	pipeline, _ := newTestPipeline(router, store)
	peer := &fakePeer{userID: "A", admit: true}

	pipeline.HandleSend(context.Background(), peer, sendFrame("c1"))

	// exactly one durable message
	assert.Equal(t, 1, store.messageCount())

	// sender gets exactly one message_sent with the same correlation id
	require.Len(t, peer.replies, 1)
	ack, ok := peer.replies[0].(event.MessageSent)
	require.True(t, ok)
	assert.Equal(t, "c1", ack.ClientMessageID)
	assert.Equal(t, model.StatusSent, ack.Status)
	assert.False(t, ack.Message.ID.IsZero())

	// receiver gets the push
	require.Len(t, router.delivered["B"], 1)
	push, ok := router.delivered["B"][0].(event.MessagePush)
	require.True(t, ok)
	assert.Equal(t, model.StatusSent, push.Message.Status)
	assert.Equal(t, "A", push.Message.SenderID)

	// sender additionally gets exactly one delivered transition
	require.Len(t, router.delivered["A"], 1)
	delivered, ok := router.delivered["A"][0].(event.MessageDelivered)
	require.True(t, ok)
	assert.Equal(t, ack.Message.ID.Hex(), delivered.MessageID)

	waitNotified(t, store)
}

func TestHandleSend_ReceiverOffline(t *testing.T) {
	store := newFakeStore()
	router := newFakeRouter("A") // B offline
	pipeline, _ := newTestPipeline(router, store)
	peer := &fakePeer{userID: "A", admit: true}

	pipeline.HandleSend(context.Background(), peer, sendFrame("c1"))

	assert.Equal(t, 1, store.messageCount())
	require.Len(t, peer.replies, 1)
	assert.IsType(t, event.MessageSent{}, peer.replies[0])

	// no delivered event without a live receiver connection
	assert.Empty(t, router.delivered["A"])
	assert.Empty(t, router.delivered["B"])

	waitNotified(t, store)
}

func TestHandleSend_RateLimited(t *testing.T) {
	store := newFakeStore()
	router := newFakeRouter("A", "B")
	pipeline, _ := newTestPipeline(router, store)
	peer := &fakePeer{userID: "A", admit: false}

	pipeline.HandleSend(context.Background(), peer, sendFrame("c1"))

	assert.Zero(t, store.messageCount())
	require.Len(t, peer.replies, 1)
	errFrame := peer.replies[0].(event.Error)
	assert.Equal(t, event.CodeRateLimited, errFrame.Code)
	assert.Equal(t, "c1", errFrame.ClientMessageID)
	assert.Empty(t, router.delivered["B"])
}

func TestHandleSend_BlockedPair(t *testing.T) {
	store := newFakeStore()
	store.block("B", "A")
	router := newFakeRouter("A", "B")
	pipeline, _ := newTestPipeline(router, store)
	peer := &fakePeer{userID: "A", admit: true}

	pipeline.HandleSend(context.Background(), peer, sendFrame("c1"))

	assert.Zero(t, store.messageCount())
	require.Len(t, peer.replies, 1)
	errFrame := peer.replies[0].(event.Error)
	assert.Equal(t, event.CodeBlocked, errFrame.Code)
	assert.Equal(t, "c1", errFrame.ClientMessageID)
}

func TestHandleSend_ContentBlocked(t *testing.T) {
	store := newFakeStore()
	router := newFakeRouter("A", "B")
	pipeline, _ := newTestPipeline(router, store)
	peer := &fakePeer{userID: "A", admit: true}

	frame := sendFrame("c1")
	frame.Content = "it is undeclared cash"
	pipeline.HandleSend(context.Background(), peer, frame)

	assert.Zero(t, store.messageCount())
	require.Len(t, peer.replies, 1)
	assert.Equal(t, event.CodeContentBlocked, peer.replies[0].(event.Error).Code)
}

func TestHandleSend_FlaggedContentGoesThrough(t *testing.T) {
	store := newFakeStore()
	router := newFakeRouter("A", "B")
	pipeline, _ := newTestPipeline(router, store)
	peer := &fakePeer{userID: "A", admit: true}

	frame := sendFrame("c1")
	frame.Content = "can you buy a gift card for me"
	pipeline.HandleSend(context.Background(), peer, frame)

	assert.Equal(t, 1, store.messageCount())
	require.Len(t, peer.replies, 1)
	assert.IsType(t, event.MessageSent{}, peer.replies[0])
	waitNotified(t, store)
}

func TestHandleSend_TooManyAttachments(t *testing.T) {
	store := newFakeStore()
	router := newFakeRouter("A", "B")
	pipeline, _ := newTestPipeline(router, store)
	peer := &fakePeer{userID: "A", admit: true}

	frame := sendFrame("c1")
	for i := 0; i < 4; i++ {
		frame.Attachments = append(frame.Attachments, event.AttachmentRef{
			URL: "https://files.example/a.jpg", Name: "a.jpg", Size: 10,
		})
	}
	pipeline.HandleSend(context.Background(), peer, frame)

	assert.Zero(t, store.messageCount())
	require.Len(t, peer.replies, 1)
	assert.Equal(t, event.CodeTooManyAttachments, peer.replies[0].(event.Error).Code)
}

func TestHandleSend_ContentTooLong(t *testing.T) {
	store := newFakeStore()
	router := newFakeRouter("A", "B")
	pipeline, _ := newTestPipeline(router, store)
	peer := &fakePeer{userID: "A", admit: true}

	frame := sendFrame("c1")
	long := make([]byte, DefaultOptions().MaxContentLen+1)
	for i := range long {
		long[i] = 'a'
	}
	frame.Content = string(long)
	pipeline.HandleSend(context.Background(), peer, frame)

	assert.Zero(t, store.messageCount())
	require.Len(t, peer.replies, 1)
	assert.Equal(t, event.CodeMessageTooLong, peer.replies[0].(event.Error).Code)
}

func TestHandleSend_PersistFailure(t *testing.T) {
	store := newFakeStore()
	store.failCreate = assert.AnError
	router := newFakeRouter("A", "B")
	pipeline, _ := newTestPipeline(router, store)
	peer := &fakePeer{userID: "A", admit: true}

	pipeline.HandleSend(context.Background(), peer, sendFrame("c1"))

	require.Len(t, peer.replies, 1)
	errFrame := peer.replies[0].(event.Error)
	assert.Equal(t, event.CodePersistFailed, errFrame.Code)
	assert.Equal(t, "c1", errFrame.ClientMessageID)

	// no partial fan-out on persistence failure
	assert.Empty(t, router.delivered["B"])
}

func TestHandleSend_ClearsTypingState(t *testing.T) {
	store := newFakeStore()
	router := newFakeRouter("A", "B")
	pipeline, typing := newTestPipeline(router, store)
	peer := &fakePeer{userID: "A", admit: true}

	typing.Start("A", "B")
	require.Equal(t, 1, typing.ActiveSessions())

	pipeline.HandleSend(context.Background(), peer, sendFrame("c1"))

	assert.Zero(t, typing.ActiveSessions())
	waitNotified(t, store)
}

func TestHandleReadReceipt(t *testing.T) {
	store := newFakeStore()
	router := newFakeRouter("A", "B")
	pipeline, _ := newTestPipeline(router, store)

	sender := &fakePeer{userID: "A", admit: true}
	pipeline.HandleSend(context.Background(), sender, sendFrame("c1"))
	messageID := sender.replies[0].(event.MessageSent).Message.ID.Hex()
	waitNotified(t, store)

	receiver := &fakePeer{userID: "B", admit: true}
	receipt := &event.ReadReceipt{
		Type:             event.TypeReadReceipt,
		MessageID:        messageID,
		OriginalSenderID: "A",
	}
	pipeline.HandleReadReceipt(context.Background(), receiver, receipt)

	// sender sees exactly one message_read; A already has the delivered event
	require.Len(t, router.delivered["A"], 2)
	read, ok := router.delivered["A"][1].(event.MessageRead)
	require.True(t, ok)
	assert.Equal(t, messageID, read.MessageID)
	assert.Equal(t, "B", read.ReadBy)

	// a repeat receipt is a no-op
	pipeline.HandleReadReceipt(context.Background(), receiver, receipt)
	assert.Len(t, router.delivered["A"], 2)
}

func TestHandleUploadProgress_Relay(t *testing.T) {
	store := newFakeStore()
	router := newFakeRouter("B")
	pipeline, _ := newTestPipeline(router, store)
	peer := &fakePeer{userID: "A", admit: true}

	pipeline.HandleUploadProgress(peer, &event.UploadProgress{
		Type:       event.TypeUploadProgress,
		ReceiverID: "B",
		UploadID:   "up1",
		Progress:   55,
		FileName:   "receipt.pdf",
	})

	require.Len(t, router.delivered["B"], 1)
	relayed := router.delivered["B"][0].(event.UploadProgress)
	assert.Equal(t, "A", relayed.SenderID)
	assert.Equal(t, 55, relayed.Progress)
	assert.Equal(t, "up1", relayed.UploadID)
}
