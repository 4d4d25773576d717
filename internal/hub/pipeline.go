package hub

import (
	"context"
	"errors"
	"time"

	"CarryChat/internal/event"
	"CarryChat/internal/model"
	"CarryChat/internal/moderation"
	"CarryChat/internal/repo"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const notificationKindMessage = "message"

// Peer is the submitting side of a pipeline operation: the authenticated
// connection a frame arrived on.
type Peer interface {
	UserID() string
	Reply(frame any) bool
	AdmitMessage() bool
}

// Router fans frames out to a user's live connections.
type Router interface {
	DeliverToUser(userID string, frame any) bool
}

// Pipeline validates, persists, and fans out messages, and is the only
// writer of a message's delivery status. Preconditions run in a fixed order;
// any failure answers only the submitting connection and leaves it open.
type Pipeline struct {
	router Router
	store  repo.MessageStore
	filter *moderation.Filter
	typing *TypingTracker
	clk    clock.Clock
	logger *zap.Logger
	opts   Options
}

func NewPipeline(router Router, store repo.MessageStore, filter *moderation.Filter, typing *TypingTracker, clk clock.Clock, logger *zap.Logger, opts Options) *Pipeline {
	return &Pipeline{
		router: router,
		store:  store,
		filter: filter,
		typing: typing,
		clk:    clk,
		logger: logger,
		opts:   opts,
	}
}

// HandleSend runs the full submit path: guards, persist, acknowledgement,
// fan-out, notification.
func (p *Pipeline) HandleSend(ctx context.Context, peer Peer, f *event.SendMessage) {
	senderID := peer.UserID()
	cid := f.ClientMessageID

	if len(f.Content) > p.opts.MaxContentLen {
		peer.Reply(event.NewError(event.CodeMessageTooLong, "message content too long", cid))
		return
	}
	if len(f.Attachments) > p.opts.MaxAttachments {
		peer.Reply(event.NewError(event.CodeTooManyAttachments, "too many attachments", cid))
		return
	}

	if !peer.AdmitMessage() {
		p.logger.Warn("rate limit exceeded",
			zap.String("sender_id", senderID))
		peer.Reply(event.NewError(event.CodeRateLimited, "too many messages, slow down", cid))
		return
	}

	blocked, err := p.store.IsBlockedPair(ctx, senderID, f.ReceiverID)
	if err != nil {
		p.logger.Error("block check failed", zap.Error(err), zap.String("sender_id", senderID))
		peer.Reply(event.NewError(event.CodePersistFailed, "message could not be processed", cid))
		return
	}
	if blocked {
		peer.Reply(event.NewError(event.CodeBlocked, "you cannot message this user", cid))
		return
	}

	switch p.filter.Check(f.Content) {
	case moderation.VerdictBlocked:
		peer.Reply(event.NewError(event.CodeContentBlocked, "message violates content policy", cid))
		return
	case moderation.VerdictFlagged:
		// Flagged content is logged but still goes through.
		p.logger.Warn("flagged message content",
			zap.String("sender_id", senderID),
			zap.String("receiver_id", f.ReceiverID))
	}

	msg := model.Message{
		SenderID:    senderID,
		ReceiverID:  f.ReceiverID,
		Content:     f.Content,
		BookingID:   f.BookingID,
		Attachments: toAttachments(f.Attachments),
		Status:      model.StatusSent,
		CreatedAt:   p.clk.Now(),
	}

	messageID, err := p.store.CreateMessage(ctx, &msg)
	if err != nil {
		p.logger.Error("message persist failed",
			zap.Error(err), zap.String("sender_id", senderID))
		peer.Reply(event.NewError(event.CodePersistFailed, "message could not be saved", cid))
		return
	}

	// Acknowledge before fan-out so the sender sees sent before delivered.
	peer.Reply(event.NewMessageSent(msg, cid))

	// A successful send to the target ends any typing session toward them.
	p.typing.Stop(senderID, f.ReceiverID)

	if p.router.DeliverToUser(f.ReceiverID, event.NewMessagePush(msg)) {
		deliveredAt := p.clk.Now()
		p.router.DeliverToUser(senderID, event.NewMessageDelivered(messageID, deliveredAt.UnixMilli()))
	}

	p.notifyReceiver(messageID, senderID, f.ReceiverID)
}

// HandleReadReceipt raises the referenced message to seen and tells the
// original sender. Already-seen messages produce no event.
func (p *Pipeline) HandleReadReceipt(ctx context.Context, peer Peer, f *event.ReadReceipt) {
	readAt := p.clk.Now()

	updated, err := p.store.MarkRead(ctx, f.MessageID, peer.UserID(), readAt)
	if err != nil {
		code := event.CodePersistFailed
		if errors.Is(err, repo.ErrInvalidMessageID) {
			code = event.CodeInvalidPayload
		}
		p.logger.Error("read receipt failed",
			zap.Error(err),
			zap.String("message_id", f.MessageID),
			zap.String("reader_id", peer.UserID()))
		peer.Reply(event.NewError(code, "read receipt could not be processed", ""))
		return
	}
	if !updated {
		return
	}

	p.router.DeliverToUser(f.OriginalSenderID,
		event.NewMessageRead(f.MessageID, peer.UserID(), readAt.UnixMilli()))
}

// HandleUploadProgress relays an upload progress frame to the receiver with
// the sender identity stamped on.
func (p *Pipeline) HandleUploadProgress(peer Peer, f *event.UploadProgress) {
	relay := *f
	relay.Type = event.TypeUploadProgress
	relay.SenderID = peer.UserID()
	p.router.DeliverToUser(f.ReceiverID, relay)
}

// notifyReceiver records a notification for the receiver. Fire-and-forget: a
// failure here never rolls back or fails the message.
func (p *Pipeline) notifyReceiver(messageID, senderID, receiverID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		n := &model.Notification{
			UserID:    receiverID,
			Kind:      notificationKindMessage,
			MessageID: messageID,
			SenderID:  senderID,
			CreatedAt: p.clk.Now(),
		}
		if err := p.store.CreateNotification(ctx, n); err != nil {
			p.logger.Warn("notification create failed",
				zap.Error(err),
				zap.String("receiver_id", receiverID),
				zap.String("message_id", messageID))
		}
	}()
}

func toAttachments(refs []event.AttachmentRef) []model.Attachment {
	if len(refs) == 0 {
		return nil
	}
	attachments := make([]model.Attachment, 0, len(refs))
	for _, ref := range refs {
		attachments = append(attachments, model.Attachment{
			ID:           uuid.New().String(),
			URL:          ref.URL,
			Name:         ref.Name,
			MimeType:     ref.MimeType,
			Size:         ref.Size,
			ThumbnailURL: ref.ThumbnailURL,
		})
	}
	return attachments
}
