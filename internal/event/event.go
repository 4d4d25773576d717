package event

import (
	"encoding/json"
	"errors"
	"fmt"

	"CarryChat/internal/model"
)

// Client -> server frame types.
const (
	TypeAuth           = "auth"
	TypeTyping         = "typing"
	TypeStopTyping     = "stop_typing"
	TypeSendMessage    = "send_message"
	TypeReadReceipt    = "read_receipt"
	TypeUploadProgress = "upload_progress"
)

// Server -> client frame types.
const (
	TypeOnlineUsers      = "online_users"
	TypeUserStatus       = "user_status"
	TypeTypingIndicator  = "typing_indicator"
	TypeMessage          = "message"
	TypeMessageSent      = "message_sent"
	TypeMessageDelivered = "message_delivered"
	TypeMessageRead      = "message_read"
	TypeError            = "error"
)

// Stable error codes carried by Error frames.
const (
	CodeUnauthorized       = "unauthorized"
	CodeNotAuthenticated   = "not_authenticated"
	CodeInvalidPayload     = "invalid_payload"
	CodeUnknownType        = "unknown_type"
	CodeTooManyAttachments = "too_many_attachments"
	CodeMessageTooLong     = "message_too_long"
	CodeRateLimited        = "rate_limited"
	CodeBlocked            = "blocked"
	CodeContentBlocked     = "content_blocked"
	CodePersistFailed      = "persist_failed"
)

var (
	ErrUnknownType = errors.New("unknown frame type")
	ErrBadFrame    = errors.New("malformed frame")
)

// Inbound is a decoded client frame. Each variant validates its own shape
// before any handler logic runs.
type Inbound interface {
	Validate() error
}

// Auth is the first frame a client must send after the socket opens.
type Auth struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

func (a Auth) Validate() error {
	if a.Token == "" {
		return fmt.Errorf("%w: auth requires token", ErrBadFrame)
	}
	return nil
}

// Typing signals the client is composing a message to ReceiverID.
type Typing struct {
	Type       string `json:"type"`
	ReceiverID string `json:"receiverId"`
}

func (t Typing) Validate() error {
	if t.ReceiverID == "" {
		return fmt.Errorf("%w: typing requires receiverId", ErrBadFrame)
	}
	return nil
}

// StopTyping explicitly ends a typing session.
type StopTyping struct {
	Type       string `json:"type"`
	ReceiverID string `json:"receiverId"`
}

func (t StopTyping) Validate() error {
	if t.ReceiverID == "" {
		return fmt.Errorf("%w: stop_typing requires receiverId", ErrBadFrame)
	}
	return nil
}

// AttachmentRef is an already-validated upload carried by a send_message
// frame.
type AttachmentRef struct {
	URL          string  `json:"url"`
	Name         string  `json:"name"`
	MimeType     string  `json:"type"`
	Size         int64   `json:"size"`
	ThumbnailURL *string `json:"thumbnailUrl,omitempty"`
}

// SendMessage submits a message for persistence and fan-out. ClientMessageID
// is the caller-generated correlation id echoed back on the acknowledgement.
type SendMessage struct {
	Type            string          `json:"type"`
	ReceiverID      string          `json:"receiverId"`
	Content         string          `json:"content"`
	BookingID       *string         `json:"bookingId,omitempty"`
	ClientMessageID string          `json:"clientMessageId,omitempty"`
	Attachments     []AttachmentRef `json:"attachments,omitempty"`
}

func (m SendMessage) Validate() error {
	if m.ReceiverID == "" {
		return fmt.Errorf("%w: send_message requires receiverId", ErrBadFrame)
	}
	if m.Content == "" && len(m.Attachments) == 0 {
		return fmt.Errorf("%w: send_message requires content or attachments", ErrBadFrame)
	}
	for _, a := range m.Attachments {
		if a.URL == "" || a.Name == "" {
			return fmt.Errorf("%w: attachment requires url and name", ErrBadFrame)
		}
	}
	return nil
}

// ReadReceipt marks a message as seen by its receiver.
type ReadReceipt struct {
	Type             string `json:"type"`
	MessageID        string `json:"messageId"`
	OriginalSenderID string `json:"originalSenderId"`
}

func (r ReadReceipt) Validate() error {
	if r.MessageID == "" || r.OriginalSenderID == "" {
		return fmt.Errorf("%w: read_receipt requires messageId and originalSenderId", ErrBadFrame)
	}
	return nil
}

// UploadProgress is relayed verbatim to the receiver so the other side can
// render an upload bar.
type UploadProgress struct {
	Type       string `json:"type"`
	SenderID   string `json:"senderId,omitempty"`
	ReceiverID string `json:"receiverId"`
	UploadID   string `json:"uploadId"`
	Progress   int    `json:"progress"`
	FileName   string `json:"fileName,omitempty"`
}

func (u UploadProgress) Validate() error {
	if u.ReceiverID == "" || u.UploadID == "" {
		return fmt.Errorf("%w: upload_progress requires receiverId and uploadId", ErrBadFrame)
	}
	if u.Progress < 0 || u.Progress > 100 {
		return fmt.Errorf("%w: progress must be 0-100", ErrBadFrame)
	}
	return nil
}

type envelope struct {
	Type string `json:"type"`
}

// DecodeInbound parses a raw client frame into its typed variant and
// validates it. ErrUnknownType is returned for frame types the server does
// not accept from clients.
func DecodeInbound(data []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}

	var frame Inbound
	switch env.Type {
	case TypeAuth:
		frame = &Auth{}
	case TypeTyping:
		frame = &Typing{}
	case TypeStopTyping:
		frame = &StopTyping{}
	case TypeSendMessage:
		frame = &SendMessage{}
	case TypeReadReceipt:
		frame = &ReadReceipt{}
	case TypeUploadProgress:
		frame = &UploadProgress{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	if err := json.Unmarshal(data, frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	if err := frame.Validate(); err != nil {
		return nil, err
	}
	return frame, nil
}

// OnlineUsers is the presence snapshot pushed once, immediately post-auth.
type OnlineUsers struct {
	Type  string   `json:"type"`
	Users []string `json:"users"`
}

func NewOnlineUsers(users []string) OnlineUsers {
	return OnlineUsers{Type: TypeOnlineUsers, Users: users}
}

// UserStatus announces an online/offline flip for a single user.
type UserStatus struct {
	Type      string `json:"type"`
	UserID    string `json:"userId"`
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

func NewUserStatus(userID, status string, ts int64) UserStatus {
	return UserStatus{Type: TypeUserStatus, UserID: userID, Status: status, Timestamp: ts}
}

// TypingIndicator is a targeted typing-start or typing-stop event.
type TypingIndicator struct {
	Type      string `json:"type"`
	UserID    string `json:"userId"`
	IsTyping  bool   `json:"isTyping"`
	Timestamp int64  `json:"timestamp"`
}

func NewTypingIndicator(userID string, isTyping bool, ts int64) TypingIndicator {
	return TypingIndicator{Type: TypeTypingIndicator, UserID: userID, IsTyping: isTyping, Timestamp: ts}
}

// MessagePush carries a freshly persisted message to its receiver.
type MessagePush struct {
	Type    string        `json:"type"`
	Message model.Message `json:"message"`
}

func NewMessagePush(msg model.Message) MessagePush {
	return MessagePush{Type: TypeMessage, Message: msg}
}

// MessageSent acknowledges a send_message back to its submitter, carrying the
// durable record and the original correlation id.
type MessageSent struct {
	Type            string        `json:"type"`
	Message         model.Message `json:"message"`
	Status          string        `json:"status"`
	ClientMessageID string        `json:"clientMessageId,omitempty"`
}

func NewMessageSent(msg model.Message, clientMessageID string) MessageSent {
	return MessageSent{Type: TypeMessageSent, Message: msg, Status: model.StatusSent, ClientMessageID: clientMessageID}
}

// MessageDelivered tells the sender the receiver had a live connection.
type MessageDelivered struct {
	Type        string `json:"type"`
	MessageID   string `json:"messageId"`
	DeliveredAt int64  `json:"deliveredAt"`
}

func NewMessageDelivered(messageID string, deliveredAt int64) MessageDelivered {
	return MessageDelivered{Type: TypeMessageDelivered, MessageID: messageID, DeliveredAt: deliveredAt}
}

// MessageRead tells the original sender the receiver has seen a message.
type MessageRead struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
	ReadBy    string `json:"readBy"`
	ReadAt    int64  `json:"readAt"`
}

func NewMessageRead(messageID, readBy string, readAt int64) MessageRead {
	return MessageRead{Type: TypeMessageRead, MessageID: messageID, ReadBy: readBy, ReadAt: readAt}
}

// Error is sent only to the connection that caused the failure.
type Error struct {
	Type            string `json:"type"`
	Code            string `json:"code"`
	Message         string `json:"message"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
}

func NewError(code, message, clientMessageID string) Error {
	return Error{Type: TypeError, Code: code, Message: message, ClientMessageID: clientMessageID}
}
