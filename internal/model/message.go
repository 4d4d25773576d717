package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Delivery statuses for a message. Status only ever moves forward:
// sending -> sent -> delivered -> seen, with failed reachable from
// sending or sent.
const (
	StatusSending   = "sending"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusSeen      = "seen"
	StatusFailed    = "failed"
)

var statusRank = map[string]int{
	StatusSending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusSeen:      3,
}

// CanAdvance reports whether a message may move from one delivery status
// to another. failed is terminal and only reachable before delivery.
func CanAdvance(from, to string) bool {
	if from == StatusFailed {
		return false
	}
	if to == StatusFailed {
		return from == StatusSending || from == StatusSent
	}
	fromRank, ok := statusRank[from]
	if !ok {
		return false
	}
	toRank, ok := statusRank[to]
	if !ok {
		return false
	}
	return toRank > fromRank
}

// Message represents a chat message between a parcel sender and a traveler
// in MongoDB. Attachments are embedded so a message and its attachments are
// written atomically.
type Message struct {
	ID          primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	SenderID    string             `json:"senderId" bson:"sender_id"`
	ReceiverID  string             `json:"receiverId" bson:"receiver_id"`
	Content     string             `json:"content" bson:"content"`
	BookingID   *string            `json:"bookingId,omitempty" bson:"booking_id,omitempty"`
	Attachments []Attachment       `json:"attachments,omitempty" bson:"attachments,omitempty"`
	Status      string             `json:"status" bson:"status"`
	CreatedAt   time.Time          `json:"createdAt" bson:"created_at"`
	DeliveredAt *time.Time         `json:"deliveredAt,omitempty" bson:"delivered_at,omitempty"`
	ReadAt      *time.Time         `json:"readAt,omitempty" bson:"read_at,omitempty"`
}

// Attachment is an uploaded file reference carried by a message. Content
// safety validation happens before the reference reaches the messaging core;
// here it is opaque metadata.
type Attachment struct {
	ID           string  `json:"id" bson:"id"`
	URL          string  `json:"url" bson:"url"`
	Name         string  `json:"name" bson:"name"`
	MimeType     string  `json:"type" bson:"mime_type"`
	Size         int64   `json:"size" bson:"size"`
	ThumbnailURL *string `json:"thumbnailUrl,omitempty" bson:"thumbnail_url,omitempty"`
}
