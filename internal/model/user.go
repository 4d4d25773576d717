package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// User represents a user document in MongoDB. Profile CRUD lives in the
// main application; the messaging core only reads these records.
type User struct {
	ID        primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	UserID    string             `json:"userId" bson:"user_id"`
	Username  string             `json:"username" bson:"username"`
	Email     string             `json:"email" bson:"email"`
	FirstName string             `json:"firstName" bson:"first_name"`
	LastName  string             `json:"lastName" bson:"last_name"`
	Avatar    string             `json:"avatar" bson:"avatar"`
	IsActive  bool               `json:"isActive" bson:"is_active"`
	CreatedAt time.Time          `json:"createdAt" bson:"created_at"`
}

// Block is a one-directional block record. Two users are considered a
// blocked pair when a record exists in either direction.
type Block struct {
	ID        primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	UserID    string             `json:"userId" bson:"user_id"`
	BlockedID string             `json:"blockedId" bson:"blocked_id"`
	CreatedAt time.Time          `json:"createdAt" bson:"created_at"`
}

// Notification is created for the receiver of every delivered message.
// Its creation is fire-and-forget; a failure never rolls back the message.
type Notification struct {
	ID        primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	UserID    string             `json:"userId" bson:"user_id"`
	Kind      string             `json:"kind" bson:"kind"`
	MessageID string             `json:"messageId" bson:"message_id"`
	SenderID  string             `json:"senderId" bson:"sender_id"`
	Read      bool               `json:"read" bson:"read"`
	CreatedAt time.Time          `json:"createdAt" bson:"created_at"`
}
