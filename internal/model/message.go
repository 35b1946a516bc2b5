package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type (
	// Message is a stored chat message. Content is ciphertext produced by the
	// sending client and is never inspected by the server.
	Message struct {
		ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
		ChatID    primitive.ObjectID `bson:"chat_id" json:"chat_id"`
		UserID    primitive.ObjectID `bson:"user_id" json:"user_id"`
		Content   []byte             `bson:"content" json:"content"`
		Pinned    bool               `bson:"pinned" json:"pinned"`
		CreatedAt time.Time          `bson:"created_at" json:"created_at"`
	}
)
