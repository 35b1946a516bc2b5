package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type (
	Chat struct {
		ID        primitive.ObjectID   `bson:"_id,omitempty" json:"id"`
		Name      string               `bson:"name" json:"name"`
		Members   []primitive.ObjectID `bson:"members" json:"members"`
		CreatedAt time.Time            `bson:"created_at" json:"created_at"`
	}
)

func (c *Chat) HasMember(userID primitive.ObjectID) bool {
	for _, m := range c.Members {
		if m == userID {
			return true
		}
	}
	return false
}
