package chat

import (
	"context"
	"errors"
	"group_chat/internal/model"
	"group_chat/internal/repository"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var ErrChatNotFound = errors.New("chat not found")

type (
	ChatRepo struct {
		collection *mongo.Collection
	}
)

func NewChatRepo(db *mongo.Database) *ChatRepo {
	return &ChatRepo{
		collection: db.Collection("chats"),
	}
}

func (r *ChatRepo) Create(ctx context.Context, chat *model.Chat) (primitive.ObjectID, error) {
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = time.Now().UTC()
	}
	if chat.Members == nil {
		chat.Members = []primitive.ObjectID{}
	}

	res, err := r.collection.InsertOne(ctx, chat)
	if err != nil {
		return primitive.NilObjectID, err
	}

	id := res.InsertedID.(primitive.ObjectID)
	chat.ID = id
	return id, nil
}

// Get returns nil, nil when the chat does not exist.
func (r *ChatRepo) Get(ctx context.Context, chatID string) (*model.Chat, error) {
	oid, ok := repository.ParseID(chatID)
	if !ok {
		return nil, nil
	}

	var chat model.Chat
	err := r.collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&chat)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

func (r *ChatRepo) IsMember(ctx context.Context, userID, chatID string) (bool, error) {
	uid, ok := repository.ParseID(userID)
	if !ok {
		return false, nil
	}
	cid, ok := repository.ParseID(chatID)
	if !ok {
		return false, nil
	}

	n, err := r.collection.CountDocuments(ctx, bson.M{"_id": cid, "members": uid}, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MembersOf returns the member ids of a chat, or nil for an unknown chat.
func (r *ChatRepo) MembersOf(ctx context.Context, chatID string) ([]string, error) {
	chat, err := r.Get(ctx, chatID)
	if err != nil || chat == nil {
		return nil, err
	}
	return repository.Hex(chat.Members), nil
}

// ListForUser returns up to count chats the user belongs to, newest first,
// starting strictly after fromID when it is set.
func (r *ChatRepo) ListForUser(ctx context.Context, userID string, count int, fromID string) ([]*model.Chat, error) {
	uid, ok := repository.ParseID(userID)
	if !ok {
		return nil, nil
	}

	filter := bson.M{"members": uid}
	if from, ok := repository.ParseID(fromID); ok {
		filter["_id"] = bson.M{"$lt": from}
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: -1}}).
		SetLimit(int64(count))

	cur, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}

	var chats []*model.Chat
	if err := cur.All(ctx, &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

func (r *ChatRepo) AddMember(ctx context.Context, chatID, userID string) error {
	return r.updateMembers(ctx, chatID, userID, "$addToSet")
}

func (r *ChatRepo) RemoveMember(ctx context.Context, chatID, userID string) error {
	return r.updateMembers(ctx, chatID, userID, "$pull")
}

func (r *ChatRepo) updateMembers(ctx context.Context, chatID, userID, op string) error {
	cid, ok := repository.ParseID(chatID)
	if !ok {
		return ErrChatNotFound
	}
	uid, ok := repository.ParseID(userID)
	if !ok {
		return errors.New("invalid user id")
	}

	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": cid}, bson.M{op: bson.M{"members": uid}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrChatNotFound
	}
	return nil
}
