package message

import (
	"context"
	"errors"
	"group_chat/internal/model"
	"group_chat/internal/repository"
	"slices"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type (
	MessageRepo struct {
		collection *mongo.Collection
	}
)

func NewMessageRepo(db *mongo.Database) *MessageRepo {
	return &MessageRepo{
		collection: db.Collection("messages"),
	}
}

func (r *MessageRepo) Create(ctx context.Context, chatID, userID string, content []byte) (*model.Message, error) {
	cid, ok := repository.ParseID(chatID)
	if !ok {
		return nil, errors.New("invalid chat id")
	}
	uid, ok := repository.ParseID(userID)
	if !ok {
		return nil, errors.New("invalid user id")
	}

	msg := &model.Message{
		ChatID:    cid,
		UserID:    uid,
		Content:   content,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}

	res, err := r.collection.InsertOne(ctx, msg)
	if err != nil {
		return nil, err
	}
	msg.ID = res.InsertedID.(primitive.ObjectID)
	return msg, nil
}

// Get returns nil, nil when the message does not exist.
func (r *MessageRepo) Get(ctx context.Context, id string) (*model.Message, error) {
	oid, ok := repository.ParseID(id)
	if !ok {
		return nil, nil
	}

	var msg model.Message
	err := r.collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&msg)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListForChat returns the newest count messages older than fromID (when
// set), in chronological order.
func (r *MessageRepo) ListForChat(ctx context.Context, chatID string, count int, pinnedOnly bool, fromID string) ([]*model.Message, error) {
	cid, ok := repository.ParseID(chatID)
	if !ok {
		return nil, nil
	}

	filter := bson.M{"chat_id": cid}
	if pinnedOnly {
		filter["pinned"] = true
	}
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

	var msgs []*model.Message
	if err := cur.All(ctx, &msgs); err != nil {
		return nil, err
	}
	slices.Reverse(msgs)
	return msgs, nil
}

// TogglePin flips the pinned flag and returns the updated message, or nil
// when it does not exist.
func (r *MessageRepo) TogglePin(ctx context.Context, id string) (*model.Message, error) {
	oid, ok := repository.ParseID(id)
	if !ok {
		return nil, nil
	}

	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{"pinned": bson.M{"$not": bson.A{"$pinned"}}}}},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var msg model.Message
	err := r.collection.FindOneAndUpdate(ctx, bson.M{"_id": oid}, update, opts).Decode(&msg)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}
