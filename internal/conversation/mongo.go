package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/wuwenbin0122/wwb.chat/internal/models"
)

// MongoStore keeps one document per (user_id, persona_id) with the messages
// embedded as an array.
type MongoStore struct {
	coll  *mongo.Collection
	clock clock
}

func NewMongoStore(coll *mongo.Collection) *MongoStore {
	return &MongoStore{coll: coll}
}

func (s *MongoStore) SetClock(now func() time.Time) {
	s.clock = now
}

func keyFilter(key Key) bson.D {
	return bson.D{{Key: "user_id", Value: key.UserID}, {Key: "persona_id", Value: key.PersonaID}}
}

func (s *MongoStore) Get(ctx context.Context, key Key) ([]models.Message, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	var doc models.Conversation
	opts := options.FindOne().SetProjection(bson.D{{Key: "messages", Value: 1}})
	if err := s.coll.FindOne(ctx, keyFilter(key), opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return []models.Message{}, nil
		}
		return nil, fmt.Errorf("mongo find conversation: %w", err)
	}

	if doc.Messages == nil {
		return []models.Message{}, nil
	}
	return doc.Messages, nil
}

// Append pushes all messages with a single upserting update.
func (s *MongoStore) Append(ctx context.Context, key Key, messages []models.Message) error {
	if err := key.Validate(); err != nil {
		return err
	}

	now := s.clock.now()
	update := bson.D{
		{Key: "$push", Value: bson.D{{Key: "messages", Value: bson.D{{Key: "$each", Value: messages}}}}},
		{Key: "$inc", Value: bson.D{{Key: "message_count", Value: len(messages)}}},
		{Key: "$set", Value: bson.D{{Key: "updated_at", Value: now}}},
		{Key: "$setOnInsert", Value: bson.D{{Key: "_id", Value: uuid.NewString()}, {Key: "created_at", Value: now}}},
	}
	opts := options.Update().SetUpsert(true)

	_, err := s.coll.UpdateOne(ctx, keyFilter(key), update, opts)
	if mongo.IsDuplicateKeyError(err) {
		// Lost the insert race to a concurrent first turn; the document exists now.
		_, err = s.coll.UpdateOne(ctx, keyFilter(key), update, opts)
	}
	if err != nil {
		return fmt.Errorf("mongo append conversation: %w", err)
	}
	return nil
}

func (s *MongoStore) Reset(ctx context.Context, key Key) error {
	if err := key.Validate(); err != nil {
		return err
	}

	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "messages", Value: bson.A{}},
		{Key: "message_count", Value: 0},
		{Key: "updated_at", Value: s.clock.now()},
	}}}
	if _, err := s.coll.UpdateOne(ctx, keyFilter(key), update); err != nil {
		return fmt.Errorf("mongo reset conversation: %w", err)
	}
	return nil
}

func (s *MongoStore) List(ctx context.Context, userID string) ([]models.Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}})
	cursor, err := s.coll.Find(ctx, bson.D{{Key: "user_id", Value: userID}}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo list conversations: %w", err)
	}
	defer cursor.Close(ctx)

	result := make([]models.Conversation, 0)
	if err := cursor.All(ctx, &result); err != nil {
		return nil, fmt.Errorf("mongo decode conversations: %w", err)
	}
	return result, nil
}
