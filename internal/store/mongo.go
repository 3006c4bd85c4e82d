package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/MrBlankCoding/ChannelChat/internal/config"
	"github.com/MrBlankCoding/ChannelChat/internal/domain"
)

const (
	collMessages = "messages"
	collRooms    = "rooms"
	collTokens   = "fcm_tokens"
)

// MongoStore implements Store on MongoDB. Message writes go through a
// w=1, journal=false collection handle: chat traffic trades a single node's
// view of the write for latency.
type MongoStore struct {
	client   *mongo.Client
	db       *mongo.Database
	messages *mongo.Collection // default write concern, for reads and edits
	fastPath *mongo.Collection // low-durability writes for inserts and receipts
}

func NewMongoStore(ctx context.Context, cfg config.MongoConfig) (*MongoStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	db := client.Database(cfg.Database)

	journal := false
	fastWC := &writeconcern.WriteConcern{W: 1, Journal: &journal}

	return &MongoStore{
		client:   client,
		db:       db,
		messages: db.Collection(collMessages),
		fastPath: db.Collection(collMessages, options.Collection().SetWriteConcern(fastWC)),
	}, nil
}

func (s *MongoStore) InsertMessage(ctx context.Context, msg *domain.Message) (string, error) {
	if msg.ID == "" {
		msg.ID = primitive.NewObjectID().Hex()
	}
	if _, err := s.fastPath.InsertOne(ctx, msg); err != nil {
		return "", fmt.Errorf("failed to insert message: %w", err)
	}
	return msg.ID, nil
}

func (s *MongoStore) FindMessage(ctx context.Context, id string) (*domain.Message, error) {
	var msg domain.Message
	err := s.messages.FindOne(ctx, bson.M{"_id": id}).Decode(&msg)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find message %s: %w", id, err)
	}
	return &msg, nil
}

func (s *MongoStore) UpdateMessage(ctx context.Context, id string, upd domain.MessageUpdate) error {
	set := bson.M{
		"content":    upd.Content,
		"nonce":      upd.Nonce,
		"key_epoch":  upd.KeyEpoch,
		"compressed": upd.Compressed,
		"edited":     true,
		"edited_at":  upd.EditedAt,
	}
	if upd.ReplyTo != nil {
		set["reply_to"] = upd.ReplyTo
	}

	res, err := s.messages.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to update message %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) DeleteMessage(ctx context.Context, id string) error {
	res, err := s.messages.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete message %s: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) AddReaction(ctx context.Context, id, emoji, username string) error {
	_, err := s.messages.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$addToSet": bson.M{"reactions." + emoji: username}},
	)
	if err != nil {
		return fmt.Errorf("failed to add reaction to message %s: %w", id, err)
	}
	return nil
}

func (s *MongoStore) MarkRead(ctx context.Context, roomID, userID string, messageIDs []string) (int64, error) {
	models := make([]mongo.WriteModel, 0, len(messageIDs))
	for _, id := range messageIDs {
		// Ids are object-id hex; skip anything malformed.
		if _, err := primitive.ObjectIDFromHex(id); err != nil {
			continue
		}
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": id, "room_id": roomID}).
			SetUpdate(bson.M{"$addToSet": bson.M{"read_by": userID}}))
	}
	if len(models) == 0 {
		return 0, nil
	}

	res, err := s.fastPath.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return 0, fmt.Errorf("failed to bulk-mark messages read: %w", err)
	}
	return res.ModifiedCount, nil
}

func (s *MongoStore) RecentMessages(ctx context.Context, roomID string, before time.Time, beforeID string, limit int) ([]*domain.Message, error) {
	filter := bson.M{"room_id": roomID}
	if !before.IsZero() {
		// Id tie-break keeps messages sharing the boundary timestamp from
		// being skipped between pages.
		filter["$or"] = bson.A{
			bson.M{"timestamp": bson.M{"$lt": before}},
			bson.M{"timestamp": before, "_id": bson.M{"$lt": beforeID}},
		}
	}

	history := s.db.Collection(collMessages,
		options.Collection().SetReadPreference(readpref.SecondaryPreferred()))

	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))

	cur, err := history.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages for room %s: %w", roomID, err)
	}
	defer cur.Close(ctx)

	var messages []*domain.Message
	if err := cur.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("failed to decode messages for room %s: %w", roomID, err)
	}
	return messages, nil
}

func (s *MongoStore) MemberPushTokens(ctx context.Context, roomID, excludeUserID string) ([]string, error) {
	var room struct {
		Members []string `bson:"members"`
	}
	err := s.db.Collection(collRooms).FindOne(ctx, bson.M{"_id": roomID}).Decode(&room)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find room %s: %w", roomID, err)
	}

	recipients := make([]string, 0, len(room.Members))
	for _, m := range room.Members {
		if m != excludeUserID {
			recipients = append(recipients, m)
		}
	}
	if len(recipients) == 0 {
		return nil, nil
	}

	cur, err := s.db.Collection(collTokens).Find(ctx, bson.M{"user_id": bson.M{"$in": recipients}})
	if err != nil {
		return nil, fmt.Errorf("failed to query push tokens: %w", err)
	}
	defer cur.Close(ctx)

	var tokens []string
	for cur.Next(ctx) {
		var doc struct {
			Token string `bson:"token"`
		}
		if err := cur.Decode(&doc); err != nil {
			continue
		}
		if doc.Token != "" {
			tokens = append(tokens, doc.Token)
		}
	}
	return tokens, cur.Err()
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
