package transcript

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/troikatech/voice-bridge/pkg/otel"
)

// MongoStore is the durable transcript record: one document per call,
// utterances pushed in order as turns complete.
type MongoStore struct {
	collection *mongo.Collection
}

// NewMongoStore uses the "transcripts" collection of the given database.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{collection: db.Collection("transcripts")}
}

// Append upserts the call document and pushes the utterance.
func (s *MongoStore) Append(ctx context.Context, callSID string, u Utterance) error {
	filter := bson.M{"call_sid": callSID}
	update := bson.M{
		"$push": bson.M{"utterances": u},
		"$setOnInsert": bson.M{
			"call_sid":   callSID,
			"started_at": time.Now().UTC(),
		},
		"$set": bson.M{"updated_at": time.Now().UTC()},
	}

	return otel.WithStoreSpan(ctx, "mongodb", "transcripts", "append", func(ctx context.Context) error {
		_, err := s.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
		if err != nil {
			return fmt.Errorf("failed to append transcript to mongo: %w", err)
		}
		return nil
	})
}

// Load fetches the full conversation record for a call.
func (s *MongoStore) Load(ctx context.Context, callSID string) (*Transcript, error) {
	var t Transcript
	err := otel.WithStoreSpan(ctx, "mongodb", "transcripts", "load", func(ctx context.Context) error {
		return s.collection.FindOne(ctx, bson.M{"call_sid": callSID}).Decode(&t)
	})
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load transcript from mongo: %w", err)
	}
	return &t, nil
}

// Close stamps the call document with its end time.
func (s *MongoStore) Close(ctx context.Context, callSID string) error {
	filter := bson.M{"call_sid": callSID}
	update := bson.M{"$set": bson.M{"ended_at": time.Now().UTC()}}

	return otel.WithStoreSpan(ctx, "mongodb", "transcripts", "close", func(ctx context.Context) error {
		_, err := s.collection.UpdateOne(ctx, filter, update)
		if err != nil {
			return fmt.Errorf("failed to close transcript in mongo: %w", err)
		}
		return nil
	})
}
