// Package mongo adapts MongoDB to the document store interface. Documents
// are kept under an envelope {_id, rev, doc}; rev backs the optimistic
// retry inside AtomicUpdate.
package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/palengke/marketplace/internal/store"
)

// maxConflictRetries bounds the optimistic-concurrency loop inside
// AtomicUpdate. Exhaustion surfaces as a transient error so the caller's
// retry policy takes over.
const maxConflictRetries = 10

type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

var _ store.Store = (*Store)(nil)

// Connect dials MongoDB and returns a store backed by the named database.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}
	return &Store{client: client, db: client.Database(database)}, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

type envelope struct {
	Key string `bson:"_id"`
	Rev int64  `bson:"rev"`
	Doc bson.M `bson:"doc"`
}

func (s *Store) Get(ctx context.Context, collection, key string) (json.RawMessage, error) {
	var env envelope
	err := s.db.Collection(collection).FindOne(ctx, bson.M{"_id": key}).Decode(&env)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, store.Transient(err)
	}
	return toJSON(env.Doc)
}

func (s *Store) Put(ctx context.Context, collection, key string, doc json.RawMessage) error {
	body, err := toBSON(doc)
	if err != nil {
		return err
	}
	_, err = s.db.Collection(collection).UpdateOne(ctx,
		bson.M{"_id": key},
		bson.M{"$set": bson.M{"doc": body}, "$inc": bson.M{"rev": 1}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return store.Transient(err)
	}
	return nil
}

func (s *Store) AtomicUpdate(ctx context.Context, collection, key string, fn store.UpdateFunc) error {
	col := s.db.Collection(collection)

	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		var env envelope
		exists := true
		err := col.FindOne(ctx, bson.M{"_id": key}).Decode(&env)
		if errors.Is(err, mongo.ErrNoDocuments) {
			exists = false
		} else if err != nil {
			return store.Transient(err)
		}

		var current json.RawMessage
		if exists {
			if current, err = toJSON(env.Doc); err != nil {
				return err
			}
		}

		next, err := fn(current)
		if err != nil {
			if errors.Is(err, store.ErrUnchanged) {
				return nil
			}
			return err
		}
		body, err := toBSON(next)
		if err != nil {
			return err
		}

		if exists {
			res, err := col.UpdateOne(ctx,
				bson.M{"_id": key, "rev": env.Rev},
				bson.M{"$set": bson.M{"doc": body}, "$inc": bson.M{"rev": 1}},
			)
			if err != nil {
				return store.Transient(err)
			}
			if res.ModifiedCount == 1 {
				return nil
			}
			// lost the race, re-read and re-apply
			continue
		}

		_, err = col.InsertOne(ctx, bson.M{"_id": key, "rev": int64(1), "doc": body})
		if err == nil {
			return nil
		}
		if mongo.IsDuplicateKeyError(err) {
			continue
		}
		return store.Transient(err)
	}

	return store.Transient(fmt.Errorf("atomic update on %s/%s: too many concurrent writers", collection, key))
}

func (s *Store) BatchWrite(ctx context.Context, writes []store.Write) error {
	if len(writes) > store.MaxBatchSize {
		return store.ErrBatchTooLarge
	}

	models := make(map[string][]mongo.WriteModel)
	for _, w := range writes {
		if w.Doc == nil {
			models[w.Collection] = append(models[w.Collection],
				mongo.NewDeleteOneModel().SetFilter(bson.M{"_id": w.Key}))
			continue
		}
		body, err := toBSON(w.Doc)
		if err != nil {
			return err
		}
		models[w.Collection] = append(models[w.Collection],
			mongo.NewUpdateOneModel().
				SetFilter(bson.M{"_id": w.Key}).
				SetUpdate(bson.M{"$set": bson.M{"doc": body}, "$inc": bson.M{"rev": 1}}).
				SetUpsert(true))
	}

	for collection, batch := range models {
		if _, err := s.db.Collection(collection).BulkWrite(ctx, batch); err != nil {
			return store.Transient(err)
		}
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, key string) error {
	if _, err := s.db.Collection(collection).DeleteOne(ctx, bson.M{"_id": key}); err != nil {
		return store.Transient(err)
	}
	return nil
}

func toBSON(doc json.RawMessage) (bson.M, error) {
	var body bson.M
	if err := bson.UnmarshalExtJSON(doc, false, &body); err != nil {
		return nil, fmt.Errorf("failed to convert document to bson: %w", err)
	}
	return body, nil
}

func toJSON(body bson.M) (json.RawMessage, error) {
	raw, err := bson.MarshalExtJSON(body, false, false)
	if err != nil {
		return nil, fmt.Errorf("failed to convert document to json: %w", err)
	}
	return raw, nil
}
