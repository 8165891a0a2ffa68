package cas

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// blobDocument is the document shape stored per digest.
type blobDocument struct {
	Digest string `bson:"digest"`
	Data   []byte `bson:"data"`
}

// MongoStore is an object-store-backed CAS, for deployments that want the
// payload blobs to live alongside their metastore instead of on local disk.
type MongoStore struct {
	collection *mongo.Collection
}

// NewMongoStore connects to uri and returns a MongoStore backed by
// database.collection, creating a unique index on digest so a racing insert of
// the same content is rejected rather than duplicated.
func NewMongoStore(ctx context.Context, uri, database, collection string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("cas: connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("cas: ping mongo: %w", err)
	}

	coll := client.Database(database).Collection(collection)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "digest", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, fmt.Errorf("cas: create digest index: %w", err)
	}

	return &MongoStore{collection: coll}, nil
}

// Put computes the sha256 of data and inserts it if absent. A duplicate-key
// error from the unique digest index is treated as alreadyExisted, the same
// idempotent-write contract LocalStore gives via atomic rename.
func (s *MongoStore) Put(ctx context.Context, data []byte) (string, bool, error) {
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])

	exists, err := s.Exists(ctx, digest)
	if err != nil {
		return "", false, err
	}
	if exists {
		return digest, true, nil
	}

	_, err = s.collection.InsertOne(ctx, blobDocument{Digest: digest, Data: data})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return digest, true, nil
		}
		return "", false, fmt.Errorf("cas: insert blob: %w", err)
	}
	return digest, false, nil
}

// Get retrieves a blob by digest, or ErrNotFound.
func (s *MongoStore) Get(ctx context.Context, digest string) ([]byte, error) {
	var doc blobDocument
	err := s.collection.FindOne(ctx, bson.M{"digest": digest}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cas: find blob %s: %w", digest, err)
	}
	return doc.Data, nil
}

// Exists reports whether digest's blob is already stored.
func (s *MongoStore) Exists(ctx context.Context, digest string) (bool, error) {
	count, err := s.collection.CountDocuments(ctx, bson.M{"digest": digest}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("cas: count blob %s: %w", digest, err)
	}
	return count > 0, nil
}
