package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoConfig struct {
	URI            string
	Database       string
	Collection     string
	ConnectTimeout time.Duration
}

// MongoStore keeps videos in a MongoDB collection keyed by ObjectID.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

var _ Store = (*MongoStore)(nil)

type videoDocument struct {
	ID   primitive.ObjectID `bson:"_id"`
	Name string             `bson:"name"`
}

func (d videoDocument) video() Video {
	return Video{ID: d.ID.Hex(), Name: d.Name}
}

// OpenMongo connects and pings the server. The driver reconnects on its own
// after transient outages; Close releases the pool.
func OpenMongo(ctx context.Context, cfg MongoConfig) (*MongoStore, error) {
	if cfg.Collection == "" {
		cfg.Collection = "videos"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	opts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetServerSelectionTimeout(cfg.ConnectTimeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	return &MongoStore{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
	}, nil
}

func (s *MongoStore) List(ctx context.Context) ([]Video, error) {
	cur, err := s.collection.Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("find videos: %w", err)
	}
	defer cur.Close(ctx) //nolint:errcheck

	var docs []videoDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode videos: %w", err)
	}

	videos := make([]Video, 0, len(docs))
	for _, d := range docs {
		videos = append(videos, d.video())
	}
	return videos, nil
}

func (s *MongoStore) Get(ctx context.Context, id string) (Video, bool, error) {
	oid, err := ParseID(id)
	if err != nil {
		return Video{}, false, nil
	}

	var doc videoDocument
	err = s.collection.FindOne(ctx, bson.D{{Key: "_id", Value: oid}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Video{}, false, nil
	}
	if err != nil {
		return Video{}, false, fmt.Errorf("find video %s: %w", id, err)
	}
	return doc.video(), true, nil
}

// Upsert writes the name only on insert, so replays never change an
// existing record.
func (s *MongoStore) Upsert(ctx context.Context, v Video) (bool, error) {
	oid, err := ParseID(v.ID)
	if err != nil {
		return false, err
	}

	res, err := s.collection.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: oid}},
		bson.D{{Key: "$setOnInsert", Value: bson.D{{Key: "name", Value: v.Name}}}},
		options.Update().SetUpsert(true),
	)
	if mongo.IsDuplicateKeyError(err) {
		// a concurrent writer inserted the same id first
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("upsert video %s: %w", v.ID, err)
	}
	return res.UpsertedCount > 0, nil
}

// Close disconnects from the server.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
