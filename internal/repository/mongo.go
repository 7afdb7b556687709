package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/darkodi/snaplink/internal/model"
)

const linkCollection = "urls"

// MongoStore keeps links as documents in the "urls" collection
type MongoStore struct {
	client *mongo.Client
	links  *mongo.Collection
}

// NewMongoStore connects to uri and ensures the collection indexes
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	store := &MongoStore{
		client: client,
		links:  client.Database(database).Collection(linkCollection),
	}
	if err := store.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return store, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.links.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "shortId", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "machineId", Value: 1}, {Key: "createdAt", Value: -1}},
		},
	})
	if err != nil {
		return fmt.Errorf("create link indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) Create(ctx context.Context, link *model.Link) error {
	if _, err := s.links.InsertOne(ctx, link); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateShortID
		}
		return fmt.Errorf("insert link: %w", err)
	}
	return nil
}

func (s *MongoStore) GetByShortID(ctx context.Context, shortID string) (*model.Link, error) {
	return s.findOne(ctx, bson.D{{Key: "shortId", Value: shortID}})
}

func (s *MongoStore) FindByURLAndMachine(ctx context.Context, originalURL, machineID string) (*model.Link, error) {
	return s.findOne(ctx, bson.D{
		{Key: "originalUrl", Value: originalURL},
		{Key: "machineId", Value: machineID},
	})
}

func (s *MongoStore) ListByMachine(ctx context.Context, machineID string) ([]model.Link, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})

	cursor, err := s.links.Find(ctx, bson.D{{Key: "machineId", Value: machineID}}, opts)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}

	links := []model.Link{}
	if err := cursor.All(ctx, &links); err != nil {
		return nil, fmt.Errorf("decode links: %w", err)
	}
	for i := range links {
		normalize(&links[i])
	}
	return links, nil
}

// RecordVisit is a single findOneAndUpdate returning the post-update document
func (s *MongoStore) RecordVisit(ctx context.Context, shortID string, at time.Time) (*model.Link, error) {
	update := bson.D{
		{Key: "$inc", Value: bson.D{{Key: "visitCount", Value: 1}}},
		{Key: "$set", Value: bson.D{{Key: "lastVisited", Value: at.UTC()}}},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var link model.Link
	err := s.links.FindOneAndUpdate(ctx, bson.D{{Key: "shortId", Value: shortID}}, update, opts).Decode(&link)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("record visit: %w", err)
	}
	normalize(&link)
	return &link, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) findOne(ctx context.Context, filter bson.D) (*model.Link, error) {
	var link model.Link
	err := s.links.FindOne(ctx, filter).Decode(&link)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find link: %w", err)
	}
	normalize(&link)
	return &link, nil
}

// normalize puts decoded BSON dates in UTC
func normalize(link *model.Link) {
	link.CreatedAt = link.CreatedAt.UTC()
	if link.LastVisited != nil {
		t := link.LastVisited.UTC()
		link.LastVisited = &t
	}
}
