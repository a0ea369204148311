package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoBackend keeps documents in a "documents" collection and locks in a
// "locks" collection whose TTL index reaps abandoned leases.
type MongoBackend struct {
	uri    string
	dbName string

	client    *mongo.Client
	documents *mongo.Collection
	locks     *mongo.Collection
}

type mongoDocument struct {
	ID        string    `bson:"_id"`
	Data      string    `bson:"data"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// NewMongoBackend creates a MongoDB storage backend
func NewMongoBackend(uri, dbName string) *MongoBackend {
	if dbName == "" {
		dbName = "grok2api"
	}
	return &MongoBackend{uri: uri, dbName: dbName}
}

func (m *MongoBackend) Name() string { return "mongodb" }

// Initialize connects and creates indexes.
func (m *MongoBackend) Initialize(ctx context.Context) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	clientOptions := options.Client().ApplyURI(m.uri)
	clientOptions.SetMaxPoolSize(10)
	clientOptions.SetServerSelectionTimeout(5 * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(m.dbName)
	m.client = client
	m.documents = db.Collection("documents")
	m.locks = db.Collection("locks")

	if _, err := m.locks.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	}); err != nil {
		return fmt.Errorf("failed to create lock TTL index: %w", err)
	}
	return nil
}

// Close closes MongoDB connection
func (m *MongoBackend) Close() error {
	if m.client != nil {
		return m.client.Disconnect(context.Background())
	}
	return nil
}

func (m *MongoBackend) Health(ctx context.Context) error {
	if m.client == nil {
		return errors.New("mongodb: not initialized")
	}
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	return m.client.Ping(ctx, nil)
}

func (m *MongoBackend) LoadTokens(ctx context.Context) (Document, error) {
	data, err := m.load(ctx, TokensDocument)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Document{}, nil
		}
		return nil, err
	}
	return decodeDocument(data)
}

func (m *MongoBackend) SaveTokens(ctx context.Context, doc Document) error {
	data, err := encodeDocument(doc)
	if err != nil {
		return err
	}
	return m.save(ctx, TokensDocument, data)
}

func (m *MongoBackend) LoadState(ctx context.Context, name string) ([]byte, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	return m.load(ctx, "state:"+name)
}

func (m *MongoBackend) SaveState(ctx context.Context, name string, data []byte) error {
	if err := validateName(name); err != nil {
		return err
	}
	return m.save(ctx, "state:"+name, data)
}

// WithLock inserts a lease document keyed by name. An expired lease left by a
// crashed holder is taken over before the TTL monitor gets to it.
func (m *MongoBackend) WithLock(ctx context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	if err := validateName(name); err != nil {
		return err
	}
	if m.locks == nil {
		return errors.New("mongodb: not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	owner := uuid.NewString()
	lease := timeout + 30*time.Second

	err := pollLock(ctx, name, timeout, func() (bool, error) {
		now := time.Now().UTC()
		_, err := m.locks.InsertOne(ctx, bson.M{"_id": name, "owner": owner, "expires_at": now.Add(lease)})
		if err == nil {
			return true, nil
		}
		if !mongo.IsDuplicateKeyError(err) {
			return false, fmt.Errorf("mongodb lock: %w", err)
		}
		res, err := m.locks.UpdateOne(ctx,
			bson.M{"_id": name, "expires_at": bson.M{"$lt": now}},
			bson.M{"$set": bson.M{"owner": owner, "expires_at": now.Add(lease)}},
		)
		if err != nil {
			return false, fmt.Errorf("mongodb lock takeover: %w", err)
		}
		return res.ModifiedCount == 1, nil
	})
	if err != nil {
		return err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_, _ = m.locks.DeleteOne(releaseCtx, bson.M{"_id": name, "owner": owner})
	}()
	return fn(ctx)
}

func (m *MongoBackend) load(ctx context.Context, id string) ([]byte, error) {
	if m.documents == nil {
		return nil, errors.New("mongodb: not initialized")
	}
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	var doc mongoDocument
	if err := m.documents.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load %s: %w", id, err)
	}
	return []byte(doc.Data), nil
}

func (m *MongoBackend) save(ctx context.Context, id string, data []byte) error {
	if m.documents == nil {
		return errors.New("mongodb: not initialized")
	}
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	_, err := m.documents.ReplaceOne(ctx,
		bson.M{"_id": id},
		mongoDocument{ID: id, Data: string(data), UpdatedAt: time.Now().UTC()},
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("save %s: %w", id, err)
	}
	return nil
}
