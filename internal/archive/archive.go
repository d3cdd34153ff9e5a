// Package archive keeps a raw, append-only copy of provider callbacks and
// tenant deliveries in MongoDB for dispute handling.
package archive

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	KindProviderCallback = "provider_callback"
	KindDelivery         = "delivery"

	collectionName = "callback_log"
)

// Entry is one archived exchange.
type Entry struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Kind          string             `bson:"kind" json:"kind"`
	Provider      string             `bson:"provider,omitempty" json:"provider,omitempty"`
	TransactionID string             `bson:"transaction_id" json:"transaction_id"`
	Method        string             `bson:"method,omitempty" json:"method,omitempty"`
	URL           string             `bson:"url,omitempty" json:"url,omitempty"`
	Headers       map[string]string  `bson:"headers,omitempty" json:"headers,omitempty"`
	Body          string             `bson:"body,omitempty" json:"body,omitempty"`
	RemoteAddr    string             `bson:"remote_addr,omitempty" json:"remote_addr,omitempty"`
	StatusCode    int                `bson:"status_code,omitempty" json:"status_code,omitempty"`
	Outcome       string             `bson:"outcome,omitempty" json:"outcome,omitempty"`
	CreatedAt     time.Time          `bson:"created_at" json:"created_at"`
}

// Archive stores and lists raw exchanges.
type Archive interface {
	Record(ctx context.Context, e Entry) error
	ListByTransaction(ctx context.Context, transactionID string, limit int64) ([]Entry, error)
	Ping(ctx context.Context) error
}

// Connect opens a MongoDB client and verifies it with a primary ping.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

type MongoArchive struct {
	client *mongo.Client
	coll   *mongo.Collection
}

func NewMongoArchive(client *mongo.Client, database string) *MongoArchive {
	return &MongoArchive{client: client, coll: client.Database(database).Collection(collectionName)}
}

// EnsureIndexes creates the lookup indexes of the archive collection.
func (a *MongoArchive) EnsureIndexes(ctx context.Context) error {
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "transaction_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "kind", Value: 1}, {Key: "created_at", Value: -1}}},
	}
	if _, err := a.coll.Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("create archive indexes: %w", err)
	}
	return nil
}

func (a *MongoArchive) Record(ctx context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := a.coll.InsertOne(ctx, e); err != nil {
		return fmt.Errorf("archive %s: %w", e.Kind, err)
	}
	return nil
}

func (a *MongoArchive) ListByTransaction(ctx context.Context, transactionID string, limit int64) ([]Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(limit)
	cur, err := a.coll.Find(ctx, bson.M{"transaction_id": transactionID}, opts)
	if err != nil {
		return nil, fmt.Errorf("find archive entries: %w", err)
	}
	defer cur.Close(ctx)

	entries := []Entry{}
	if err := cur.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("decode archive entries: %w", err)
	}
	return entries, nil
}

func (a *MongoArchive) Ping(ctx context.Context) error {
	return a.client.Ping(ctx, readpref.Primary())
}

// Nop discards entries. It is used when no MongoDB URL is configured.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }

func (Nop) ListByTransaction(context.Context, string, int64) ([]Entry, error) {
	return []Entry{}, nil
}

func (Nop) Ping(context.Context) error { return nil }

// Memory keeps entries in process. Tests use it in place of MongoDB.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
}

func (m *Memory) Record(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *Memory) ListByTransaction(_ context.Context, transactionID string, limit int64) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Entry{}
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].TransactionID != transactionID {
			continue
		}
		out = append(out, m.entries[i])
		if limit > 0 && int64(len(out)) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) Ping(context.Context) error { return nil }
