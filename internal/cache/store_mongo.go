package cache

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/BMH-cyber/music/internal/domain"
)

type resolutionDoc struct {
	Key        string `bson:"_id"`
	Title      string `bson:"title"`
	SourceURL  string `bson:"sourceUrl"`
	SourceID   string `bson:"sourceId"`
	Provider   string `bson:"provider,omitempty"`
	DurationMS int64  `bson:"durationMs,omitempty"`
	CreatedAt  int64  `bson:"createdAt"`
}

// MongoStore keeps one document per cache key.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// ConnectMongo opens a client for uri. Extra options (for example an
// otelmongo monitor) are applied after the URI.
func ConnectMongo(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, extra...)
	return mongo.Connect(ctx, opts...)
}

func NewMongoStore(client *mongo.Client, dbName, collection string) *MongoStore {
	return &MongoStore{
		client:     client,
		collection: client.Database(dbName).Collection(collection),
	}
}

func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "createdAt", Value: -1}},
	})
	return err
}

func (s *MongoStore) Load(ctx context.Context) ([]domain.CacheEntry, error) {
	cursor, err := s.collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("find resolutions: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []resolutionDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode resolutions: %w", err)
	}
	items := make([]domain.CacheEntry, 0, len(docs))
	for _, doc := range docs {
		items = append(items, fromDoc(doc))
	}
	return items, nil
}

func (s *MongoStore) Save(ctx context.Context, entry domain.CacheEntry) error {
	doc := toDoc(entry)
	_, err := s.collection.ReplaceOne(ctx, bson.M{"_id": doc.Key}, doc, options.Replace().SetUpsert(true))
	return err
}

func (s *MongoStore) Delete(ctx context.Context, key string) error {
	_, err := s.collection.DeleteOne(ctx, bson.M{"_id": key})
	return err
}

func (s *MongoStore) Clear(ctx context.Context) error {
	_, err := s.collection.DeleteMany(ctx, bson.M{})
	return err
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func toDoc(entry domain.CacheEntry) resolutionDoc {
	return resolutionDoc{
		Key:        entry.Key,
		Title:      entry.Value.Title,
		SourceURL:  entry.Value.SourceURL,
		SourceID:   entry.Value.SourceID,
		Provider:   entry.Value.Provider,
		DurationMS: entry.Value.Duration.Milliseconds(),
		CreatedAt:  entry.CreatedAt.UnixMilli(),
	}
}

func fromDoc(doc resolutionDoc) domain.CacheEntry {
	createdAt := time.UnixMilli(doc.CreatedAt).UTC()
	return domain.CacheEntry{
		Key: doc.Key,
		Value: domain.MediaReference{
			Title:        doc.Title,
			SourceURL:    doc.SourceURL,
			SourceID:     doc.SourceID,
			Provider:     doc.Provider,
			Duration:     time.Duration(doc.DurationMS) * time.Millisecond,
			DiscoveredAt: createdAt,
		},
		CreatedAt: createdAt,
	}
}
