package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"licsrv/pkg/contracts/events"
)

// DefaultDailyStatsCollection holds one document per email per UTC day.
const DefaultDailyStatsCollection = "daily_stats"

// MongoSink aggregates events into per-day counter documents with upserts.
type MongoSink struct {
	client *mongo.Client // set only when the sink owns the connection
	coll   *mongo.Collection
}

// DialMongoSink connects to uri and opens the sink on database dbName.
func DialMongoSink(ctx context.Context, uri, dbName string) (*MongoSink, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	s, err := NewMongoSink(ctx, client.Database(dbName))
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	s.client = client
	return s, nil
}

// NewMongoSink opens the sink on an existing database handle, typically the
// one shared with the Mongo license store.
func NewMongoSink(ctx context.Context, db *mongo.Database) (*MongoSink, error) {
	coll := db.Collection(DefaultDailyStatsCollection)
	_, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "email", Value: 1},
				{Key: "day", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "day", Value: 1}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create telemetry indexes: %w", err)
	}
	return &MongoSink{coll: coll}, nil
}

func (s *MongoSink) Name() string { return "mongo" }

func (s *MongoSink) Record(ctx context.Context, ev events.Event) error {
	inc := bson.M{counterField(ev): 1}
	if ev.Kind == events.KindPluginUse {
		inc["total_plugin_uses"] = 1
	}
	set := bson.M{"last_activity": ev.OccurredAt}
	if ev.DeviceID != "" {
		set["device_id"] = ev.DeviceID
	}

	_, err := s.coll.UpdateOne(ctx,
		bson.M{"email": ev.NormalizedEmail(), "day": ev.Day()},
		bson.M{"$inc": inc, "$set": set},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upsert daily stats: %w", err)
	}
	return nil
}

// Prune deletes daily documents older than before.
func (s *MongoSink) Prune(ctx context.Context, before time.Time) (int, error) {
	res, err := s.coll.DeleteMany(ctx, bson.M{"day": bson.M{"$lt": before}})
	if err != nil {
		return 0, fmt.Errorf("prune daily stats: %w", err)
	}
	return int(res.DeletedCount), nil
}

func (s *MongoSink) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}
