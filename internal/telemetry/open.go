package telemetry

import (
	"context"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/v2/mongo"

	"licsrv/internal/config"
)

// OpenSink creates the sink selected by cfg.Sink. When the license store runs
// on MongoDB its database handle is passed as shared and reused by the mongo
// sink unless cfg names its own URI.
func OpenSink(ctx context.Context, cfg config.TelemetryConfig, shared *mongo.Database, logger *slog.Logger) (Sink, error) {
	switch cfg.Sink {
	case config.TelemetrySinkNone:
		return NopSink{}, nil
	case config.TelemetrySinkLog, "":
		return NewLogSink(logger), nil
	case config.TelemetrySinkMongo:
		if cfg.MongoURI == "" && shared != nil {
			return NewMongoSink(ctx, shared)
		}
		return DialMongoSink(ctx, cfg.MongoURI, cfg.MongoDatabase)
	case config.TelemetrySinkRedis:
		client, err := ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return NewRedisSink(client, cfg.RedisTTL), nil
	case config.TelemetrySinkKafka:
		return NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
	default:
		return nil, fmt.Errorf("unknown telemetry sink %q", cfg.Sink)
	}
}
