package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licsrv/internal/config"
	"licsrv/pkg/contracts/events"
)

func TestCounterField(t *testing.T) {
	tests := []struct {
		name string
		ev   events.Event
		want string
	}{
		{"session", events.Event{Kind: events.KindSession}, "sessions"},
		{"activation", events.Event{Kind: events.KindActivation}, "activations"},
		{"plugin", events.Event{Kind: events.KindPluginUse, Plugin: "Exporter"}, "plugins.Exporter"},
		{"plugin with dots", events.Event{Kind: events.KindPluginUse, Plugin: "a.b$c"}, "plugins.a_b_c"},
		{"plugin without name", events.Event{Kind: events.KindPluginUse, Plugin: "  "}, "plugins.unknown"},
		{"unknown kind", events.Event{Kind: "weird"}, "other"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, counterField(tt.ev))
		})
	}
}

func TestRedisKey(t *testing.T) {
	ev := events.Event{
		Kind:       events.KindSession,
		Email:      "  Ana@Example.COM ",
		OccurredAt: time.Date(2025, 3, 1, 23, 59, 0, 0, time.FixedZone("ART", -3*3600)),
	}
	// 23:59 at UTC-3 is the next UTC day.
	assert.Equal(t, "telemetry:2025-03-02:ana@example.com", RedisKey(ev))
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewJSONHandler(&buf, nil)))

	err := sink.Record(context.Background(), events.Event{
		Kind:       events.KindPluginUse,
		Email:      "Ana@Example.com",
		Plugin:     "exporter",
		DeviceID:   "dev-1",
		OccurredAt: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "telemetry event", line["msg"])
	assert.Equal(t, "plugin", line["kind"])
	assert.Equal(t, "ana@example.com", line["email"])
	assert.Equal(t, "exporter", line["plugin"])
	assert.Equal(t, "dev-1", line["device_id"])
	assert.Equal(t, "telemetry", line["component"])
	assert.NoError(t, sink.Close(context.Background()))
}

func TestOpenSink(t *testing.T) {
	ctx := context.Background()

	s, err := OpenSink(ctx, config.TelemetryConfig{Sink: config.TelemetrySinkNone}, nil, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, "none", s.Name())

	s, err = OpenSink(ctx, config.TelemetryConfig{Sink: config.TelemetrySinkLog}, nil, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, "log", s.Name())

	s, err = OpenSink(ctx, config.TelemetryConfig{
		Sink:         config.TelemetrySinkKafka,
		KafkaBrokers: []string{"localhost:9092"},
		KafkaTopic:   "licsrv.telemetry",
	}, nil, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, "kafka", s.Name())
	assert.NoError(t, s.Close(ctx))

	_, err = OpenSink(ctx, config.TelemetryConfig{Sink: config.TelemetrySinkKafka}, nil, quietLogger())
	assert.Error(t, err)

	_, err = OpenSink(ctx, config.TelemetryConfig{Sink: "carrier-pigeon"}, nil, quietLogger())
	assert.ErrorContains(t, err, "unknown telemetry sink")
}

func TestRedisSink(t *testing.T) {
	url := os.Getenv("LICSRV_TEST_REDIS_URL")
	if url == "" {
		t.Skip("LICSRV_TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	client, err := ConnectRedis(ctx, url)
	require.NoError(t, err)
	sink := NewRedisSink(client, time.Hour)
	defer sink.Close(ctx)

	ev := events.Event{
		Kind:       events.KindPluginUse,
		Email:      "redis-test-" + time.Now().Format("150405.000") + "@example.com",
		Plugin:     "exporter",
		DeviceID:   "dev-1",
		OccurredAt: time.Now().UTC(),
	}
	key := RedisKey(ev)
	defer client.Del(ctx, key)

	require.NoError(t, sink.Record(ctx, ev))
	require.NoError(t, sink.Record(ctx, ev))

	fields, err := client.HGetAll(ctx, key).Result()
	require.NoError(t, err)
	assert.Equal(t, "2", fields["plugins.exporter"])
	assert.Equal(t, "2", fields["total_plugin_uses"])
	assert.Equal(t, "dev-1", fields["device_id"])

	ttl, err := client.TTL(ctx, key).Result()
	require.NoError(t, err)
	assert.Positive(t, ttl)
}

func TestMongoSink(t *testing.T) {
	uri := os.Getenv("LICSRV_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("LICSRV_TEST_MONGO_URI not set")
	}
	ctx := context.Background()
	dbName := "licsrv_telemetry_test_" + time.Now().Format("20060102150405")
	sink, err := DialMongoSink(ctx, uri, dbName)
	require.NoError(t, err)
	defer func() {
		_ = sink.coll.Database().Drop(ctx)
		_ = sink.Close(ctx)
	}()

	old := events.Event{Kind: events.KindSession, Email: "ana@example.com", OccurredAt: time.Now().UTC().AddDate(0, 0, -120)}
	recent := events.Event{Kind: events.KindSession, Email: "ANA@example.com", OccurredAt: time.Now().UTC()}
	require.NoError(t, sink.Record(ctx, old))
	require.NoError(t, sink.Record(ctx, recent))
	require.NoError(t, sink.Record(ctx, recent))

	n, err := sink.coll.CountDocuments(ctx, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	pruned, err := sink.Prune(ctx, time.Now().UTC().AddDate(0, 0, -90))
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)
}
