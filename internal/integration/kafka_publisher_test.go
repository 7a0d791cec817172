//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/couchcryptid/loss-signal-fusion/internal/adapter/kafka"
	"github.com/couchcryptid/loss-signal-fusion/internal/config"
	"github.com/couchcryptid/loss-signal-fusion/internal/domain"
	"github.com/couchcryptid/loss-signal-fusion/internal/fusion"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testClusterTopic = "test-loss-clusters"

type publishedEvent struct {
	Event   domain.ClusterEvent
	Key     string
	Headers map[string]string
}

func readEvent(ctx context.Context, t *testing.T, consumer *kafkago.Reader) publishedEvent {
	t.Helper()
	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from cluster topic")

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	var event domain.ClusterEvent
	require.NoError(t, json.Unmarshal(msg.Value, &event), "unmarshal cluster event")
	return publishedEvent{Event: event, Key: string(msg.Key), Headers: headers}
}

// TestFusionPassPublishesClusterEvents runs fusion against Postgres with a
// real Kafka publisher and reads the change events back.
func TestFusionPassPublishesClusterEvents(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	db := startPostgres(ctx, t)
	broker := startKafka(ctx, t)
	createTopic(t, broker, testClusterTopic)

	publisher := kafka.NewPublisher(&config.Config{
		KafkaBrokers:      []string{broker},
		KafkaClusterTopic: testClusterTopic,
	}, discardLogger())
	t.Cleanup(func() { _ = publisher.Close() })

	require.NoError(t, db.InsertSignals(ctx,
		testSignal("fire-wx", domain.EventFire, domain.SourceWeather, 34.05, -118.25, baseTime),
		testSignal("fire-fd", domain.EventFire, domain.SourceFireReport, 34.06, -118.25, baseTime.Add(time.Hour)),
	))
	engine := newEngine(db, fusion.WithPublisher(publisher))
	res, err := engine.RunPass(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.ClustersCreated)

	require.NoError(t, db.InsertSignals(ctx,
		testSignal("fire-cad", domain.EventFire, domain.SourceCAD, 34.05, -118.25, baseTime.Add(2*time.Hour)),
	))
	res, err = engine.RunPass(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.ClustersUpdated)

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testClusterTopic,
		GroupID:     fmt.Sprintf("test-consumer-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	created := readEvent(ctx, t, consumer)
	assert.Equal(t, "created", created.Headers["action"])
	assert.Equal(t, "Fire", created.Headers["event_type"])
	_, err = time.Parse(time.RFC3339, created.Headers["occurred_at"])
	assert.NoError(t, err, "occurred_at should be valid RFC3339")
	assert.Equal(t, created.Event.Cluster.ID, created.Key)
	assert.Equal(t, []string{"fire-wx", "fire-fd"}, created.Event.Linked)
	assert.Equal(t, 65, created.Event.Cluster.ConfidenceScore)

	updated := readEvent(ctx, t, consumer)
	assert.Equal(t, "updated", updated.Headers["action"])
	assert.Equal(t, created.Key, updated.Key, "changes to one cluster share a key")
	assert.Equal(t, []string{"fire-cad"}, updated.Event.Linked)
	assert.Equal(t, 85, updated.Event.Cluster.ConfidenceScore)
	assert.Equal(t, domain.StatusReported, updated.Event.Cluster.VerificationStatus)
}
