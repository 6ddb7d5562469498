//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/civicfix-service/internal/adapter/kafka"
	mongoadapter "github.com/couchcryptid/civicfix-service/internal/adapter/mongo"
	redisadapter "github.com/couchcryptid/civicfix-service/internal/adapter/redis"
	"github.com/couchcryptid/civicfix-service/internal/config"
	"github.com/couchcryptid/civicfix-service/internal/domain"
	"github.com/couchcryptid/civicfix-service/internal/events"
	"github.com/couchcryptid/civicfix-service/internal/observability"
	"github.com/couchcryptid/civicfix-service/internal/offline"
)

func TestGridFSAssets(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	client, err := mongoadapter.Connect(ctx, startMongo(ctx, t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	assets, err := mongoadapter.NewGridFSAssets(client.Database("civicfix_test"), "/assets")
	require.NoError(t, err)

	photo := domain.Attachment{Name: "pothole.jpg", ContentType: "image/jpeg", Data: []byte{0xff, 0xd8, 0xff}}
	stored, err := assets.Upload(ctx, "issue-images/citizen-1/1772355600000-pothole.jpg", photo)
	require.NoError(t, err)
	assert.Equal(t, "/assets/"+stored.Ref, stored.URL)

	body, contentType, err := assets.Open(ctx, stored.Ref)
	require.NoError(t, err)
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	require.NoError(t, body.Close())
	assert.Equal(t, photo.Data, data)
	assert.Equal(t, "image/jpeg", contentType)

	require.NoError(t, assets.Delete(ctx, stored.Ref))
	_, _, err = assets.Open(ctx, stored.Ref)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Deleting twice is not an error.
	assert.NoError(t, assets.Delete(ctx, stored.Ref))
}

func TestRedisDraftQueue(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	kv, err := redisadapter.New(ctx, startRedis(ctx, t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	queue := offline.NewQueue(kv, observability.NewMetricsForTesting())

	drafts, err := queue.ListQueuedDrafts(ctx)
	require.NoError(t, err)
	assert.Empty(t, drafts)

	lat, lng := 12.9716, 77.5946
	payload := domain.IssuePayload{Title: "Overflowing bin", Category: domain.CategoryGarbage, Lat: &lat, Lng: &lng, UserID: "citizen-1"}
	photo := &domain.Attachment{Name: "bin.png", ContentType: "image/png", Data: []byte("\x89PNG")}

	first, err := queue.QueueDraft(ctx, payload, photo, nil)
	require.NoError(t, err)
	second, err := queue.QueueDraft(ctx, payload, nil, nil)
	require.NoError(t, err)

	// A second queue over the same key sees both drafts in order.
	other := offline.NewQueue(kv, observability.NewMetricsForTesting())
	drafts, err = other.ListQueuedDrafts(ctx)
	require.NoError(t, err)
	require.Len(t, drafts, 2)
	assert.Equal(t, first.ID, drafts[0].ID)
	assert.Equal(t, second.ID, drafts[1].ID)

	decoded, err := offline.Decode(drafts[0].Image)
	require.NoError(t, err)
	assert.Equal(t, photo.Data, decoded.Data)

	require.NoError(t, other.RemoveDraft(ctx, first.ID))
	drafts, err = queue.ListQueuedDrafts(ctx)
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, second.ID, drafts[0].ID)
}

func TestKafkaEventWriter(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	const topic = "civicfix-events-test"
	broker := startKafka(ctx, t)
	createTopic(t, broker, topic)

	cfg := &config.Config{KafkaBrokers: []string{broker}, KafkaEventsTopic: topic}
	writer := kafka.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	emitter := events.NewEmitter(writer, 8, discardLogger(), observability.NewMetricsForTesting())
	runCtx, stop := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = emitter.Run(runCtx)
	}()

	emitter.Emit(ctx, domain.EventIssueCreated, map[string]any{
		"issue_id":       "issue-42",
		"category":       domain.CategoryGarbage,
		"phone_verified": true,
	})

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:   []string{broker},
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  1 << 20,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	readCtx, readCancel := context.WithTimeout(ctx, 60*time.Second)
	defer readCancel()
	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from events topic")

	stop()
	<-done

	assert.Equal(t, "issue-42", string(msg.Key))
	var ev domain.Event
	require.NoError(t, json.Unmarshal(msg.Value, &ev))
	assert.Equal(t, domain.EventIssueCreated, ev.Name)
	assert.Equal(t, "issue-42", ev.Params["issue_id"])
	assert.Equal(t, "Garbage", ev.Params["category"])
	assert.InDelta(t, 1, ev.Params["phone_verified"], 0)

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "issue_created", headers["event_name"])
}
