//go:build integration

package integration_test

import (
	"context"
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
	tcmongo "github.com/testcontainers/testcontainers-go/modules/mongodb"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/couchcryptid/civicfix-service/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func terminate(t *testing.T, c testcontainers.Container) {
	t.Helper()
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(c); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})
}

// startMongo runs a single-node replica set so change streams are available.
func startMongo(ctx context.Context, t *testing.T) string {
	t.Helper()
	c, err := tcmongo.Run(ctx, "mongo:7", tcmongo.WithReplicaSet("rs0"))
	terminate(t, c)
	require.NoError(t, err, "start mongo container")

	uri, err := c.ConnectionString(ctx)
	require.NoError(t, err)
	return uri
}

func startPostgres(ctx context.Context, t *testing.T) string {
	t.Helper()
	c, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("civicfix"),
		tcpostgres.WithUsername("civicfix"),
		tcpostgres.WithPassword("civicfix"),
		tcpostgres.BasicWaitStrategies(),
	)
	terminate(t, c)
	require.NoError(t, err, "start postgres container")

	url, err := c.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return url
}

func startRedis(ctx context.Context, t *testing.T) string {
	t.Helper()
	c, err := tcredis.Run(ctx, "redis:7-alpine")
	terminate(t, c)
	require.NoError(t, err, "start redis container")

	url, err := c.ConnectionString(ctx)
	require.NoError(t, err)
	return url
}

func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	c, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0")
	terminate(t, c)
	require.NoError(t, err, "start kafka container")

	brokers, err := c.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

// createTopic creates a single-partition topic through the cluster controller.
func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	cc, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer cc.Close()

	require.NoError(t, cc.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

// sampleRecord is a freshly submitted pothole report in central Bengaluru.
func sampleRecord(t *testing.T, userID string, lat, lng float64) domain.IssueRecord {
	t.Helper()
	return domain.NewIssueRecord(domain.IssuePayload{
		Title:       "Pothole near bus stop",
		Description: "Deep pothole in the left lane",
		Category:    domain.CategoryPothole,
		FullAddress: "MG Road, Bengaluru",
		City:        "Bengaluru",
		State:       "Karnataka",
		Pincode:     "560001",
		Country:     "India",
		Lat:         &lat,
		Lng:         &lng,
		UserID:      userID,
	})
}

// waitFor polls cond until it holds or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, timeout, 100*time.Millisecond)
}
