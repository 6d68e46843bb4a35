package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// newTestClient mirrors tarsy's test/database helper: use an external
// CI database when CI_DATABASE_URL is set, otherwise spin up a
// disposable testcontainer.
func newTestClient(t *testing.T) *Client {
	if testing.Short() {
		t.Skip("skipping postgres-backed test in short mode")
	}
	ctx := context.Background()

	connStr := os.Getenv("CI_DATABASE_URL")
	if connStr == "" {
		pgContainer, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("scout_test"),
			postgres.WithUsername("scout"),
			postgres.WithPassword("scout"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		require.NoError(t, err)
		t.Cleanup(func() {
			_ = testcontainers.TerminateContainer(pgContainer)
		})

		connStr, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	client := NewClientFromPool(pool)
	require.NoError(t, client.ensureSchema(ctx))
	return client
}

func TestUpsertContentIsIdempotentOnNaturalKey(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	row := Content{
		Platform:          "x",
		PlatformContentID: "12345",
		TopicID:           "t-1",
		Author:            "alice",
		Body:              "first version",
		Metadata:          map[string]any{"likes": float64(3)},
	}
	id1, err := c.UpsertContent(ctx, row)
	require.NoError(t, err)

	row.Body = "edited version"
	id2, err := c.UpsertContent(ctx, row)
	require.NoError(t, err)
	require.Equal(t, id1, id2, "same natural key must update, not insert a second row")

	got, err := c.GetContent(ctx, "x", "12345")
	require.NoError(t, err)
	require.Equal(t, "edited version", got.Body)
	require.Equal(t, float64(3), got.Metadata["likes"])
}

func TestGetContentMissingReturnsErrNotFound(t *testing.T) {
	c := newTestClient(t)
	_, err := c.GetContent(context.Background(), "x", "does-not-exist")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListByTopicOrdersNewestFirst(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, err := c.UpsertContent(ctx, Content{Platform: "x", PlatformContentID: "a", TopicID: "t-2", Body: "older"})
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	_, err = c.UpsertContent(ctx, Content{Platform: "x", PlatformContentID: "b", TopicID: "t-2", Body: "newer"})
	require.NoError(t, err)

	rows, err := c.ListByTopic(ctx, "t-2", 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "newer", rows[0].Body)
}
