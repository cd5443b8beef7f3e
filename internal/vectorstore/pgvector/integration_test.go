//go:build integration

package pgvector

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/domain"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/vectorstore"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "pgvector/pgvector:pg16",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "testuser",
				"POSTGRES_PASSWORD": "testpass",
				"POSTGRES_DB":       "testdb",
			},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("5432/tcp"),
				wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			).WithDeadline(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)
	connStr := fmt.Sprintf("postgres://testuser:testpass@%s:%s/testdb?sslmode=disable", host, port.Port())

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()
	_, err = pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	require.NoError(t, err)
	return connStr
}

func entry(doc string, ord int, values ...float32) domain.Entry {
	return domain.Entry{
		Chunk:  domain.Chunk{ID: fmt.Sprintf("%s:%d", doc, ord), DocumentID: doc, Ordinal: ord, Text: doc + " text", End: 9},
		Vector: domain.Vector{Model: "test-v1", Values: values},
		Source: doc + ".txt",
	}
}

func TestStorage_Lifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	url := startPostgres(t)
	ctx := context.Background()
	opts := vectorstore.Options{Model: "test-v1", Metric: vectorstore.Cosine}

	s, err := NewStorage(ctx, Config{URL: url, Lists: 1}, opts, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Ping(ctx))

	require.NoError(t, s.ReplaceDocument(ctx, "a", []domain.Entry{entry("a", 0, 1, 0, 0), entry("a", 1, 0, 1, 0)}))
	require.NoError(t, s.Upsert(ctx, entry("b", 0, 0, 1, 0)))

	// Equal scores: the earlier insert wins.
	res, err := s.Query(ctx, domain.Vector{Model: "test-v1", Values: []float32{0, 1, 0}}, 2)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "a:1", res[0].Chunk.ID)
	assert.Equal(t, "b:0", res[1].Chunk.ID)
	assert.Equal(t, "a.txt", res[0].Source)

	n, err := s.Remove(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	res, err = s.Query(ctx, domain.Vector{Model: "test-v1", Values: []float32{1, 0, 0}}, 5)
	require.NoError(t, err)
	for _, r := range res {
		assert.NotEqual(t, "a", r.Chunk.DocumentID)
	}
	require.NoError(t, s.Close())

	_, err = NewStorage(ctx, Config{URL: url}, vectorstore.Options{Model: "other-v2"}, zerolog.Nop())
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestStorage_VersionSharedBetweenInstances(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	url := startPostgres(t)
	ctx := context.Background()
	opts := vectorstore.Options{Model: "test-v1", Metric: vectorstore.Cosine}
	cfg := Config{URL: url, Table: "shared", Lists: 1}

	// The reader starts before the chunk table exists.
	reader, err := NewStorage(ctx, cfg, opts, zerolog.Nop())
	require.NoError(t, err)
	defer reader.Close()
	writer, err := NewStorage(ctx, cfg, opts, zerolog.Nop())
	require.NoError(t, err)
	defer writer.Close()

	before, err := reader.Version(ctx)
	require.NoError(t, err)

	require.NoError(t, writer.ReplaceDocument(ctx, "a", []domain.Entry{entry("a", 0, 1, 0, 0)}))
	afterWrite, err := reader.Version(ctx)
	require.NoError(t, err)
	assert.Greater(t, afterWrite, before)

	res, err := reader.Query(ctx, domain.Vector{Model: "test-v1", Values: []float32{1, 0, 0}}, 5)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "a:0", res[0].Chunk.ID)

	n, err := writer.Remove(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	afterRemove, err := reader.Version(ctx)
	require.NoError(t, err)
	assert.Greater(t, afterRemove, afterWrite)

	// A failed write leaves the version alone.
	err = writer.Upsert(ctx, entry("b", 0, 1, 0))
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
	unchanged, err := reader.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, afterRemove, unchanged)
}
