//go:build containers
// +build containers

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/agentkernel/agentkernel/internal/domain/checkpoint"
	"github.com/agentkernel/agentkernel/internal/domain/run"
	"github.com/agentkernel/agentkernel/internal/infrastructure/persistence/postgres"
)

// Container-backed integration tests: a throwaway PostgreSQL per test run,
// migrations applied from the repo's migrations/ directory. Run with:
//   go test ./internal/infrastructure/persistence/postgres/... -tags=containers -v
// Unlike the TEST_DATABASE_URL suite these need nothing pre-provisioned
// beyond a container runtime.

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("appdb"),
		tcpostgres.WithUsername("appuser"),
		tcpostgres.WithPassword("apppass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	m, err := migrate.New("file://../../../../migrations", dsn)
	require.NoError(t, err, "open migrator")
	require.NoError(t, m.Up(), "apply migrations")
	_, _ = m.Close()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestRunRepository_AgainstContainer(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()
	eventStore := postgres.NewEventStore(pool)
	repo := postgres.NewRunRepository(pool, eventStore)

	parent, err := run.NewRun("tenant-1", "agent-1", "1", map[string]interface{}{"goal": "fan out"})
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, parent))

	t.Run("round-trips a run with lineage intact", func(t *testing.T) {
		child, err := run.NewChildRun("tenant-1", "agent-2", "1", nil, run.Lineage{
			RootRunID:   parent.RootRunID(),
			ParentRunID: parent.ID(),
			Depth:       1,
			SpawnKey:    "fanout:0",
		})
		require.NoError(t, err)
		require.NoError(t, repo.Save(ctx, child))

		got, err := repo.FindByID(ctx, child.ID())
		require.NoError(t, err)
		assert.Equal(t, parent.ID(), got.ParentRunID())
		assert.Equal(t, parent.RootRunID(), got.RootRunID())
		assert.Equal(t, 1, got.Depth())
		assert.Equal(t, "fanout:0", got.SpawnKey())
	})

	t.Run("spawn key lookup is idempotent", func(t *testing.T) {
		found, err := repo.FindByParentAndSpawnKey(ctx, parent.ID(), "fanout:0")
		require.NoError(t, err)
		assert.Equal(t, parent.ID(), found.ParentRunID())

		_, err = repo.FindByParentAndSpawnKey(ctx, parent.ID(), "fanout:missing")
		require.Error(t, err)
	})

	t.Run("active descendants excludes terminal runs", func(t *testing.T) {
		done, err := run.NewChildRun("tenant-1", "agent-2", "1", nil, run.Lineage{
			RootRunID: parent.RootRunID(), ParentRunID: parent.ID(), Depth: 1, SpawnKey: "fanout:1",
		})
		require.NoError(t, err)
		require.NoError(t, done.Start())
		require.NoError(t, done.Complete(nil))
		require.NoError(t, repo.Save(ctx, done))

		active, err := repo.FindActiveDescendants(ctx, parent.ID())
		require.NoError(t, err)
		for _, r := range active {
			assert.False(t, r.Status().IsTerminal())
			assert.NotEqual(t, done.ID(), r.ID())
		}
	})

	t.Run("outbox trigger captures saved events", func(t *testing.T) {
		outbox := postgres.NewOutbox(pool)
		entries, err := outbox.GetUnpublished(ctx, 100)
		require.NoError(t, err)
		assert.NotEmpty(t, entries, "event inserts should land in the outbox via trigger")
	})
}

func TestCheckpointRepository_AgainstContainer(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()
	repo := postgres.NewCheckpointRepository(pool)

	cp, err := checkpoint.NewCheckpoint("run-42", "", "", "", map[string]interface{}{
		"state":       map[string]interface{}{"x": "v"},
		"__last_node": "set",
	})
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, cp))

	t.Run("latest checkpoint returns the most recent snapshot", func(t *testing.T) {
		time.Sleep(10 * time.Millisecond) // created_at is the ordering key
		second, err := checkpoint.NewCheckpoint("run-42", "", "", cp.CheckpointID(), map[string]interface{}{
			"state":       map[string]interface{}{"x": "v", "y": 2.0},
			"__last_node": "wait",
		})
		require.NoError(t, err)
		require.NoError(t, repo.Save(ctx, second))

		latest, err := repo.FindLatest(ctx, "run-42", "")
		require.NoError(t, err)
		assert.Equal(t, "wait", latest.LastNode())
	})
}
