package postgres_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/encounter/internal/game/instance"
	"github.com/cory-johannsen/encounter/internal/storage/postgres"
	"github.com/cory-johannsen/encounter/internal/testutil"
)

func newRepo(t *testing.T) (*postgres.BossStateRepository, *testutil.PostgresContainer) {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container tests skipped in -short mode")
	}
	pc := testutil.NewPostgresContainer(t)
	pc.ApplyMigrations(t)
	return postgres.NewBossStateRepository(pc.RawPool), pc
}

func TestBossStateRepository_RoundTripAndUpsert(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()

	empty, err := repo.LoadBossStates(ctx, "ruins-1")
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, repo.SaveBossState(ctx, "ruins-1", "warden", instance.InProgress))
	require.NoError(t, repo.SaveBossState(ctx, "ruins-1", "warden", instance.Done))
	require.NoError(t, repo.SaveBossState(ctx, "ruins-1", "oracle", instance.Fail))
	require.NoError(t, repo.SaveBossState(ctx, "ruins-2", "warden", instance.NotStarted))

	got, err := repo.LoadBossStates(ctx, "ruins-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]instance.BossState{"warden": instance.Done, "oracle": instance.Fail}, got)

	n, err := repo.DeleteInstance(ctx, "ruins-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	got, err = repo.LoadBossStates(ctx, "ruins-2")
	require.NoError(t, err)
	assert.Equal(t, map[string]instance.BossState{"warden": instance.NotStarted}, got)
}

func TestBossStateRepository_UnknownStateIsError(t *testing.T) {
	repo, pc := newRepo(t)
	ctx := context.Background()
	_, err := pc.RawPool.Exec(ctx,
		`INSERT INTO boss_states (instance_id, boss, state) VALUES ('x', 'y', 'exploded')`)
	require.NoError(t, err)

	_, err = repo.LoadBossStates(ctx, "x")
	assert.Error(t, err)
}

func TestBossStateRepository_BacksInstanceWriteBehind(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()

	inst := instance.NewInstance("ruins-3", repo, testutil.NopLogger(), 0)
	require.NoError(t, inst.Load(ctx))
	require.True(t, inst.SetBossState("warden", instance.InProgress))
	require.NoError(t, inst.Flush(ctx))

	reloaded := instance.NewInstance("ruins-3", repo, testutil.NopLogger(), 0)
	require.NoError(t, reloaded.Load(ctx))
	assert.Equal(t, instance.InProgress, reloaded.BossState("warden"))
}

func TestPool_HealthAndBossStates(t *testing.T) {
	_, pc := newRepo(t)
	ctx, cancel := context.WithTimeout(context.Background(), testutil.HealthTimeout)
	defer cancel()
	require.NoError(t, pc.Pool.Health(ctx))

	repo := pc.Pool.BossStates()
	require.NoError(t, repo.SaveBossState(ctx, "ruins-4", "warden", instance.Done))
	got, err := repo.LoadBossStates(ctx, "ruins-4")
	require.NoError(t, err)
	assert.Equal(t, instance.Done, got["warden"])

	total, acquired := pc.Pool.Conns()
	assert.Positive(t, total)
	assert.Zero(t, acquired)

	cancelled, stop := context.WithCancel(context.Background())
	stop()
	assert.Error(t, pc.Pool.Health(cancelled))
}
