package checkpoint

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/planner/internal/state"
)

func gatedRun(id string) *state.RunState {
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	st := state.NewRunState(id, "plan a todo app", now)
	st.Node = state.NodeHumanGate
	st.Status = state.StatusAwaitingApproval
	st.ResearchBrief = "I want a todo app"
	st.ToolMessages = state.Conversation{{
		Role:      state.RoleAssistant,
		ToolCalls: []state.ToolCall{{ID: "w1", Name: "write_file", Args: map[string]interface{}{"path": "PLAN.md"}}},
	}}
	st.PendingInterrupt = &state.InterruptRequest{
		ID:               "intr-1",
		Message:          "approve?",
		PendingToolCalls: st.ToolMessages[0].ToolCalls,
		CreatedAt:        now,
	}
	return st
}

func runStoreContract(t *testing.T, s Store) {
	ctx := context.Background()

	_, err := s.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	st := gatedRun("run-b")
	require.NoError(t, s.Save(ctx, st))
	require.NoError(t, s.Save(ctx, gatedRun("run-a")))

	got, err := s.Load(ctx, "run-b")
	require.NoError(t, err)
	assert.Equal(t, state.NodeHumanGate, got.Node)
	assert.Equal(t, state.StatusAwaitingApproval, got.Status)
	require.NotNil(t, got.PendingInterrupt)
	assert.Equal(t, "intr-1", got.PendingInterrupt.ID)
	assert.Equal(t, "w1", got.PendingInterrupt.PendingToolCalls[0].ID)
	assert.Equal(t, "PLAN.md", got.ToolMessages[0].ToolCalls[0].ArgString("path"))

	// Saving again overwrites.
	st.Status = state.StatusRunning
	st.PendingInterrupt = nil
	require.NoError(t, s.Save(ctx, st))
	got, err = s.Load(ctx, "run-b")
	require.NoError(t, err)
	assert.Equal(t, state.StatusRunning, got.Status)
	assert.Nil(t, got.PendingInterrupt)

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"run-a", "run-b"}, ids)

	require.NoError(t, s.Delete(ctx, "run-a"))
	_, err = s.Load(ctx, "run-a")
	assert.ErrorIs(t, err, ErrNotFound)
	ids, err = s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"run-b"}, ids)

	assert.NoError(t, s.Ping(ctx))
	assert.Error(t, s.Save(ctx, &state.RunState{}))
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, NewMemoryStore())
}

func TestMemoryStoreIsolatesCallers(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	st := gatedRun("run-1")
	require.NoError(t, s.Save(ctx, st))

	st.Messages[0].Content = "mutated"
	got, err := s.Load(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "plan a todo app", got.Messages[0].Content)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStoreWithClient(client, RedisConfig{Prefix: "test:", TTL: time.Hour}, zaptest.NewLogger(t))
	defer s.Close()

	runStoreContract(t, s)
	assert.True(t, mr.Exists("test:run:run-b"))
	assert.Equal(t, time.Hour, mr.TTL("test:run:run-b"))
}

func TestRedisStoreListPrunesExpired(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStoreWithClient(client, RedisConfig{TTL: time.Minute}, zaptest.NewLogger(t))
	defer s.Close()

	require.NoError(t, s.Save(ctx, gatedRun("run-1")))
	mr.FastForward(2 * time.Minute)

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
	_, err = s.Load(ctx, "run-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewRedisStoreFailsWhenUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisStore(context.Background(), RedisConfig{Addr: addr}, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestSQLStoreSQLite(t *testing.T) {
	s, err := NewSQLStore(context.Background(), SQLConfig{Driver: "sqlite3", DSN: ":memory:"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer s.Close()

	runStoreContract(t, s)
}

func TestSQLStorePostgresDialect(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := NewSQLStoreWithDB(sqlx.NewDb(db, "postgres"), zaptest.NewLogger(t))
	st := gatedRun("run-pg")

	mock.ExpectExec(regexp.QuoteMeta(
		"INSERT INTO planner_checkpoints (run_id, status, node, state, updated_at)\nVALUES ($1, $2, $3, $4, $5)",
	)).WithArgs("run-pg", "awaiting_approval", "human_gate", sqlmock.AnyArg(), st.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.Save(context.Background(), st))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT state FROM planner_checkpoints WHERE run_id = $1")).
		WithArgs("run-pg").
		WillReturnRows(sqlmock.NewRows([]string{"state"}))
	_, err = s.Load(context.Background(), "run-pg")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreRejectsUnknownDriver(t *testing.T) {
	_, err := NewSQLStore(context.Background(), SQLConfig{Driver: "mysql"}, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	logger := zaptest.NewLogger(t)
	s, err := Open(context.Background(), Config{}, logger)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	_, err = Open(context.Background(), Config{Backend: "etcd"}, logger)
	assert.Error(t, err)
}
