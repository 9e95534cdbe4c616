package mysql

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AgentRouter/deploy/migrations"
	xerrors "AgentRouter/internal/errors"
)

func TestFileDecisionRepositoryPersistsAcrossRestarts(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	repo, err := NewFileDecisionRepository(dir)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, repo.Save(ctx, DecisionRecord{
		RequestID: "r1", Query: "chest pain", Intent: "symptom_analysis",
		Mode: "single", Selected: []string{"clinical-differential"},
		Scores: map[string]float64{"clinical-differential": 82}, Outcome: OutcomeAnswered, CreatedAt: 1,
	}))
	require.NoError(t, repo.Save(ctx, DecisionRecord{
		RequestID: "r2", Query: "billing code", Intent: "claim_review",
		Mode: "single", Outcome: OutcomeNoMatch, CreatedAt: 2,
	}))

	list, err := repo.ListLatest(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "r2", list[0].RequestID)
	assert.Equal(t, int64(2), list[0].ID)

	reopened, err := NewFileDecisionRepository(dir)
	require.NoError(t, err)
	restored, err := reopened.ListLatest(ctx, 1)
	require.NoError(t, err)
	require.Len(t, restored, 1)
	assert.Equal(t, "r2", restored[0].RequestID)

	require.NoError(t, reopened.Save(ctx, DecisionRecord{RequestID: "r3", Outcome: OutcomeFailed}))
	latest, err := reopened.ListLatest(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), latest[0].ID, "ids continue after restart")

	all, err := reopened.ListLatest(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, 82.0, all[2].Scores["clinical-differential"])
}

// newMockDB 返回按完整 SQL 文本匹配（忽略空白差异）的 sqlmock 连接。
func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return db, mock
}

func TestSQLDecisionRepositorySave(t *testing.T) {
	t.Parallel()
	db, mock := newMockDB(t)

	mock.ExpectExec(insertDecisionSQL).
		WithArgs("r1", "q", "", nil, "", "collaborative", `["a","b"]`, nil, nil,
			`[{"handler_id":"c","score":55,"reason":"score 55 not above collaboration threshold 60"}]`,
			OutcomeDegraded, "", true, int64(0), int64(0)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := NewSQLDecisionRepository(db).Save(context.Background(), DecisionRecord{
		RequestID: "r1", Query: "q", Mode: "collaborative",
		Selected: []string{"a", "b"}, Outcome: OutcomeDegraded, Degraded: true,
		Rejected: []RejectedHandler{{HandlerID: "c", Score: 55, Reason: "score 55 not above collaboration threshold 60"}},
	})
	require.NoError(t, err)
}

func TestSQLDecisionRepositorySaveWrapsDriverError(t *testing.T) {
	t.Parallel()
	db, mock := newMockDB(t)

	mock.ExpectExec(insertDecisionSQL).WillReturnError(errors.New("connection reset"))

	err := NewSQLDecisionRepository(db).Save(context.Background(), DecisionRecord{RequestID: "r1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.True(t, xerrors.HasCode(err, xerrors.CodeStorageFailure))
}

func TestSQLDecisionRepositoryListLatest(t *testing.T) {
	t.Parallel()
	db, mock := newMockDB(t)

	rows := sqlmock.NewRows([]string{"id", "request_id", "query_text", "intent", "domains", "complexity", "mode", "selected", "scores", "reasoning", "rejected", "outcome", "error_code", "degraded", "latency_ms", "created_at"}).
		AddRow(int64(2), "r2", "q2", "claim_review", nil, "", "single", nil, nil, nil,
			`[{"handler_id":"billing-coder","score":20,"reason":"score 20 not above threshold 70"}]`, OutcomeNoMatch, "NO_CONFIDENT_MATCH", int64(0), int64(3), int64(20)).
		AddRow(int64(1), "r1", "q1", "symptom_analysis", `["clinical"]`, "high", "single", `["clinical-differential"]`, `{"clinical-differential":82}`, `["selected"]`, nil, OutcomeAnswered, "", int64(1), int64(12), int64(10))
	mock.ExpectQuery(selectDecisionsSQL).WithArgs(2).WillReturnRows(rows)

	list, err := NewSQLDecisionRepository(db).ListLatest(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, list, 2)

	assert.Equal(t, "r2", list[0].RequestID)
	assert.Nil(t, list[0].Selected)
	assert.False(t, list[0].Degraded)
	require.Len(t, list[0].Rejected, 1)
	assert.Equal(t, RejectedHandler{HandlerID: "billing-coder", Score: 20, Reason: "score 20 not above threshold 70"}, list[0].Rejected[0])
	assert.Nil(t, list[1].Rejected)

	assert.Equal(t, []string{"clinical"}, list[1].Domains)
	assert.Equal(t, []string{"clinical-differential"}, list[1].Selected)
	assert.Equal(t, 82.0, list[1].Scores["clinical-differential"])
	assert.True(t, list[1].Degraded)
}

func TestMigrateSkipsAppliedVersions(t *testing.T) {
	t.Parallel()
	db, mock := newMockDB(t)

	all, err := loadMigrations(migrations.Files)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "0001", all[0].version)
	assert.Equal(t, "0002", all[1].version)
	assert.Equal(t, "0003", all[2].version)
	assert.Equal(t, []string{"ALTER TABLE routing_decisions ADD COLUMN rejected TEXT AFTER reasoning"}, all[2].statements)

	mock.ExpectExec(createMigrationsTableSQL).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(selectAppliedSQL).WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow("0001"))
	for _, m := range all[1:] {
		mock.ExpectBegin()
		for _, stmt := range m.statements {
			mock.ExpectExec(stmt).WillReturnResult(sqlmock.NewResult(0, 0))
		}
		mock.ExpectExec(insertAppliedSQL).WithArgs(m.version, sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()
	}

	require.NoError(t, Migrate(context.Background(), db))
}

func TestMigrateRollsBackFailedVersion(t *testing.T) {
	t.Parallel()
	db, mock := newMockDB(t)

	fsys := fstest.MapFS{"0001_init.sql": {Data: []byte("CREATE TABLE a (id INT);\nCREATE TABLE b (id INT);")}}
	mock.ExpectExec(createMigrationsTableSQL).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(selectAppliedSQL).WillReturnRows(sqlmock.NewRows([]string{"version"}))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE a (id INT)").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE b (id INT)").WillReturnError(errors.New("table exists"))
	mock.ExpectRollback()

	err := migrate(context.Background(), db, fsys)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0001_init.sql")
}

func TestLoadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"0002_decisions.sql": {Data: []byte("-- decisions\nCREATE TABLE d (id INT);")},
		"0001_tasks.sql":     {Data: []byte("CREATE TABLE a (id INT);\n\n  ;CREATE TABLE b (id INT);")},
		"0003.sql":           {Data: []byte("-- nothing yet\n")},
		"README.md":          {Data: []byte("ignored")},
	}
	all, err := loadMigrations(fsys)
	require.NoError(t, err)
	require.Len(t, all, 2)

	assert.Equal(t, "0001", all[0].version)
	assert.Equal(t, []string{"CREATE TABLE a (id INT)", "CREATE TABLE b (id INT)"}, all[0].statements)
	assert.Equal(t, "0002", all[1].version)
	assert.Equal(t, []string{"CREATE TABLE d (id INT)"}, all[1].statements)

	assert.Equal(t, "0003", migrationVersion("0003.sql"))
	assert.Equal(t, "0004", migrationVersion("0004_add_index.sql"))
}
