//go:build integration

package directory

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"call-scheduler/internal/assistants"
	"call-scheduler/internal/dispatch"
	"call-scheduler/internal/migrations"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/stretchr/testify/require"
)

func startPostgres(t *testing.T) *sql.DB {
	t.Helper()

	pool, err := dockertest.NewPool("")
	require.NoError(t, err, "could not connect to docker")

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "15-alpine",
		Env:        []string{"POSTGRES_PASSWORD=testpass", "POSTGRES_USER=testuser", "POSTGRES_DB=testdb"},
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	require.NoError(t, err, "could not start postgres")
	t.Cleanup(func() { _ = pool.Purge(resource) })

	dsn := fmt.Sprintf("host=127.0.0.1 port=%s user=testuser password=testpass dbname=testdb sslmode=disable", resource.GetPort("5432/tcp"))

	var db *sql.DB
	pool.MaxWait = 2 * time.Minute
	require.NoError(t, pool.Retry(func() error {
		var err error
		if db, err = sql.Open("pgx", dsn); err != nil {
			return err
		}
		return db.Ping()
	}))
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, migrations.Run(context.Background(), db))
	return db
}

func TestDirectory_Postgres(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, `INSERT INTO contacts (id, tenant_id, display_name, phone_number) VALUES ('c1', 't1', 'Sam', '+15551230000')`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO assistants (id, tenant_id, kind, display_name) VALUES ('g1', 't1', 'gemini', 'Ava')`)
	require.NoError(t, err)

	c, err := NewContacts(db).Get(ctx, "t1", "c1")
	require.NoError(t, err)
	require.Equal(t, "+15551230000", c.PhoneNumber)
	_, err = NewContacts(db).Get(ctx, "t2", "c1")
	require.ErrorIs(t, err, ErrNotFound)

	asst := NewAssistants(db)
	a, err := asst.Resolve(ctx, "t1", assistants.Ref{GeminiAssistantID: "g1"})
	require.NoError(t, err)
	require.Equal(t, assistants.KindGemini, a.Kind)
	_, err = asst.Resolve(ctx, "t1", assistants.Ref{OpenAIAssistantID: "g1"})
	require.ErrorIs(t, err, ErrNotFound, "kind mismatch")

	legacy := NewLegacyConfigs(db)
	_, found, err := legacy.Get(ctx, "t1")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, legacy.Upsert(ctx, dispatch.LegacyConfig{TenantID: "t1", AccountID: "a", APIKey: "k", RuleID: 9, CallerID: "+1"}))
	require.NoError(t, legacy.Upsert(ctx, dispatch.LegacyConfig{TenantID: "t1", AccountID: "a", APIKey: "k", RuleID: 10, CallerID: "+1"}))
	cfg, found, err := legacy.Get(ctx, "t1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int64(10), cfg.RuleID)
	require.True(t, cfg.Complete())

	require.NoError(t, NewReferences(NewContacts(db), asst).CheckReferences(ctx, "t1", "c1", assistants.Ref{GeminiAssistantID: "g1"}))
}
