package e2eharness

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestHarness runs the throwaway Postgres instance end-to-end tests exercise
// the engine against.
type TestHarness struct {
	PGContainer testcontainers.Container
	PGDSN       string
	PGDB        *sql.DB
}

// StartPostgres starts a postgres container and returns its DSN. It waits
// until the server accepts connections; the caller stops it via StopPostgres.
func (h *TestHarness) StartPostgres(ctx context.Context) (string, error) {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": "password",
			"POSTGRES_USER":     "postgres",
			"POSTGRES_DB":       "postgres",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return "", err
	}
	h.PGContainer = container

	host, err := container.Host(ctx)
	if err != nil {
		return "", err
	}
	mapped, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return "", err
	}
	dsn := fmt.Sprintf("postgres://postgres:password@%s:%s/postgres?sslmode=disable", host, mapped.Port())
	h.PGDSN = dsn

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return "", err
	}
	deadline := time.Now().Add(20 * time.Second)
	for {
		if err := db.PingContext(ctx); err == nil {
			h.PGDB = db
			return dsn, nil
		}
		if time.Now().After(deadline) {
			db.Close()
			return "", fmt.Errorf("postgres did not become ready: %w", err)
		}
		time.Sleep(200 * time.Millisecond)
	}
}

// InitTables creates the physical storage tables on the harness database.
func (h *TestHarness) InitTables(ctx context.Context, records, links, schemas string) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
			id varchar(26) PRIMARY KEY,
			table_id varchar(64) NOT NULL,
			data jsonb NOT NULL DEFAULT '{}'::jsonb,
			created_at timestamptz NOT NULL DEFAULT now(),
			updated_at timestamptz NOT NULL DEFAULT now(),
			created_by varchar(128),
			updated_by varchar(128))`, records),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
			id varchar(26) PRIMARY KEY,
			source_record_id varchar(26) NOT NULL,
			target_record_id varchar(26) NOT NULL,
			link_field_id varchar(64) NOT NULL,
			inverse_field_id varchar(64),
			created_at timestamptz NOT NULL DEFAULT now(),
			UNIQUE (link_field_id, source_record_id, target_record_id))`, links),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
			id uuid PRIMARY KEY,
			domain varchar(128) NOT NULL,
			entity_id varchar(128) NOT NULL,
			env varchar(16) NOT NULL,
			version integer NOT NULL,
			payload jsonb NOT NULL,
			created_at timestamptz NOT NULL DEFAULT now(),
			updated_at timestamptz NOT NULL DEFAULT now(),
			UNIQUE (domain, entity_id, env, version))`, schemas),
	}
	for _, stmt := range statements {
		if _, err := h.PGDB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create harness table: %w", err)
		}
	}
	return nil
}

// StopPostgres stops the container and closes the DB handle.
func (h *TestHarness) StopPostgres(ctx context.Context) error {
	if h.PGDB != nil {
		h.PGDB.Close()
		h.PGDB = nil
	}
	if h.PGContainer != nil {
		if err := h.PGContainer.Terminate(ctx); err != nil {
			return err
		}
		h.PGContainer = nil
	}
	return nil
}
