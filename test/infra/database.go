package infra

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"

	"github.com/jackc/pgx/v5"
)

const (
	localDB       = "skillbarter_stress"
	localRole     = "skillbarter"
	localPassword = "skillbarter"
)

// InitLocalDatabase recreates the stress database on a Postgres listening on
// 127.0.0.1:5432 and returns a DSN owned by a dedicated role.
func InitLocalDatabase(ctx context.Context) (string, error) {
	if err := exec.CommandContext(ctx, "pg_isready", "-h", "127.0.0.1", "-p", "5432").Run(); err != nil {
		return "", fmt.Errorf("postgres is not accepting connections: %w", err)
	}

	admin, err := connectAdmin(ctx)
	if err != nil {
		return "", err
	}
	defer admin.Close(ctx)

	role := pgx.Identifier{localRole}.Sanitize()
	db := pgx.Identifier{localDB}.Sanitize()
	stmts := []string{
		fmt.Sprintf(`DO $$ BEGIN CREATE ROLE %s WITH LOGIN PASSWORD '%s'; EXCEPTION WHEN duplicate_object THEN NULL; END $$;`, role, localPassword),
		fmt.Sprintf(`SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = '%s' AND pid <> pg_backend_pid()`, localDB),
		"DROP DATABASE IF EXISTS " + db,
		fmt.Sprintf("CREATE DATABASE %s OWNER %s", db, role),
	}
	for _, stmt := range stmts {
		if _, err := admin.Exec(ctx, stmt); err != nil {
			return "", fmt.Errorf("prepare %s: %w", localDB, err)
		}
	}

	dsn := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(localRole, localPassword),
		Host:     "127.0.0.1:5432",
		Path:     localDB,
		RawQuery: "sslmode=disable&application_name=" + AppName,
	}
	return dsn.String(), nil
}

// connectAdmin tries the superuser credentials a developer machine usually has.
func connectAdmin(ctx context.Context) (*pgx.Conn, error) {
	users := []*url.Userinfo{url.User("postgres"), url.UserPassword("postgres", "postgres")}
	if u := os.Getenv("PGUSER"); u != "" {
		users = append([]*url.Userinfo{url.UserPassword(u, os.Getenv("PGPASSWORD"))}, users...)
	}
	if u := os.Getenv("USER"); u != "" {
		users = append(users, url.User(u))
	}

	var lastErr error
	for _, user := range users {
		dsn := url.URL{Scheme: "postgres", User: user, Host: "127.0.0.1:5432", Path: "postgres", RawQuery: "sslmode=disable"}
		conn, err := pgx.Connect(ctx, dsn.String())
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("connect as a postgres administrator: %w", lastErr)
}
