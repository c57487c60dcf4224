package db

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"
)

type contextKey string

const connKey contextKey = "db_conn"

var schemaPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// ValidSchema reports whether name is safe to interpolate into search_path.
func ValidSchema(name string) bool {
	return schemaPattern.MatchString(name)
}

// WithConn acquires a single connection for the duration of fn, points its
// search_path at schema, and exposes it through the context so repositories
// run every statement of one operation on the same session. The connection
// is released when fn returns, whether or not it failed.
func WithConn(ctx context.Context, pool *pgxpool.Pool, schema string, fn func(ctx context.Context) error) error {
	if !ValidSchema(schema) {
		return fmt.Errorf("invalid schema identifier: %q", schema)
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", schema)); err != nil {
		return fmt.Errorf("set search_path to %s: %w", schema, err)
	}

	return fn(context.WithValue(ctx, connKey, conn))
}

// ConnFromContext retrieves the scoped database connection from context.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(connKey).(*pgxpool.Conn)
	return conn
}
