// Package db wires the query executor to a concrete SurrealDB connection
// behind a minimal Query(ctx, sql, params) row-map contract, backed by the
// official github.com/surrealdb/surrealdb.go client.
package db

import (
	"context"
	"fmt"

	"github.com/surrealdb/surrealdb.go"

	"github.com/memoryd/memoryd/internal/apperr"
)

// Conn is the minimal interface the executor needs: bind params by
// whichever style the driver accepts, never string-interpolate.
type Conn interface {
	Query(ctx context.Context, query string, params map[string]any) ([]map[string]any, error)
	Close() error
}

// Config carries the SurrealDB connection parameters.
type Config struct {
	URI       string
	Username  string
	Password  string
	Namespace string
	Database  string
}

// surrealConn adapts surrealdb.go's typed client to the row-map Conn
// contract the executor and retrievers expect.
type surrealConn struct {
	db *surrealdb.DB
}

// Connect opens a SurrealDB connection, signs in with root credentials, and
// selects the namespace/database.
func Connect(ctx context.Context, cfg Config) (Conn, error) {
	if cfg.URI == "" {
		return nil, apperr.Fatalf("db: SURREALDB_URI is not configured")
	}
	sdb, err := surrealdb.New(cfg.URI)
	if err != nil {
		return nil, apperr.Fatalf("db: connect to %s: %v", cfg.URI, err)
	}
	if _, err := sdb.Signin(map[string]any{
		"user": cfg.Username,
		"pass": cfg.Password,
	}); err != nil {
		return nil, apperr.Fatalf("db: signin failed: %v", err)
	}
	if _, err := sdb.Use(cfg.Namespace, cfg.Database); err != nil {
		return nil, apperr.Fatalf("db: use %s/%s failed: %v", cfg.Namespace, cfg.Database, err)
	}
	return &surrealConn{db: sdb}, nil
}

// Query runs a single parameterized statement and returns the first
// statement's result rows, flattened to plain maps.
func (c *surrealConn) Query(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	raw, err := c.db.Query(query, params)
	if err != nil {
		return nil, err
	}
	return flattenSurrealResult(raw)
}

func (c *surrealConn) Close() error {
	c.db.Close()
	return nil
}

// flattenSurrealResult normalizes whatever shape the driver's Query call
// returns into []map[string]any for the first statement.
func flattenSurrealResult(raw any) ([]map[string]any, error) {
	switch v := raw.(type) {
	case []map[string]any:
		return v, nil
	case []any:
		if len(v) == 0 {
			return nil, nil
		}
		first, ok := v[0].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("db: unexpected result shape %T", v[0])
		}
		resultField, ok := first["result"]
		if !ok {
			return nil, fmt.Errorf("db: result statement missing 'result' field")
		}
		rows, ok := resultField.([]any)
		if !ok {
			return nil, fmt.Errorf("db: unexpected 'result' shape %T", resultField)
		}
		out := make([]map[string]any, 0, len(rows))
		for _, r := range rows {
			if m, ok := r.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("db: unexpected query result type %T", raw)
	}
}
