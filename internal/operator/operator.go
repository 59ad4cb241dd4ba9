// Package operator implements the Operator Directory (OD): a minimal
// Postgres-backed lookup store for employee/operator records, giving the
// out-of-scope "operator directory" collaborator named in the original
// system a concrete, runnable backing. Nothing about its internal shape is
// part of the modelled protocol — CR only needs Lookup and a one-time Seed.
package operator

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
)

// Record mirrors the Operator Record of the credential lifecycle: a
// username, its bcrypt password hash, and its role set.
type Record struct {
	Username     string
	PasswordHash string
	Roles        []string
}

// Directory wraps the operators table.
type Directory struct {
	db *sql.DB
}

func Open(dsn string) (*Directory, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("operator: open database: %w", err)
	}
	return &Directory{db: db}, nil
}

// Init creates the operators table if absent.
func (d *Directory) Init(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS operators (
			username TEXT PRIMARY KEY,
			password_hash TEXT NOT NULL,
			roles TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("operator: init schema: %w", err)
	}
	return nil
}

// Seed idempotently inserts roster, skipping any username already present.
// It is the only writer to this table and is called once at startup from a
// static in-repo roster.
func (d *Directory) Seed(ctx context.Context, roster []Record) error {
	for _, r := range roster {
		_, err := d.db.ExecContext(ctx, `
			INSERT INTO operators (username, password_hash, roles) VALUES ($1, $2, $3)
			ON CONFLICT (username) DO NOTHING
		`, r.Username, r.PasswordHash, strings.Join(r.Roles, ","))
		if err != nil {
			return fmt.Errorf("operator: seed %s: %w", r.Username, err)
		}
	}
	return nil
}

// Lookup is the sole read path CR uses during login. A missing username
// returns (nil, nil), not an error.
func (d *Directory) Lookup(ctx context.Context, username string) (*Record, error) {
	var rec Record
	var roles string
	err := d.db.QueryRowContext(ctx,
		`SELECT username, password_hash, roles FROM operators WHERE username = $1`, username,
	).Scan(&rec.Username, &rec.PasswordHash, &roles)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("operator: lookup %s: %w", username, err)
	}
	rec.Roles = strings.Split(roles, ",")
	return &rec, nil
}

// Close releases the underlying connection pool.
func (d *Directory) Close() error { return d.db.Close() }
