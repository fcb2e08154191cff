// Package sqlexec runs a schema script against a database one statement at a time.
package sqlexec

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // Registers the "pgx" database/sql driver
	"github.com/spf13/afero"

	"github.com/stacklok/schema-bootstrap/internal/config"
)

//go:generate mockgen -destination=mocks/mock_execer.go -package=mocks -source=executor.go Execer

// Execer runs a single statement. *sql.DB, *sql.Conn and *sql.Tx satisfy it.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// StatementError reports the statement that stopped a script.
// Statements before it have already been applied and are not rolled back.
type StatementError struct {
	// Index is the zero-based position of the statement in the script
	Index     int
	Statement string
	Err       error
}

func (e *StatementError) Error() string {
	return fmt.Sprintf("statement %d failed: %v", e.Index, e.Err)
}

func (e *StatementError) Unwrap() error {
	return e.Err
}

// SplitStatements cuts a script after every ';'. Each statement keeps its terminator.
// Chunks holding nothing but whitespace and the terminator are dropped.
func SplitStatements(script string) []string {
	var statements []string
	for _, chunk := range strings.SplitAfter(script, ";") {
		if strings.TrimSpace(strings.TrimSuffix(chunk, ";")) == "" {
			continue
		}
		statements = append(statements, chunk)
	}
	return statements
}

// Execute runs the statements of script in order and stops at the first failure.
// It returns the number of statements that succeeded.
func Execute(ctx context.Context, db Execer, script string) (int, error) {
	statements := SplitStatements(script)

	for i, statement := range statements {
		slog.DebugContext(ctx, "Executing statement", "index", i, "statement", statement)
		if _, err := db.ExecContext(ctx, statement); err != nil {
			return i, &StatementError{Index: i, Statement: statement, Err: err}
		}
	}

	slog.InfoContext(ctx, "Schema applied", "statements", len(statements))
	return len(statements), nil
}

// Open connects to the configured PostgreSQL database through the pgx driver and verifies the connection
func Open(ctx context.Context, cfg *config.DatabaseConfig, fs afero.Fs) (*sql.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}

	connStr, err := cfg.GetConnectionString(fs)
	if err != nil {
		return nil, fmt.Errorf("failed to get database password: %w", err)
	}

	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	// Statements run sequentially, a single connection keeps session state between them
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("Failed to close database connection after ping failure", "error", closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("Database connection established",
		"user", cfg.User,
		"host", cfg.Host,
		"port", cfg.Port,
		"database", cfg.Database,
	)
	return db, nil
}
