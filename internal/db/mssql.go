package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/microsoft/go-mssqldb"
)

// MSSQLClient manages the connection to SQL Server
type MSSQLClient struct {
	db *sql.DB
}

// NewMSSQLClient creates a new SQL Server client
func NewMSSQLClient(ctx context.Context, connString string) (*MSSQLClient, error) {
	db, err := sql.Open("sqlserver", connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &MSSQLClient{db: db}, nil
}

// Close closes the database connection
func (c *MSSQLClient) Close() error {
	return c.db.Close()
}

// GetDB returns the underlying database connection
func (c *MSSQLClient) GetDB() *sql.DB {
	return c.db
}
