package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"mhw-backend/internal/models"
)

// Run describes one controller start
type Run struct {
	RunID         string
	StartedAt     time.Time
	Host          string
	Layout        models.RecordLayout
	MHWStart      time.Time
	RecoveryStart time.Time
}

type ClickHouseDB struct {
	conn driver.Conn
}

// NewClickHouseDB creates a new ClickHouse database connection
func NewClickHouseDB(ctx context.Context, addr, database, username, password string) (*ClickHouseDB, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: username,
			Password: password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})

	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	log.Printf("Connected to ClickHouse at %s", addr)

	db := &ClickHouseDB{conn: conn}

	// Initialize schema
	if err := db.InitSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// InitSchema creates the necessary tables if they don't exist
func (db *ClickHouseDB) InitSchema(ctx context.Context) error {
	for _, tableSQL := range AllTables() {
		if err := db.conn.Exec(ctx, tableSQL); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	log.Println("Database schema initialized successfully")
	return nil
}

// SaveRun records the start of a run
func (db *ClickHouseDB) SaveRun(ctx context.Context, run *Run) error {
	query := `
		INSERT INTO runs (run_id, started_at, host, groups, channels, mhw_start, recovery_start)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	err := db.conn.Exec(ctx, query,
		run.RunID,
		run.StartedAt,
		run.Host,
		nonNil(run.Layout.Groups),
		nonNil(run.Layout.Channels),
		run.MHWStart,
		run.RecoveryStart,
	)

	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	log.Printf("Saved run %s to ClickHouse", run.RunID)
	return nil
}

// Append saves a tick record
func (db *ClickHouseDB) Append(ctx context.Context, rec *models.TickRecord) error {
	query := `
		INSERT INTO tick_records (timestamp, run_id, phase, targets, statuses, pid_outputs, group_temps, channel_temps, faulted_channels)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := db.conn.Exec(ctx, query,
		rec.Timestamp,
		rec.RunID,
		rec.Phase,
		rec.Targets,
		rec.Statuses,
		rec.Outputs,
		rec.GroupTemps,
		rec.ChannelTemps,
		nonNil(rec.Faulted),
	)

	if err != nil {
		return fmt.Errorf("failed to insert tick record: %w", err)
	}

	return nil
}

// Close closes the ClickHouse connection
func (db *ClickHouseDB) Close() error {
	if db.conn != nil {
		if err := db.conn.Close(); err != nil {
			return fmt.Errorf("failed to close ClickHouse connection: %w", err)
		}
		log.Println("ClickHouse connection closed")
	}
	return nil
}

// nonNil avoids sending NULL for an empty Array(String)
func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
