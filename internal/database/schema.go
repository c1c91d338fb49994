package database

// SQL schemas for all ClickHouse tables

const (
	// RunsTableSQL creates the runs table, one row per controller start
	RunsTableSQL = `
		CREATE TABLE IF NOT EXISTS runs (
			run_id String,
			started_at DateTime64(3),
			host String,
			groups Array(String),
			channels Array(String),
			mhw_start DateTime64(3),
			recovery_start DateTime64(3)
		) ENGINE = MergeTree()
		ORDER BY (started_at, run_id)
	`

	// TickRecordsTableSQL creates the tick_records table, one row per control tick
	TickRecordsTableSQL = `
		CREATE TABLE IF NOT EXISTS tick_records (
			timestamp DateTime64(3),
			run_id String,
			phase LowCardinality(String),
			targets Map(String, Float64),
			statuses Map(String, String),
			pid_outputs Map(String, Float64),
			group_temps Map(String, Float64),
			channel_temps Map(String, Float64),
			faulted_channels Array(String)
		) ENGINE = MergeTree()
		ORDER BY (run_id, timestamp)
		PARTITION BY toYYYYMM(timestamp)
	`
)

// AllTables returns all table creation SQL statements
func AllTables() []string {
	return []string{
		RunsTableSQL,
		TickRecordsTableSQL,
	}
}
