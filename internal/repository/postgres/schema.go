package postgres

import (
	"context"
	"fmt"
)

// schema is written in the subset of SQL shared by PostgreSQL and SQLite.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS report_runs (
		id TEXT PRIMARY KEY,
		created_at TIMESTAMP NOT NULL,
		observations INTEGER NOT NULL,
		transfers INTEGER NOT NULL,
		periods INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS report_periods (
		run_id TEXT NOT NULL REFERENCES report_runs(id),
		item TEXT NOT NULL,
		warehouse TEXT NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		description TEXT NOT NULL,
		manufacturer TEXT NOT NULL,
		total_sold DOUBLE PRECISION NOT NULL,
		total_restocked DOUBLE PRECISION NOT NULL,
		days_with_sales INTEGER NOT NULL,
		days_in_stock INTEGER NOT NULL,
		unique_days INTEGER NOT NULL,
		last_quantity DOUBLE PRECISION NOT NULL,
		mean_price DOUBLE PRECISION NOT NULL,
		min_price DOUBLE PRECISION NOT NULL,
		max_price DOUBLE PRECISION NOT NULL,
		opening_price DOUBLE PRECISION NOT NULL,
		closing_price DOUBLE PRECISION NOT NULL,
		price_change DOUBLE PRECISION NOT NULL,
		price_change_pct DOUBLE PRECISION NOT NULL,
		price_change_count INTEGER NOT NULL,
		turnover DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (run_id, item, warehouse, year, month)
	)`,
	`CREATE TABLE IF NOT EXISTS report_transfers (
		run_id TEXT NOT NULL REFERENCES report_runs(id),
		date TIMESTAMP NOT NULL,
		item TEXT NOT NULL,
		from_warehouse TEXT NOT NULL,
		to_warehouse TEXT NOT NULL,
		quantity DOUBLE PRECISION NOT NULL,
		ambiguous BOOLEAN NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS report_monthly_spikes (
		run_id TEXT NOT NULL REFERENCES report_runs(id),
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		item TEXT NOT NULL,
		warehouse TEXT NOT NULL,
		description TEXT NOT NULL,
		total_sold DOUBLE PRECISION NOT NULL,
		baseline DOUBLE PRECISION NOT NULL,
		has_baseline BOOLEAN NOT NULL,
		window_size INTEGER NOT NULL,
		factor DOUBLE PRECISION NOT NULL,
		mean_price DOUBLE PRECISION NOT NULL,
		price_change_pct DOUBLE PRECISION NOT NULL,
		is_spike BOOLEAN NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS report_daily_spikes (
		run_id TEXT NOT NULL REFERENCES report_runs(id),
		date TIMESTAMP NOT NULL,
		item TEXT NOT NULL,
		warehouse TEXT NOT NULL,
		description TEXT NOT NULL,
		sold DOUBLE PRECISION NOT NULL,
		mean DOUBLE PRECISION NOT NULL,
		std_dev DOUBLE PRECISION NOT NULL,
		sample_count INTEGER NOT NULL,
		threshold DOUBLE PRECISION NOT NULL,
		is_spike BOOLEAN NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS pipeline_runs (
		id TEXT PRIMARY KEY,
		pipeline_name TEXT NOT NULL,
		status TEXT NOT NULL,
		total_files INTEGER NOT NULL,
		processed_files INTEGER NOT NULL,
		failed_files INTEGER NOT NULL,
		total_rows INTEGER NOT NULL,
		started_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP NULL,
		error_message TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS pipeline_file_jobs (
		id TEXT PRIMARY KEY,
		pipeline_run_id TEXT NOT NULL REFERENCES pipeline_runs(id),
		warehouse TEXT NOT NULL,
		file_path TEXT NOT NULL,
		status TEXT NOT NULL,
		error_message TEXT NOT NULL,
		processed_at TIMESTAMP NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_report_runs_created_at ON report_runs (created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_report_monthly_spikes_run ON report_monthly_spikes (run_id, warehouse, item)`,
	`CREATE INDEX IF NOT EXISTS idx_pipeline_file_jobs_run ON pipeline_file_jobs (pipeline_run_id)`,
}

// Migrate creates the tables used by report persistence and run tracking.
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("could not apply schema: %w", err)
		}
	}
	return nil
}
