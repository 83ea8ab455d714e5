package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/andresuchdata/stockrecon/internal/domain"
	"github.com/andresuchdata/stockrecon/internal/repository/postgres"
)

// ErrNoRun is returned when no report run has been stored yet.
var ErrNoRun = errors.New("no report run stored")

const insertChunk = 200

// RunTables are the tables persisted for one run.
type RunTables struct {
	Periods       []domain.PeriodAggregate
	Transfers     []domain.TransferEvent
	RollingSpikes []domain.RollingSpike
	DailySpikes   []domain.DailySpike
}

type ReportRepository interface {
	SaveRun(ctx context.Context, run domain.ReportRun, tables RunTables) error
	LatestRun(ctx context.Context) (*domain.ReportRun, error)
	ListRuns(ctx context.Context, limit int) ([]domain.ReportRun, error)
	GetWarehouses(ctx context.Context, runID string) ([]string, error)
	GetTopFastMovers(ctx context.Context, runID string, filter domain.ReportFilter) ([]domain.TopItem, error)
	GetTopRestocked(ctx context.Context, runID string, filter domain.ReportFilter) ([]domain.TopItem, error)
	GetMonthlySpikes(ctx context.Context, runID string, filter domain.ReportFilter) ([]domain.RollingSpike, error)
	GetDailySpikes(ctx context.Context, runID string, filter domain.ReportFilter) ([]domain.DailySpike, error)
	GetSpikeDescriptions(ctx context.Context, runID string, filter domain.ReportFilter) ([]string, error)
	GetTransfers(ctx context.Context, runID string, filter domain.ReportFilter) ([]domain.TransferEvent, error)
}

type reportRepository struct {
	db *postgres.DB
}

func NewReportRepository(db *postgres.DB) ReportRepository {
	return &reportRepository{db: db}
}

type periodRow struct {
	RunID string `db:"run_id"`
	domain.PeriodAggregate
}

type transferRow struct {
	RunID string `db:"run_id"`
	domain.TransferEvent
}

type rollingRow struct {
	RunID string `db:"run_id"`
	domain.RollingSpike
}

type dailyRow struct {
	RunID string `db:"run_id"`
	domain.DailySpike
}

const (
	insertRun = `INSERT INTO report_runs (id, created_at, observations, transfers, periods)
		VALUES (:id, :created_at, :observations, :transfers, :periods)`

	insertPeriod = `INSERT INTO report_periods (
			run_id, item, warehouse, year, month, description, manufacturer,
			total_sold, total_restocked, days_with_sales, days_in_stock, unique_days,
			last_quantity, mean_price, min_price, max_price, opening_price, closing_price,
			price_change, price_change_pct, price_change_count, turnover
		) VALUES (
			:run_id, :item, :warehouse, :year, :month, :description, :manufacturer,
			:total_sold, :total_restocked, :days_with_sales, :days_in_stock, :unique_days,
			:last_quantity, :mean_price, :min_price, :max_price, :opening_price, :closing_price,
			:price_change, :price_change_pct, :price_change_count, :turnover
		)`

	insertTransfer = `INSERT INTO report_transfers (run_id, date, item, from_warehouse, to_warehouse, quantity, ambiguous)
		VALUES (:run_id, :date, :item, :from_warehouse, :to_warehouse, :quantity, :ambiguous)`

	insertRolling = `INSERT INTO report_monthly_spikes (
			run_id, year, month, item, warehouse, description, total_sold, baseline,
			has_baseline, window_size, factor, mean_price, price_change_pct, is_spike
		) VALUES (
			:run_id, :year, :month, :item, :warehouse, :description, :total_sold, :baseline,
			:has_baseline, :window_size, :factor, :mean_price, :price_change_pct, :is_spike
		)`

	insertDaily = `INSERT INTO report_daily_spikes (
			run_id, date, item, warehouse, description, sold, mean, std_dev, sample_count, threshold, is_spike
		) VALUES (
			:run_id, :date, :item, :warehouse, :description, :sold, :mean, :std_dev, :sample_count, :threshold, :is_spike
		)`
)

// SaveRun stores a run and its tables in one transaction. Runs are never
// updated; saving an existing id fails.
func (r *reportRepository) SaveRun(ctx context.Context, run domain.ReportRun, tables RunTables) error {
	return r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, insertRun, run); err != nil {
			return fmt.Errorf("error saving report run: %w", err)
		}

		periods := make([]periodRow, len(tables.Periods))
		for i, p := range tables.Periods {
			periods[i] = periodRow{RunID: run.ID, PeriodAggregate: p}
		}
		if err := insertChunks(ctx, tx, insertPeriod, periods); err != nil {
			return fmt.Errorf("error saving monthly totals: %w", err)
		}

		transfers := make([]transferRow, len(tables.Transfers))
		for i, t := range tables.Transfers {
			transfers[i] = transferRow{RunID: run.ID, TransferEvent: t}
		}
		if err := insertChunks(ctx, tx, insertTransfer, transfers); err != nil {
			return fmt.Errorf("error saving transfers: %w", err)
		}

		rolling := make([]rollingRow, len(tables.RollingSpikes))
		for i, s := range tables.RollingSpikes {
			rolling[i] = rollingRow{RunID: run.ID, RollingSpike: s}
		}
		if err := insertChunks(ctx, tx, insertRolling, rolling); err != nil {
			return fmt.Errorf("error saving monthly spikes: %w", err)
		}

		daily := make([]dailyRow, len(tables.DailySpikes))
		for i, s := range tables.DailySpikes {
			daily[i] = dailyRow{RunID: run.ID, DailySpike: s}
		}
		if err := insertChunks(ctx, tx, insertDaily, daily); err != nil {
			return fmt.Errorf("error saving daily spikes: %w", err)
		}
		return nil
	})
}

// insertChunks runs a batched named insert, keeping each statement under
// the bind-variable limits of both drivers.
func insertChunks[T any](ctx context.Context, tx *sqlx.Tx, query string, rows []T) error {
	for start := 0; start < len(rows); start += insertChunk {
		end := min(start+insertChunk, len(rows))
		if _, err := tx.NamedExecContext(ctx, query, rows[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (r *reportRepository) LatestRun(ctx context.Context) (*domain.ReportRun, error) {
	var run domain.ReportRun
	query := `
		SELECT id, created_at, observations, transfers, periods
		FROM report_runs
		ORDER BY created_at DESC
		LIMIT 1
	`
	if err := r.db.GetContext(ctx, &run, query); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoRun
		}
		return nil, fmt.Errorf("error getting latest run: %w", err)
	}
	return &run, nil
}

func (r *reportRepository) ListRuns(ctx context.Context, limit int) ([]domain.ReportRun, error) {
	if limit <= 0 {
		limit = 20
	}
	query := r.db.Rebind(`
		SELECT id, created_at, observations, transfers, periods
		FROM report_runs
		ORDER BY created_at DESC
		LIMIT ?
	`)

	runs := []domain.ReportRun{}
	if err := r.db.SelectContext(ctx, &runs, query, limit); err != nil {
		return nil, fmt.Errorf("error listing runs: %w", err)
	}
	return runs, nil
}

func (r *reportRepository) GetWarehouses(ctx context.Context, runID string) ([]string, error) {
	query := r.db.Rebind(`
		SELECT DISTINCT warehouse
		FROM report_periods
		WHERE run_id = ?
		ORDER BY warehouse
	`)

	warehouses := []string{}
	if err := r.db.SelectContext(ctx, &warehouses, query, runID); err != nil {
		return nil, fmt.Errorf("error getting warehouses: %w", err)
	}
	return warehouses, nil
}

// filterClause builds "AND ..." conditions with ? placeholders.
func filterClause(filter domain.ReportFilter, withDescription bool) (string, []interface{}) {
	var (
		conditions []string
		args       []interface{}
	)

	if len(filter.Warehouses) > 0 {
		conditions = append(conditions, "warehouse IN (?)")
		args = append(args, filter.Warehouses)
	}
	if filter.Item != "" {
		conditions = append(conditions, "item = ?")
		args = append(args, filter.Item)
	}
	if withDescription && filter.Description != "" {
		conditions = append(conditions, "description = ?")
		args = append(args, filter.Description)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " AND " + strings.Join(conditions, " AND "), args
}

// bind expands IN lists and rewrites placeholders for the active driver.
func (r *reportRepository) bind(query string, args []interface{}) (string, []interface{}, error) {
	if hasList(args) {
		var err error
		query, args, err = sqlx.In(query, args...)
		if err != nil {
			return "", nil, err
		}
	}
	return r.db.Rebind(query), args, nil
}

func hasList(args []interface{}) bool {
	for _, a := range args {
		if _, ok := a.([]string); ok {
			return true
		}
	}
	return false
}

func (r *reportRepository) topItems(ctx context.Context, runID, column, extra string, filter domain.ReportFilter) ([]domain.TopItem, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	clause, filterArgs := filterClause(filter, true)
	query := fmt.Sprintf(`
		SELECT warehouse, description, item, SUM(%[1]s) AS total
		FROM report_periods
		WHERE run_id = ?%[2]s%[3]s
		GROUP BY warehouse, description, item
		ORDER BY total DESC, warehouse, item
		LIMIT ?
	`, column, extra, clause)

	args := append([]interface{}{runID}, filterArgs...)
	args = append(args, limit)
	query, args, err := r.bind(query, args)
	if err != nil {
		return nil, err
	}

	items := []domain.TopItem{}
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, err
	}
	return items, nil
}

func (r *reportRepository) GetTopFastMovers(ctx context.Context, runID string, filter domain.ReportFilter) ([]domain.TopItem, error) {
	items, err := r.topItems(ctx, runID, "total_sold", " AND total_sold > 0", filter)
	if err != nil {
		return nil, fmt.Errorf("error getting fast movers: %w", err)
	}
	return items, nil
}

func (r *reportRepository) GetTopRestocked(ctx context.Context, runID string, filter domain.ReportFilter) ([]domain.TopItem, error) {
	items, err := r.topItems(ctx, runID, "total_restocked", "", filter)
	if err != nil {
		return nil, fmt.Errorf("error getting top restocked: %w", err)
	}
	return items, nil
}

// GetMonthlySpikes returns the most recent Limit rows in chronological order.
func (r *reportRepository) GetMonthlySpikes(ctx context.Context, runID string, filter domain.ReportFilter) ([]domain.RollingSpike, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}

	clause, filterArgs := filterClause(filter, true)
	query := `
		SELECT year, month, item, warehouse, description, total_sold, baseline,
		       has_baseline, window_size, factor, mean_price, price_change_pct, is_spike
		FROM report_monthly_spikes
		WHERE run_id = ?` + clause + `
		ORDER BY year DESC, month DESC, warehouse DESC, item DESC
		LIMIT ?
	`
	args := append([]interface{}{runID}, filterArgs...)
	args = append(args, limit)
	query, args, err := r.bind(query, args)
	if err != nil {
		return nil, err
	}

	spikes := []domain.RollingSpike{}
	if err := r.db.SelectContext(ctx, &spikes, query, args...); err != nil {
		return nil, fmt.Errorf("error getting monthly spikes: %w", err)
	}
	slices.Reverse(spikes)
	return spikes, nil
}

func (r *reportRepository) GetDailySpikes(ctx context.Context, runID string, filter domain.ReportFilter) ([]domain.DailySpike, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}

	clause, filterArgs := filterClause(filter, true)
	query := `
		SELECT date, item, warehouse, description, sold, mean, std_dev, sample_count, threshold, is_spike
		FROM report_daily_spikes
		WHERE run_id = ?` + clause + `
		ORDER BY date, warehouse, item
		LIMIT ?
	`
	args := append([]interface{}{runID}, filterArgs...)
	args = append(args, limit)
	query, args, err := r.bind(query, args)
	if err != nil {
		return nil, err
	}

	spikes := []domain.DailySpike{}
	if err := r.db.SelectContext(ctx, &spikes, query, args...); err != nil {
		return nil, fmt.Errorf("error getting daily spikes: %w", err)
	}
	return spikes, nil
}

// GetSpikeDescriptions lists description options for the spike filters.
// Without a warehouse or item there is nothing to narrow, so the list is empty.
func (r *reportRepository) GetSpikeDescriptions(ctx context.Context, runID string, filter domain.ReportFilter) ([]string, error) {
	if len(filter.Warehouses) == 0 && filter.Item == "" {
		return []string{}, nil
	}

	clause, filterArgs := filterClause(filter, false)
	query := `
		SELECT DISTINCT description
		FROM report_monthly_spikes
		WHERE run_id = ? AND description <> ''` + clause + `
		ORDER BY description
	`
	query, args, err := r.bind(query, append([]interface{}{runID}, filterArgs...))
	if err != nil {
		return nil, err
	}

	descriptions := []string{}
	if err := r.db.SelectContext(ctx, &descriptions, query, args...); err != nil {
		return nil, fmt.Errorf("error getting descriptions: %w", err)
	}
	return descriptions, nil
}

func (r *reportRepository) GetTransfers(ctx context.Context, runID string, filter domain.ReportFilter) ([]domain.TransferEvent, error) {
	var (
		conditions []string
		args       = []interface{}{runID}
	)
	if len(filter.Warehouses) > 0 {
		conditions = append(conditions, "(from_warehouse IN (?) OR to_warehouse IN (?))")
		args = append(args, filter.Warehouses, filter.Warehouses)
	}
	if filter.Item != "" {
		conditions = append(conditions, "item = ?")
		args = append(args, filter.Item)
	}

	query := `
		SELECT date, item, from_warehouse, to_warehouse, quantity, ambiguous
		FROM report_transfers
		WHERE run_id = ?`
	if len(conditions) > 0 {
		query += " AND " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY date, from_warehouse, to_warehouse, item"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	query, args, err := r.bind(query, args)
	if err != nil {
		return nil, err
	}

	transfers := []domain.TransferEvent{}
	if err := r.db.SelectContext(ctx, &transfers, query, args...); err != nil {
		return nil, fmt.Errorf("error getting transfers: %w", err)
	}
	return transfers, nil
}
