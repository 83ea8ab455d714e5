package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/andresuchdata/stockrecon/internal/cache"
	"github.com/andresuchdata/stockrecon/internal/domain"
	"github.com/andresuchdata/stockrecon/internal/report"
	"github.com/andresuchdata/stockrecon/internal/repository"
)

const (
	defaultTopN       = 100
	defaultSpikeLimit = 200
)

// Limits are the dashboard defaults applied when a filter has no limit.
type Limits struct {
	TopN       int
	SpikeLimit int
}

// ReportService answers dashboard queries against stored runs. An empty run
// id means the latest run.
type ReportService struct {
	repo   repository.ReportRepository
	cache  cache.ReportCache
	limits Limits
	log    zerolog.Logger
}

func NewReportService(repo repository.ReportRepository, cacheImpl cache.ReportCache, limits Limits, log zerolog.Logger) *ReportService {
	if cacheImpl == nil {
		cacheImpl = cache.NewNoopReportCache()
	}
	if limits.TopN <= 0 {
		limits.TopN = defaultTopN
	}
	if limits.SpikeLimit <= 0 {
		limits.SpikeLimit = defaultSpikeLimit
	}
	return &ReportService{
		repo:   repo,
		cache:  cacheImpl,
		limits: limits,
		log:    log.With().Str("component", "report_service").Logger(),
	}
}

// cached reads kind for a run through the cache. Cache failures are logged
// and fall through to the repository.
func cached[T any](ctx context.Context, s *ReportService, kind, runID string, filter domain.ReportFilter, load func() (T, error)) (T, error) {
	key := cache.ReportKey(kind+":"+runID, &filter)

	var out T
	if ok, err := s.cache.Get(ctx, key, &out); err == nil && ok {
		return out, nil
	} else if err != nil {
		s.log.Warn().Err(err).Str("kind", kind).Msg("cache get failed")
	}

	out, err := load()
	if err != nil {
		return out, err
	}

	if err := s.cache.Set(ctx, key, out); err != nil {
		s.log.Warn().Err(err).Str("kind", kind).Msg("cache set failed")
	}
	return out, nil
}

func (s *ReportService) resolveRun(ctx context.Context, runID string) (string, error) {
	if runID != "" {
		return runID, nil
	}
	run, err := s.repo.LatestRun(ctx)
	if err != nil {
		return "", err
	}
	return run.ID, nil
}

func (s *ReportService) LatestRun(ctx context.Context) (*domain.ReportRun, error) {
	return s.repo.LatestRun(ctx)
}

func (s *ReportService) ListRuns(ctx context.Context, limit int) ([]domain.ReportRun, error) {
	return s.repo.ListRuns(ctx, limit)
}

func (s *ReportService) Warehouses(ctx context.Context, runID string) ([]string, error) {
	runID, err := s.resolveRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	return cached(ctx, s, "warehouses", runID, domain.ReportFilter{}, func() ([]string, error) {
		return s.repo.GetWarehouses(ctx, runID)
	})
}

func (s *ReportService) TopFastMovers(ctx context.Context, runID string, filter domain.ReportFilter) ([]domain.TopItem, error) {
	runID, err := s.resolveRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	filter = s.withLimit(filter, s.limits.TopN)
	return cached(ctx, s, "fast_movers", runID, filter, func() ([]domain.TopItem, error) {
		return s.repo.GetTopFastMovers(ctx, runID, filter)
	})
}

func (s *ReportService) TopRestocked(ctx context.Context, runID string, filter domain.ReportFilter) ([]domain.TopItem, error) {
	runID, err := s.resolveRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	filter = s.withLimit(filter, s.limits.TopN)
	return cached(ctx, s, "top_restocked", runID, filter, func() ([]domain.TopItem, error) {
		return s.repo.GetTopRestocked(ctx, runID, filter)
	})
}

// MonthlySpikes returns the latest monthly spike rows in chronological order.
func (s *ReportService) MonthlySpikes(ctx context.Context, runID string, filter domain.ReportFilter) ([]domain.RollingSpike, error) {
	runID, err := s.resolveRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	filter = s.withLimit(filter, s.limits.SpikeLimit)
	return cached(ctx, s, "monthly_spikes", runID, filter, func() ([]domain.RollingSpike, error) {
		return s.repo.GetMonthlySpikes(ctx, runID, filter)
	})
}

func (s *ReportService) DailySpikes(ctx context.Context, runID string, filter domain.ReportFilter) ([]domain.DailySpike, error) {
	runID, err := s.resolveRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	filter = s.withLimit(filter, s.limits.SpikeLimit)
	return cached(ctx, s, "daily_spikes", runID, filter, func() ([]domain.DailySpike, error) {
		return s.repo.GetDailySpikes(ctx, runID, filter)
	})
}

// Descriptions lists the item descriptions selectable for a warehouse or
// item. Without either the list is empty.
func (s *ReportService) Descriptions(ctx context.Context, runID string, filter domain.ReportFilter) ([]string, error) {
	if len(filter.Warehouses) == 0 && filter.Item == "" {
		return []string{}, nil
	}
	runID, err := s.resolveRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	filter.Description = ""
	return cached(ctx, s, "descriptions", runID, filter, func() ([]string, error) {
		return s.repo.GetSpikeDescriptions(ctx, runID, filter)
	})
}

func (s *ReportService) Transfers(ctx context.Context, runID string, filter domain.ReportFilter) ([]domain.TransferEvent, error) {
	runID, err := s.resolveRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	return cached(ctx, s, "transfers", runID, filter, func() ([]domain.TransferEvent, error) {
		return s.repo.GetTransfers(ctx, runID, filter)
	})
}

// Dashboard gathers the landing page for the latest run.
func (s *ReportService) Dashboard(ctx context.Context, filter domain.ReportFilter) (*domain.Dashboard, error) {
	run, err := s.repo.LatestRun(ctx)
	if err != nil {
		return nil, err
	}

	warehouses, err := s.Warehouses(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	if warehouses == nil {
		warehouses = make([]string, 0)
	}

	fast, err := s.TopFastMovers(ctx, run.ID, filter)
	if err != nil {
		return nil, err
	}
	if fast == nil {
		fast = make([]domain.TopItem, 0)
	}

	restocked, err := s.TopRestocked(ctx, run.ID, filter)
	if err != nil {
		return nil, err
	}
	if restocked == nil {
		restocked = make([]domain.TopItem, 0)
	}

	spikes, err := s.MonthlySpikes(ctx, run.ID, filter)
	if err != nil {
		return nil, err
	}
	flagged := 0
	for _, sp := range spikes {
		if sp.IsSpike {
			flagged++
		}
	}

	return &domain.Dashboard{
		Run:        run,
		Warehouses: warehouses,
		FastMovers: fast,
		TopRestock: restocked,
		SpikeCount: flagged,
		Transfers:  run.Transfers,
	}, nil
}

// ExportSpikes renders the filtered monthly spikes as an XLSX workbook.
func (s *ReportService) ExportSpikes(ctx context.Context, runID string, filter domain.ReportFilter) ([]byte, error) {
	spikes, err := s.MonthlySpikes(ctx, runID, filter)
	if err != nil {
		return nil, err
	}
	data, err := report.XLSXBytes(report.MonthlySpikesTable(spikes))
	if err != nil {
		return nil, fmt.Errorf("failed to export spikes: %w", err)
	}
	return data, nil
}

func (s *ReportService) withLimit(filter domain.ReportFilter, limit int) domain.ReportFilter {
	if filter.Limit <= 0 {
		filter.Limit = limit
	}
	return filter
}
