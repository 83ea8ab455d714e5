package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/andresuchdata/stockrecon/internal/domain"
	"github.com/andresuchdata/stockrecon/internal/pipeline/reconcile"
	"github.com/andresuchdata/stockrecon/internal/repository"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ReportService is what the dashboard endpoints read from.
type ReportService interface {
	ListRuns(ctx context.Context, limit int) ([]domain.ReportRun, error)
	Dashboard(ctx context.Context, filter domain.ReportFilter) (*domain.Dashboard, error)
	Warehouses(ctx context.Context, runID string) ([]string, error)
	TopFastMovers(ctx context.Context, runID string, filter domain.ReportFilter) ([]domain.TopItem, error)
	TopRestocked(ctx context.Context, runID string, filter domain.ReportFilter) ([]domain.TopItem, error)
	MonthlySpikes(ctx context.Context, runID string, filter domain.ReportFilter) ([]domain.RollingSpike, error)
	DailySpikes(ctx context.Context, runID string, filter domain.ReportFilter) ([]domain.DailySpike, error)
	Descriptions(ctx context.Context, runID string, filter domain.ReportFilter) ([]string, error)
	Transfers(ctx context.Context, runID string, filter domain.ReportFilter) ([]domain.TransferEvent, error)
	ExportSpikes(ctx context.Context, runID string, filter domain.ReportFilter) ([]byte, error)
}

type ReportHandler struct {
	service ReportService
}

func NewReportHandler(service ReportService) *ReportHandler {
	return &ReportHandler{service: service}
}

// parseFilter accepts warehouses as repeated params or comma separated:
//
//	?warehouse=North&warehouse=South
//	?warehouse=North,South
func (h *ReportHandler) parseFilter(c *gin.Context) domain.ReportFilter {
	var filter domain.ReportFilter

	seen := make(map[string]struct{})
	for _, v := range c.QueryArray("warehouse") {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if _, ok := seen[part]; ok {
				continue
			}
			seen[part] = struct{}{}
			filter.Warehouses = append(filter.Warehouses, part)
		}
	}

	// stored items are normalized, so "a1-23" must match "A123"
	filter.Item = reconcile.NormalizeItem(c.Query("item"))
	filter.Description = strings.TrimSpace(c.Query("description"))

	if limit, err := strconv.Atoi(c.Query("limit")); err == nil && limit > 0 {
		filter.Limit = limit
	}
	return filter
}

func runID(c *gin.Context) string {
	return strings.TrimSpace(c.Query("run_id"))
}

// fail maps repository errors to responses. A missing run is a 404 so the
// dashboard can show an empty state.
func fail(c *gin.Context, what string, err error) {
	if errors.Is(err, repository.ErrNoRun) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no report run available"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch " + what, "details": err.Error()})
}

func (h *ReportHandler) GetRuns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	runs, err := h.service.ListRuns(c.Request.Context(), limit)
	if err != nil {
		fail(c, "runs", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (h *ReportHandler) GetDashboard(c *gin.Context) {
	data, err := h.service.Dashboard(c.Request.Context(), h.parseFilter(c))
	if err != nil {
		fail(c, "dashboard", err)
		return
	}
	c.JSON(http.StatusOK, data)
}

func (h *ReportHandler) GetWarehouses(c *gin.Context) {
	warehouses, err := h.service.Warehouses(c.Request.Context(), runID(c))
	if err != nil {
		fail(c, "warehouses", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"warehouses": warehouses})
}

func (h *ReportHandler) GetFastMovers(c *gin.Context) {
	items, err := h.service.TopFastMovers(c.Request.Context(), runID(c), h.parseFilter(c))
	if err != nil {
		fail(c, "fast movers", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *ReportHandler) GetTopRestocked(c *gin.Context) {
	items, err := h.service.TopRestocked(c.Request.Context(), runID(c), h.parseFilter(c))
	if err != nil {
		fail(c, "top restocked", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *ReportHandler) GetMonthlySpikes(c *gin.Context) {
	spikes, err := h.service.MonthlySpikes(c.Request.Context(), runID(c), h.parseFilter(c))
	if err != nil {
		fail(c, "monthly spikes", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"spikes": spikes})
}

func (h *ReportHandler) GetDailySpikes(c *gin.Context) {
	spikes, err := h.service.DailySpikes(c.Request.Context(), runID(c), h.parseFilter(c))
	if err != nil {
		fail(c, "daily spikes", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"spikes": spikes})
}

func (h *ReportHandler) GetDescriptions(c *gin.Context) {
	descriptions, err := h.service.Descriptions(c.Request.Context(), runID(c), h.parseFilter(c))
	if err != nil {
		fail(c, "descriptions", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"descriptions": descriptions})
}

func (h *ReportHandler) GetTransfers(c *gin.Context) {
	transfers, err := h.service.Transfers(c.Request.Context(), runID(c), h.parseFilter(c))
	if err != nil {
		fail(c, "transfers", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transfers": transfers})
}

// ExportSpikes streams the filtered monthly spikes as an XLSX download.
func (h *ReportHandler) ExportSpikes(c *gin.Context) {
	data, err := h.service.ExportSpikes(c.Request.Context(), runID(c), h.parseFilter(c))
	if err != nil {
		fail(c, "spike export", err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "sales_spikes_monthly.xlsx"))
	c.Data(http.StatusOK, xlsxContentType, data)
}
