package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/stockrecon/internal/domain"
	"github.com/andresuchdata/stockrecon/internal/repository"
)

type fakeReports struct {
	filter domain.ReportFilter
	runID  string
	err    error
}

func (f *fakeReports) ListRuns(context.Context, int) ([]domain.ReportRun, error) {
	return []domain.ReportRun{{ID: "run-1"}}, f.err
}

func (f *fakeReports) Dashboard(_ context.Context, filter domain.ReportFilter) (*domain.Dashboard, error) {
	f.filter = filter
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Dashboard{Run: &domain.ReportRun{ID: "run-1"}, SpikeCount: 2}, nil
}

func (f *fakeReports) Warehouses(_ context.Context, runID string) ([]string, error) {
	f.runID = runID
	return []string{"North"}, f.err
}

func (f *fakeReports) TopFastMovers(_ context.Context, runID string, filter domain.ReportFilter) ([]domain.TopItem, error) {
	f.runID, f.filter = runID, filter
	return []domain.TopItem{{Item: "A", Total: 3}}, f.err
}

func (f *fakeReports) TopRestocked(_ context.Context, runID string, filter domain.ReportFilter) ([]domain.TopItem, error) {
	f.runID, f.filter = runID, filter
	return nil, f.err
}

func (f *fakeReports) MonthlySpikes(_ context.Context, runID string, filter domain.ReportFilter) ([]domain.RollingSpike, error) {
	f.runID, f.filter = runID, filter
	return []domain.RollingSpike{{Item: "A", IsSpike: true}}, f.err
}

func (f *fakeReports) DailySpikes(_ context.Context, runID string, filter domain.ReportFilter) ([]domain.DailySpike, error) {
	f.runID, f.filter = runID, filter
	return nil, f.err
}

func (f *fakeReports) Descriptions(_ context.Context, runID string, filter domain.ReportFilter) ([]string, error) {
	f.runID, f.filter = runID, filter
	return []string{"Bolt"}, f.err
}

func (f *fakeReports) Transfers(_ context.Context, runID string, filter domain.ReportFilter) ([]domain.TransferEvent, error) {
	f.runID, f.filter = runID, filter
	return nil, f.err
}

func (f *fakeReports) ExportSpikes(_ context.Context, runID string, filter domain.ReportFilter) ([]byte, error) {
	f.runID, f.filter = runID, filter
	return []byte("PK"), f.err
}

func serve(t *testing.T, router *gin.Engine, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	m.Run()
}

func TestHealth(t *testing.T) {
	w := serve(t, NewRouter(nil, nil), "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestFilterParsing(t *testing.T) {
	svc := &fakeReports{}
	router := NewRouter(&Services{Reports: svc}, nil)

	w := serve(t, router, "/api/v1/reports/fast_movers?run_id=run-7&warehouse=North,South&warehouse=East&warehouse=North&item=a1-23&limit=5")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "run-7", svc.runID)
	assert.Equal(t, []string{"North", "South", "East"}, svc.filter.Warehouses)
	assert.Equal(t, "A123", svc.filter.Item)
	assert.Equal(t, 5, svc.filter.Limit)

	var body struct {
		Items []domain.TopItem `json:"items"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Items, 1)
	assert.Equal(t, 3.0, body.Items[0].Total)

	serve(t, router, "/api/v1/reports/spikes/monthly?limit=abc&description=Bolt")
	assert.Equal(t, 0, svc.filter.Limit)
	assert.Equal(t, "Bolt", svc.filter.Description)
	assert.Empty(t, svc.filter.Warehouses)
}

func TestRoutes(t *testing.T) {
	router := NewRouter(&Services{Reports: &fakeReports{}}, nil)
	for _, target := range []string{
		"/api/v1/reports/runs",
		"/api/v1/reports/dashboard",
		"/api/v1/reports/warehouses",
		"/api/v1/reports/top_restocked",
		"/api/v1/reports/transfers",
		"/api/v1/reports/spikes/monthly",
		"/api/v1/reports/spikes/daily",
		"/api/v1/reports/spikes/descriptions?item=A",
	} {
		w := serve(t, router, target)
		assert.Equal(t, http.StatusOK, w.Code, target)
	}
}

func TestExportSpikes(t *testing.T) {
	router := NewRouter(&Services{Reports: &fakeReports{}}, nil)

	w := serve(t, router, "/api/v1/reports/spikes/export?warehouse=North")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "sales_spikes_monthly.xlsx")
	assert.Equal(t, "PK", w.Body.String())
}

func TestErrors(t *testing.T) {
	router := NewRouter(&Services{Reports: &fakeReports{err: repository.ErrNoRun}}, nil)
	w := serve(t, router, "/api/v1/reports/dashboard")
	assert.Equal(t, http.StatusNotFound, w.Code)

	router = NewRouter(&Services{Reports: &fakeReports{err: errors.New("db down")}}, nil)
	w = serve(t, router, "/api/v1/reports/warehouses")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "db down")
}

func TestNormalizeAllowedOrigins(t *testing.T) {
	origins, all := normalizeAllowedOrigins([]string{"https://a.example, https://b.example", " "})
	assert.False(t, all)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, origins)

	_, all = normalizeAllowedOrigins([]string{"*"})
	assert.True(t, all)
}
