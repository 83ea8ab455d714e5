// internal/api/api.go
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/andresuchdata/stockrecon/internal/api/handlers"
	"github.com/andresuchdata/stockrecon/internal/api/middleware"
)

type Services struct {
	Reports handlers.ReportService
}

func NewRouter(services *Services, allowedOrigins []string) *gin.Engine {
	router := gin.New()

	router.Use(middleware.Logger())
	router.Use(middleware.Recovery())
	defaultOrigins := []string{"http://localhost:3000", "http://127.0.0.1:3000"}
	corsConfig := cors.Config{
		AllowOrigins:     defaultOrigins,
		AllowMethods:     []string{"GET", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) > 0 {
		normalizedOrigins, allowAll := normalizeAllowedOrigins(allowedOrigins)
		if allowAll {
			corsConfig.AllowOrigins = nil
			corsConfig.AllowOriginFunc = func(origin string) bool { return true }
		} else if len(normalizedOrigins) > 0 {
			corsConfig.AllowOrigins = normalizedOrigins
		}
	}
	router.Use(cors.New(corsConfig))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	apiGroup := router.Group("/api/v1")

	if services != nil && services.Reports != nil {
		reportHandler := handlers.NewReportHandler(services.Reports)
		reportGroup := apiGroup.Group("/reports")
		{
			reportGroup.GET("/runs", reportHandler.GetRuns)
			reportGroup.GET("/dashboard", reportHandler.GetDashboard)
			reportGroup.GET("/warehouses", reportHandler.GetWarehouses)
			reportGroup.GET("/fast_movers", reportHandler.GetFastMovers)
			reportGroup.GET("/top_restocked", reportHandler.GetTopRestocked)
			reportGroup.GET("/transfers", reportHandler.GetTransfers)

			spikeGroup := reportGroup.Group("/spikes")
			{
				spikeGroup.GET("/monthly", reportHandler.GetMonthlySpikes)
				spikeGroup.GET("/daily", reportHandler.GetDailySpikes)
				spikeGroup.GET("/descriptions", reportHandler.GetDescriptions)
				spikeGroup.GET("/export", reportHandler.ExportSpikes)
			}
		}
	}

	return router
}

func normalizeAllowedOrigins(origins []string) ([]string, bool) {
	var (
		parsed   []string
		allowAll bool
	)
	for _, origin := range origins {
		parts := strings.Split(origin, ",")
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed == "" {
				continue
			}
			if trimmed == "*" {
				allowAll = true
				continue
			}
			parsed = append(parsed, trimmed)
		}
	}
	return parsed, allowAll
}
