package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/architecte-ia/etsy-analytics-pro/internal/domain"
	"github.com/architecte-ia/etsy-analytics-pro/internal/infra/observability"

	"go.uber.org/zap"
)

func healthzHandler(checks []HealthCheck, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		now := time.Now().Format(time.RFC3339)

		services := []domain.ServiceHealth{
			{Name: "etsy-analytics-pro", Status: "healthy", LastChecked: now},
		}
		for _, hc := range checks {
			start := time.Now()
			err := hc.Check(ctx)
			status := "healthy"
			if err != nil {
				status = "degraded"
				logger.Warn("health check failed", zap.String("service", hc.Name), zap.Error(err))
			}
			services = append(services, domain.ServiceHealth{
				Name:        hc.Name,
				Status:      status,
				LatencyMs:   time.Since(start).Milliseconds(),
				LastChecked: now,
			})
		}

		overallStatus := "healthy"
		for _, s := range services {
			if s.Status == "unhealthy" {
				overallStatus = "unhealthy"
				break
			}
			if s.Status == "degraded" {
				overallStatus = "degraded"
			}
		}

		writeJSON(w, http.StatusOK, domain.HealthStatus{
			Status:   overallStatus,
			Services: services,
		})
	}
}

func usageStatsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.GetUsageSnapshot())
	}
}
