package handler

import (
	"net/http"

	"github.com/architecte-ia/etsy-analytics-pro/internal/domain"
	"github.com/architecte-ia/etsy-analytics-pro/internal/service"
	"github.com/architecte-ia/etsy-analytics-pro/internal/session"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type meResponse struct {
	ID         string               `json:"id"`
	Email      string               `json:"email"`
	ShopName   string               `json:"shop_name,omitempty"`
	Products   []domain.Product     `json:"products"`
	Dashboards []domain.Dashboard   `json:"dashboards"`
	Consent    domain.ConsentState  `json:"consent"`
	Usage      domain.CustomerUsage `json:"usage"`
}

type dashboardEntry struct {
	ID       domain.Dashboard `json:"id"`
	Title    string           `json:"title"`
	Unlocked bool             `json:"unlocked"`
	Upsell   domain.Product   `json:"upsell,omitempty"`
}

type analyzeResponse struct {
	Result    *domain.AnalysisResult  `json:"result"`
	Collected []domain.CollectOutcome `json:"collected,omitempty"`
}

// GET /v1/me
func meHandler(access *service.AccessManager, consent *service.ConsentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c := session.FromContext(r.Context()).Customer
		writeJSON(w, http.StatusOK, meResponse{
			ID:         c.ID,
			Email:      c.Email,
			ShopName:   c.ShopName,
			Products:   c.AllProducts(),
			Dashboards: access.Dashboards(c),
			Consent:    consent.State(c),
			Usage:      access.Usage(c),
		})
	}
}

// GET /v1/dashboards
func listDashboardsHandler(access *service.AccessManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c := session.FromContext(r.Context()).Customer
		out := make([]dashboardEntry, 0, len(domain.AllDashboards))
		for _, d := range domain.AllDashboards {
			e := dashboardEntry{ID: d, Title: d.Title(), Unlocked: access.HasAccessToDashboard(c, d)}
			if !e.Unlocked {
				e.Upsell = d.UpsellProduct()
			}
			out = append(out, e)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// POST /v1/dashboards/{dashboardId}/analyze
func analyzeAPIHandler(analysis *service.AnalysisService, opts Options, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/dashboards/{dashboardId}/analyze")
		defer span.End()

		id := chi.URLParam(r, "dashboardId")
		span.SetAttributes(attribute.String("dashboard", id))
		d, ok := domain.ParseDashboard(id)
		if !ok {
			handleServiceError(w, &domain.ErrNotFound{Resource: "dashboard", ID: id}, logger)
			return
		}

		files, err := readUploads(w, r, opts.MaxUploadBytes)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		fo, err := parseFinanceOptions(r)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		c := session.FromContext(ctx).Customer
		result, outcomes, err := analysis.Run(ctx, c, domain.AnalysisInput{Dashboard: d, Files: files, Finance: fo})
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, analyzeResponse{Result: result, Collected: outcomes})
	}
}
