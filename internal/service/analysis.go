package service

import (
	"context"
	"time"

	"github.com/architecte-ia/etsy-analytics-pro/internal/domain"
	"github.com/architecte-ia/etsy-analytics-pro/internal/infra/observability"
	"github.com/architecte-ia/etsy-analytics-pro/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var analysisTracer = otel.Tracer("service/analysis")

// Analyzer computes one dashboard. Implemented by analytics.Engine.
type Analyzer interface {
	Analyze(ctx context.Context, in domain.AnalysisInput) (*domain.AnalysisResult, error)
}

// AnalysisService runs a dashboard for a customer: entitlement and quota
// checks, computation, then best-effort collection.
type AnalysisService struct {
	engine    Analyzer
	access    *AccessManager
	collector port.Collector
	metrics   *observability.Metrics
	logger    *zap.Logger
}

// NewAnalysisService creates a new analysis service.
func NewAnalysisService(engine Analyzer, access *AccessManager, collector port.Collector, metrics *observability.Metrics, logger *zap.Logger) *AnalysisService {
	return &AnalysisService{
		engine:    engine,
		access:    access,
		collector: collector,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run analyzes the uploads of c. Collection outcomes never turn into errors.
func (s *AnalysisService) Run(ctx context.Context, c *domain.Customer, in domain.AnalysisInput) (*domain.AnalysisResult, []domain.CollectOutcome, error) {
	ctx, span := analysisTracer.Start(ctx, "AnalysisService.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("customer.id", c.ID),
		attribute.String("dashboard", string(in.Dashboard)),
	)

	start := time.Now()
	defer func() {
		s.metrics.RecordRequestDuration("analyze."+string(in.Dashboard), time.Since(start))
	}()

	if err := s.access.Authorize(c, in.Dashboard); err != nil {
		return nil, nil, err
	}
	if err := s.access.CheckQuota(c); err != nil {
		return nil, nil, err
	}

	result, err := s.engine.Analyze(ctx, in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.IncrAnalysis(in.Dashboard, "error")
		s.logger.Info("analysis rejected",
			zap.String("customer_id", c.ID),
			zap.String("dashboard", string(in.Dashboard)),
			zap.Error(err),
		)
		return nil, nil, err
	}

	usage, err := s.access.ConsumeAnalysis(ctx, c)
	if err != nil {
		return nil, nil, err
	}
	if usage.Limited {
		result.Usage = usage
	}

	outcomes := s.collector.Collect(ctx, c, in.Dashboard, in.Files, result)

	s.metrics.IncrAnalysis(in.Dashboard, "ok")
	s.logger.Info("analysis completed",
		zap.String("customer_id", c.ID),
		zap.String("dashboard", string(in.Dashboard)),
		zap.Int("files", len(in.Files)),
		zap.Int("collected", len(outcomes)),
	)
	return result, outcomes, nil
}
