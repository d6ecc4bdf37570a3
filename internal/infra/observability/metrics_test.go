package observability_test

import (
	"testing"

	"github.com/architecte-ia/etsy-analytics-pro/internal/domain"
	"github.com/architecte-ia/etsy-analytics-pro/internal/infra/observability"
)

func TestUsageSnapshot(t *testing.T) {
	m := observability.NewMetrics()

	m.IncrAnalysis(domain.DashboardFinance, "ok")
	m.IncrAnalysis(domain.DashboardFinance, "ok")
	m.IncrAnalysis(domain.DashboardFinance, "error")
	m.IncrAnalysis(domain.DashboardSEO, "ok")
	m.IncrCollected("stored")
	m.IncrCollected("skipped")
	m.IncrCollected("skipped")
	m.IncrCacheHit("customer")
	m.IncrCacheMiss("customer")
	m.IncrExternalError("supabase")

	snap := m.GetUsageSnapshot()

	if got := snap.AnalysesByDashboard[string(domain.DashboardFinance)]; got != 2 {
		t.Errorf("expected 2 finance analyses, got %v", got)
	}
	if got := snap.AnalysesByDashboard[string(domain.DashboardCustomer)]; got != 0 {
		t.Errorf("expected 0 customer analyses, got %v", got)
	}
	if snap.CollectedFiles != 1 || snap.SkippedDuplicates != 2 {
		t.Errorf("unexpected collector counters: %+v", snap)
	}
	if snap.CacheHitRate != 0.5 {
		t.Errorf("expected hit rate 0.5, got %v", snap.CacheHitRate)
	}
	if snap.ExternalErrors != 1 {
		t.Errorf("expected 1 external error, got %v", snap.ExternalErrors)
	}
}

func TestNewMetrics_IndependentRegistries(t *testing.T) {
	a := observability.NewMetrics()
	b := observability.NewMetrics()

	a.IncrCollected("stored")

	if got := b.GetUsageSnapshot().CollectedFiles; got != 0 {
		t.Errorf("expected isolated registry, got %v", got)
	}
}
