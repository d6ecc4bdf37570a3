package analytics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/architecte-ia/etsy-analytics-pro/internal/domain"
	"github.com/architecte-ia/etsy-analytics-pro/internal/infra/observability"
	"github.com/architecte-ia/etsy-analytics-pro/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var tracer = otel.Tracer("analytics")

// Engine computes dashboards from uploads. Parsed tables are memoized by
// content hash so re-running a dashboard on the same file skips parsing.
type Engine struct {
	tables  port.Cache[*Table]
	group   singleflight.Group
	metrics *observability.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func NewEngine(tables port.Cache[*Table], metrics *observability.Metrics, logger *zap.Logger) *Engine {
	return &Engine{
		tables:  tables,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// WithClock overrides the reference time of the period filter.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Analyze runs one dashboard over the uploaded files.
func (e *Engine) Analyze(ctx context.Context, in domain.AnalysisInput) (_ *domain.AnalysisResult, err error) {
	ctx, span := tracer.Start(ctx, "Engine.Analyze")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	span.SetAttributes(
		attribute.String("dashboard", string(in.Dashboard)),
		attribute.Int("files", len(in.Files)),
	)

	res := &domain.AnalysisResult{Dashboard: in.Dashboard, GeneratedAt: e.now().UTC()}
	switch in.Dashboard {
	case domain.DashboardFinance:
		res.Finance, err = e.finance(ctx, in)
	case domain.DashboardCustomer:
		res.Customers, err = e.customers(ctx, in)
	case domain.DashboardSEO:
		res.SEO, err = e.seo(ctx, in)
	default:
		err = &domain.ErrValidation{Field: "dashboard", Message: "unknown dashboard " + string(in.Dashboard)}
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (e *Engine) finance(ctx context.Context, in domain.AnalysisInput) (*domain.FinanceReport, error) {
	sales, err := e.salesFrom(ctx, in.Files)
	if err != nil {
		return nil, err
	}

	fi := financeInput{Sales: sales, Options: in.Finance, Now: e.now()}

	if in.Finance.CostMethod == domain.CostMethodFile {
		if f, ok := fileByRole(in.Files, domain.FileRoleCosts); ok {
			costs, err := e.costs(ctx, f)
			if err != nil {
				return nil, err
			}
			fi.Costs = costs
		}
	}

	if in.Finance.FeeMode == domain.FeeModeStatement {
		if f, ok := fileByRole(in.Files, domain.FileRoleStatement); ok {
			t, err := e.table(ctx, f.Content)
			if err != nil {
				fi.StatementErr = err
			} else {
				fi.Statement, _ = t.Remap(statementSynonyms)
			}
		}
	}

	return computeFinance(fi)
}

func (e *Engine) customers(ctx context.Context, in domain.AnalysisInput) (*domain.CustomerReport, error) {
	sales, err := e.salesFrom(ctx, in.Files)
	if err != nil {
		return nil, err
	}
	return computeCustomers(sales)
}

func (e *Engine) seo(ctx context.Context, in domain.AnalysisInput) (*domain.SEOReport, error) {
	f, ok := fileByRole(in.Files, domain.FileRoleListings)
	if !ok {
		return nil, &domain.ErrValidation{Field: "listings", Message: "upload your listings export"}
	}
	t, err := e.table(ctx, f.Content)
	if err != nil {
		return nil, &domain.ErrDataFormat{File: f.Name, Reason: err.Error()}
	}
	t, _ = t.Remap(listingSynonyms)
	if missing := t.Missing(listingRequired...); len(missing) > 0 {
		return nil, &domain.ErrDataFormat{File: f.Name, Missing: missing}
	}
	return computeSEO(t)
}

func (e *Engine) salesFrom(ctx context.Context, files []domain.UploadedFile) (salesSet, error) {
	f, ok := fileByRole(files, domain.FileRoleOrders)
	if !ok {
		return salesSet{}, &domain.ErrValidation{Field: "orders", Message: "upload your Etsy order items export"}
	}
	t, err := e.table(ctx, f.Content)
	if err != nil {
		return salesSet{}, &domain.ErrDataFormat{File: f.Name, Reason: err.Error()}
	}

	t, renamed := t.Remap(salesSynonyms)
	if missing := t.Missing(salesRequired...); len(missing) > 0 {
		return salesSet{}, &domain.ErrDataFormat{File: f.Name, Missing: missing}
	}
	if len(renamed) > 0 {
		e.logger.Debug("columns remapped", zap.Any("renamed", renamed))
	}

	sales := loadSales(t)
	if len(sales.Records) == 0 {
		return salesSet{}, &domain.ErrDataFormat{File: f.Name, Reason: "no valid sales rows after cleanup"}
	}
	return sales, nil
}

// costs reads the (Product, Cost) override file.
func (e *Engine) costs(ctx context.Context, f domain.UploadedFile) (map[string]float64, error) {
	t, err := e.table(ctx, f.Content)
	if err != nil {
		return nil, &domain.ErrDataFormat{File: f.Name, Reason: err.Error()}
	}
	t, _ = t.Remap(costSynonyms)
	if missing := t.Missing(costRequired...); len(missing) > 0 {
		return nil, &domain.ErrDataFormat{File: f.Name, Missing: missing}
	}

	out := make(map[string]float64, t.Len())
	for i := 0; i < t.Len(); i++ {
		v, _ := ParseNumber(t.Value(i, ColCost))
		out[t.Value(i, ColProduct)] = v
	}
	return out, nil
}

// table parses content once per distinct hash. Concurrent requests for
// the same upload share a single parse.
func (e *Engine) table(ctx context.Context, content []byte) (*Table, error) {
	sum := sha256.Sum256(content)
	key := hex.EncodeToString(sum[:])

	if t, ok := e.tables.Get(key); ok {
		e.recordCache(true)
		return t, nil
	}
	e.recordCache(false)

	v, err, _ := e.group.Do(key, func() (any, error) {
		_, span := tracer.Start(ctx, "Engine.ParseCSV")
		defer span.End()

		t, err := ReadCSV(content)
		if err != nil {
			return nil, err
		}
		e.tables.Set(key, t)
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Table), nil
}

func (e *Engine) recordCache(hit bool) {
	if e.metrics == nil {
		return
	}
	if hit {
		e.metrics.IncrCacheHit("parse")
	} else {
		e.metrics.IncrCacheMiss("parse")
	}
}

// fileByRole picks the file with the given role. An upload without a role
// counts as the primary export.
func fileByRole(files []domain.UploadedFile, role domain.FileRole) (domain.UploadedFile, bool) {
	for _, f := range files {
		if f.Role == role && len(f.Content) > 0 {
			return f, true
		}
	}
	if role == domain.FileRoleOrders || role == domain.FileRoleListings {
		for _, f := range files {
			if f.Role == "" && len(f.Content) > 0 {
				return f, true
			}
		}
	}
	return domain.UploadedFile{}, false
}
