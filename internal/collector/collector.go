// Package collector stores uploads or anonymized aggregates for customers
// who agreed to data collection. It never fails the caller: problems are
// logged and reported in the outcomes.
package collector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/architecte-ia/etsy-analytics-pro/internal/config"
	"github.com/architecte-ia/etsy-analytics-pro/internal/domain"
	"github.com/architecte-ia/etsy-analytics-pro/internal/infra/observability"
	"github.com/architecte-ia/etsy-analytics-pro/internal/infra/resilience"
	"github.com/architecte-ia/etsy-analytics-pro/internal/port"

	jsoniter "github.com/json-iterator/go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	tracer = otel.Tracer("collector")
	json   = jsoniter.ConfigCompatibleWithStandardLibrary
)

const timestampLayout = "20060102_150405.000"

// Collector implements port.Collector.
type Collector struct {
	store    port.BlobStore
	mode     string
	bulkhead *resilience.Bulkhead
	metrics  *observability.Metrics
	logger   *zap.Logger
	now      func() time.Time
	locks    sync.Map // manifest path -> *sync.Mutex
}

// New builds a collector. mode is config.CollectionRaw,
// config.CollectionAggregate or config.CollectionOff.
func New(store port.BlobStore, mode string, maxConcurrency int, metrics *observability.Metrics, logger *zap.Logger) *Collector {
	return &Collector{
		store:    store,
		mode:     mode,
		bulkhead: resilience.NewBulkhead(maxConcurrency),
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// Collect is a no-op unless the customer's stored consent is accepted.
func (c *Collector) Collect(ctx context.Context, cust *domain.Customer, dashboard domain.Dashboard, files []domain.UploadedFile, result *domain.AnalysisResult) []domain.CollectOutcome {
	if cust == nil || cust.ConsentState() != domain.ConsentAccepted || c.mode == config.CollectionOff {
		return nil
	}

	ctx, span := tracer.Start(ctx, "Collector.Collect")
	defer span.End()
	span.SetAttributes(
		attribute.String("mode", c.mode),
		attribute.String("dashboard", string(dashboard)),
		attribute.String("backend", c.store.Name()),
	)

	userID := cust.AnonymousID()
	var outcomes []domain.CollectOutcome
	if c.mode == config.CollectionAggregate {
		outcomes = []domain.CollectOutcome{c.collectAggregate(ctx, userID, dashboard, result)}
	} else {
		outcomes = c.collectRaw(ctx, userID, dashboard, files)
	}

	for _, o := range outcomes {
		switch {
		case o.Err != "":
			c.metrics.IncrCollected("error")
		case o.Skipped:
			c.metrics.IncrCollected("skipped")
		case o.Stored:
			c.metrics.IncrCollected("stored")
		}
	}
	return outcomes
}

func (c *Collector) collectRaw(ctx context.Context, userID string, dashboard domain.Dashboard, files []domain.UploadedFile) []domain.CollectOutcome {
	mpath := manifestPath(userID, dashboard)
	unlock := c.lock(mpath)
	defer unlock()

	m, err := loadManifest(ctx, c.store, mpath)
	if err != nil {
		c.logger.Warn("collector: manifest unreadable, starting fresh",
			zap.String("path", mpath), zap.Error(err))
	}

	ts := c.now().UTC().Format(timestampLayout)
	outcomes := make([]domain.CollectOutcome, len(files))
	var g errgroup.Group
	seen := make(map[string]bool, len(files))
	for i, f := range files {
		name := uniqueName(seen, safeName(f.Name), f.Role, i)
		sum := sha256.Sum256(f.Content)
		hash := hex.EncodeToString(sum[:])
		outcomes[i] = domain.CollectOutcome{File: name, Hash: hash}

		if len(f.Content) == 0 {
			outcomes[i].Skipped = true
			continue
		}
		if prev, ok := m.Files[name]; ok && prev.Hash == hash {
			outcomes[i].Skipped = true
			outcomes[i].Path = prev.Path
			continue
		}

		i, f := i, f
		objPath := "raw_data/" + userID + "/" + string(dashboard) + "/" + ts + "/" + name
		outcomes[i].Path = objPath
		g.Go(func() error {
			err := c.bulkhead.Do(ctx, func() error {
				return c.store.Put(ctx, objPath, f.Content, "text/csv")
			})
			if err != nil {
				outcomes[i].Err = err.Error()
				c.logger.Warn("collector: upload failed",
					zap.String("path", objPath), zap.Error(err))
				return nil
			}
			outcomes[i].Stored = true
			return nil
		})
	}
	_ = g.Wait()

	changed := false
	for _, o := range outcomes {
		if o.Stored {
			m.Files[o.File] = manifestEntry{Hash: o.Hash, Path: o.Path, StoredAt: c.now().UTC()}
			changed = true
		}
	}
	if changed {
		if err := m.save(ctx, c.store, mpath); err != nil {
			c.logger.Warn("collector: manifest not saved", zap.String("path", mpath), zap.Error(err))
		}
	}

	c.logger.Info("collector: raw files processed",
		zap.String("dashboard", string(dashboard)),
		zap.Int("files", len(files)),
		zap.String("backend", c.store.Name()),
	)
	return outcomes
}

func (c *Collector) collectAggregate(ctx context.Context, userID string, dashboard domain.Dashboard, result *domain.AnalysisResult) domain.CollectOutcome {
	rec := Aggregate(result, c.now().UTC())
	objPath := "aggregates/" + userID + "/" + string(dashboard) + "/" + c.now().UTC().Format(timestampLayout) + ".json"
	out := domain.CollectOutcome{File: "aggregate.json", Path: objPath}
	if rec == nil {
		out.Skipped = true
		return out
	}

	data, err := json.Marshal(rec)
	if err == nil {
		err = c.bulkhead.Do(ctx, func() error {
			return c.store.Put(ctx, objPath, data, "application/json")
		})
	}
	if err != nil {
		out.Err = err.Error()
		c.logger.Warn("collector: aggregate not stored", zap.String("path", objPath), zap.Error(err))
		return out
	}
	out.Stored = true
	return out
}

// Aggregate reduces a result to numbers only: no product titles, buyer
// names or listing text survive.
func Aggregate(result *domain.AnalysisResult, at time.Time) *domain.AggregateRecord {
	if result == nil {
		return nil
	}
	rec := &domain.AggregateRecord{Dashboard: result.Dashboard, CollectedAt: at}
	switch {
	case result.Finance != nil:
		f := result.Finance
		rec.Rows = f.Orders
		rec.Revenue = f.Revenue
		rec.Orders = f.Orders
		rec.AvgBasket = f.AvgBasket
		rec.MarginRate = f.MarginRate
		rec.Categories = make(map[string]float64, len(f.Categories))
		for _, cat := range f.Categories {
			rec.Categories[cat.Category] = cat.Share
		}
	case result.Customers != nil:
		rec.Rows = result.Customers.Customers
		rec.Customers = result.Customers.Customers
		rec.RepeatRate = result.Customers.RepeatRate
	case result.SEO != nil:
		rec.Rows = result.SEO.Listings
		rec.AvgSEOScore = result.SEO.AvgScore
	default:
		return nil
	}
	return rec
}

func (c *Collector) lock(key string) func() {
	v, _ := c.locks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// uniqueName keeps names distinct within one request: a repeated name is
// prefixed with the file role, then with its position.
func uniqueName(seen map[string]bool, name string, role domain.FileRole, i int) string {
	if seen[name] && role != "" {
		name = string(role) + "_" + name
	}
	if seen[name] {
		name = strconv.Itoa(i) + "_" + name
	}
	seen[name] = true
	return name
}

// safeName keeps the base name of an upload.
func safeName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.TrimLeft(name, ".")
	if name == "" || name == "/" {
		return "upload.csv"
	}
	return name
}
