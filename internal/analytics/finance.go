package analytics

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/architecte-ia/etsy-analytics-pro/internal/domain"
)

const (
	abcShare          = 0.80
	lowMarginRate     = 30.0
	lowBasket         = 30.0
	lowSalesThreshold = 2
	topSellers        = 3
	forecastWindow    = 7
	forecastDays      = 30
)

// Period filters offered by the finance dashboard.
var validPeriods = map[int]bool{0: true, 7: true, 30: true, 90: true, 365: true}

// financeInput gathers everything the finance dashboard consumes.
type financeInput struct {
	Sales        salesSet
	Options      domain.FinanceOptions
	Costs        map[string]float64 // product -> unit cost, from the override file
	Statement    *Table             // remapped monthly statement, nil when absent
	StatementErr error
	Now          time.Time
}

func computeFinance(in financeInput) (*domain.FinanceReport, error) {
	if !validPeriods[in.Options.PeriodDays] {
		return nil, &domain.ErrValidation{Field: "period_days", Message: "must be one of 0, 7, 30, 90, 365"}
	}

	warnings := append([]string(nil), in.Sales.Warnings...)
	records := applyCosts(in.Sales.Records, in.Options, in.Costs)
	if in.Options.CostMethod == domain.CostMethodNone || in.Options.CostMethod == "" {
		if !in.Sales.HasCost {
			warnings = append(warnings, "no Cost column: margins are computed without material costs")
		}
	}
	if in.Options.CostMethod == domain.CostMethodFile && in.Costs == nil {
		warnings = append(warnings, "cost file missing or unreadable: existing costs kept")
	}

	_, latest := dateRange(records)
	trailing := 0.0
	for _, r := range records {
		if !r.Date.Before(latest.AddDate(-1, 0, 0)) {
			trailing += r.Revenue()
		}
	}

	if in.Options.PeriodDays > 0 {
		cutoff := in.Now.AddDate(0, 0, -in.Options.PeriodDays)
		var filtered []SalesRecord
		for _, r := range records {
			if !r.Date.Before(cutoff) {
				filtered = append(filtered, r)
			}
		}
		if len(filtered) == 0 {
			warnings = append(warnings, fmt.Sprintf("no sales in the last %d days: showing all data", in.Options.PeriodDays))
		} else {
			records = filtered
		}
	}

	if len(records) == 0 {
		return nil, &domain.ErrDataFormat{Reason: "no valid sales rows after cleanup"}
	}

	rep := &domain.FinanceReport{Orders: len(records)}
	for _, r := range records {
		rep.Revenue += r.Revenue()
		rep.Units += r.Quantity
		rep.Shipping += r.Shipping
		rep.MaterialCost += r.Cost * float64(r.Quantity)
	}
	rep.PeriodStart, rep.PeriodEnd = dateRange(records)
	rep.AvgBasket = rep.Revenue / float64(rep.Orders)

	fin := feeInput{Revenue: rep.Revenue, Orders: rep.Orders, TrailingRevenue: trailing}
	switch in.Options.FeeMode {
	case domain.FeeModeDetailed:
		rep.Fees = detailedFees(fin, in.Options)
	case domain.FeeModeStatement:
		fb, err := statementOrEstimate(in.Statement, in.StatementErr, fin)
		if err != nil {
			warnings = append(warnings, err.Error())
		}
		rep.Fees = fb
	default:
		rep.Fees = standardFees(fin)
	}

	rep.Margin = rep.Revenue - rep.Fees.Total - rep.MaterialCost
	rep.MarginRate = pct(rep.Margin, rep.Revenue)

	rep.Products = productStats(records)
	rep.ABCCount = abcCount(rep.Products, rep.Revenue)
	rep.Categories = categoryStats(records, rep.Revenue)
	rep.Daily = dailyStats(records)
	rep.Weekdays, rep.BestWeekday = weekdayStats(records)
	if len(records) > forecastWindow {
		rep.Forecast30d = forecast(rep.Daily)
	}

	rep.Revenue = round2(rep.Revenue)
	rep.Shipping = round2(rep.Shipping)
	rep.MaterialCost = round2(rep.MaterialCost)
	rep.AvgBasket = round2(rep.AvgBasket)
	rep.Margin = round2(rep.Margin)

	rep.Recommendations = financeRecommendations(rep)
	rep.Warnings = warnings
	return rep, nil
}

func statementOrEstimate(t *Table, readErr error, in feeInput) (domain.FeeBreakdown, error) {
	if readErr != nil {
		return estimatedFees(in), fmt.Errorf("statement unreadable (%v): fees estimated at 12%% of revenue", readErr)
	}
	if t == nil {
		return estimatedFees(in), fmt.Errorf("no statement uploaded: fees estimated at 12%% of revenue")
	}
	fb, err := statementFees(t)
	if err != nil {
		return estimatedFees(in), fmt.Errorf("statement unreadable (%v): fees estimated at 12%% of revenue", err)
	}
	return fb, nil
}

func applyCosts(in []SalesRecord, opts domain.FinanceOptions, costs map[string]float64) []SalesRecord {
	out := make([]SalesRecord, len(in))
	copy(out, in)
	switch opts.CostMethod {
	case domain.CostMethodAverage:
		for i := range out {
			out[i].Cost = opts.AverageUnitCost
		}
	case domain.CostMethodFile:
		for i := range out {
			if c, ok := costs[out[i].Product]; ok {
				out[i].Cost = c
			}
		}
	}
	return out
}

func productStats(records []SalesRecord) []domain.ProductStat {
	byProduct := make(map[string]*domain.ProductStat)
	var order []string
	for _, r := range records {
		ps, ok := byProduct[r.Product]
		if !ok {
			ps = &domain.ProductStat{Product: r.Product}
			byProduct[r.Product] = ps
			order = append(order, r.Product)
		}
		ps.Revenue += r.Revenue()
		ps.Sales++
		ps.Units += r.Quantity
		ps.Cost += r.Cost * float64(r.Quantity)
	}

	out := make([]domain.ProductStat, 0, len(order))
	for _, name := range order {
		ps := byProduct[name]
		ps.AvgPrice = round2(ps.Revenue / float64(ps.Units))
		ps.Margin = round2(ps.Revenue - ps.Cost)
		ps.MarginRate = pct(ps.Revenue-ps.Cost, ps.Revenue)
		ps.Revenue = round2(ps.Revenue)
		ps.Cost = round2(ps.Cost)
		out = append(out, *ps)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Revenue != out[j].Revenue {
			return out[i].Revenue > out[j].Revenue
		}
		return out[i].Product < out[j].Product
	})
	return out
}

// abcCount is the number of top products needed to reach 80% of revenue.
func abcCount(products []domain.ProductStat, revenue float64) int {
	if revenue <= 0 {
		return 0
	}
	cum := 0.0
	for i, p := range products {
		cum += p.Revenue
		if cum >= revenue*abcShare {
			return i + 1
		}
	}
	return len(products)
}

func categoryStats(records []SalesRecord, revenue float64) []domain.CategoryStat {
	byCat := make(map[string]*domain.CategoryStat)
	for _, r := range records {
		cs, ok := byCat[r.Category]
		if !ok {
			cs = &domain.CategoryStat{Category: r.Category}
			byCat[r.Category] = cs
		}
		cs.Revenue += r.Revenue()
		cs.Sales++
	}
	out := make([]domain.CategoryStat, 0, len(byCat))
	for _, cs := range byCat {
		cs.Share = pct(cs.Revenue, revenue)
		cs.Revenue = round2(cs.Revenue)
		out = append(out, *cs)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Revenue != out[j].Revenue {
			return out[i].Revenue > out[j].Revenue
		}
		return out[i].Category < out[j].Category
	})
	return out
}

func dailyStats(records []SalesRecord) []domain.DailyStat {
	byDay := make(map[string]*domain.DailyStat)
	for _, r := range records {
		key := r.Date.Format("2006-01-02")
		ds, ok := byDay[key]
		if !ok {
			ds = &domain.DailyStat{Date: key}
			byDay[key] = ds
		}
		ds.Revenue += r.Revenue()
		ds.Orders++
	}
	out := make([]domain.DailyStat, 0, len(byDay))
	for _, ds := range byDay {
		ds.Revenue = round2(ds.Revenue)
		out = append(out, *ds)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

var weekdayOrder = []time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday,
	time.Friday, time.Saturday, time.Sunday,
}

func weekdayStats(records []SalesRecord) ([]domain.WeekdayStat, string) {
	var rev [7]float64
	var cnt [7]int
	for _, r := range records {
		rev[r.Date.Weekday()] += r.Revenue()
		cnt[r.Date.Weekday()]++
	}

	out := make([]domain.WeekdayStat, 0, 7)
	best, bestRev := "", 0.0
	for _, d := range weekdayOrder {
		out = append(out, domain.WeekdayStat{Weekday: d.String(), Revenue: round2(rev[d]), Orders: cnt[d]})
		if rev[d] > bestRev {
			best, bestRev = d.String(), rev[d]
		}
	}
	return out, best
}

// forecast projects 30 days from the mean of the last 7 sales days.
func forecast(daily []domain.DailyStat) float64 {
	if len(daily) < forecastWindow {
		return 0
	}
	sum := 0.0
	for _, d := range daily[len(daily)-forecastWindow:] {
		sum += d.Revenue
	}
	return round2(sum / forecastWindow * forecastDays)
}

func financeRecommendations(rep *domain.FinanceReport) []domain.Recommendation {
	var recs []domain.Recommendation

	if rep.MarginRate < lowMarginRate {
		recs = append(recs, domain.Recommendation{
			Priority: "high",
			Title:    "Raise your margins",
			Body: fmt.Sprintf("Your margin rate is **%.1f%%**, below the 30%% profitability line. Aim for 35-40%%.\n\n"+
				"- Negotiate material costs down 10-15%%\n"+
				"- Raise prices 5-10%% on high-demand products\n"+
				"- Group shipments to cut packaging costs", rep.MarginRate),
		})
	} else {
		recs = append(recs, domain.Recommendation{
			Priority: "low",
			Title:    "Keep your margins",
			Body:     fmt.Sprintf("Your margin rate (**%.1f%%**) is healthy. Keep tracking costs monthly.", rep.MarginRate),
		})
	}

	if len(rep.Products) > 0 {
		n := min(topSellers, len(rep.Products))
		names := make([]string, n)
		for i := range names {
			names[i] = rep.Products[i].Product
		}
		recs = append(recs, domain.Recommendation{
			Priority: "medium",
			Title:    "Build on your best-sellers",
			Body: fmt.Sprintf("%d product(s) carry a large share of revenue: %s.\n\n"+
				"- Create variants of *%s* (colors, sizes)\n"+
				"- Keep them in stock\n"+
				"- Promote them with Etsy Ads or bundles", n, strings.Join(names, ", "), names[0]),
		})

		low := 0
		for _, p := range rep.Products {
			if p.Sales < lowSalesThreshold {
				low++
			}
		}
		if low > 0 {
			recs = append(recs, domain.Recommendation{
				Priority: "medium",
				Title:    "Improve under-performing products",
				Body: fmt.Sprintf("%d product(s) have fewer than 2 sales.\n\n"+
					"- Use at least 5 photos\n"+
					"- Put searched keywords in titles\n"+
					"- Try a temporary price cut", low),
			})
		}
	}

	if rep.AvgBasket < lowBasket {
		recs = append(recs, domain.Recommendation{
			Priority: "medium",
			Title:    "Grow your average basket",
			Body: fmt.Sprintf("Your average basket is **%.2f**. Aim for 35-40.\n\n"+
				"- Offer bundles\n"+
				"- Free shipping above a threshold\n"+
				"- Add complementary items", rep.AvgBasket),
		})
	}
	return recs
}
