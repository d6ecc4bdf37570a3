package analytics

import (
	"fmt"
	"time"
)

// SalesRecord is one order-items row after cleanup.
type SalesRecord struct {
	Date     time.Time
	Product  string
	Price    float64
	Quantity int
	Cost     float64 // unit cost
	Shipping float64
	Category string
	Buyer    string
	OrderID  string
}

// Revenue of the line.
func (r SalesRecord) Revenue() float64 { return r.Price * float64(r.Quantity) }

const uncategorized = "Uncategorized"

// salesSet is a cleaned sales export.
type salesSet struct {
	Records  []SalesRecord
	HasCost  bool
	HasBuyer bool
	Warnings []string
}

// loadSales turns a remapped order-items table into records. Rows with
// an invalid date or a non-positive price are dropped with a warning;
// unparseable optional numbers become zero.
func loadSales(t *Table) salesSet {
	out := salesSet{
		HasCost:  t.Has(ColCost),
		HasBuyer: t.Has(ColBuyer),
	}

	var badDates, badPrices, badNumbers int
	for i := 0; i < t.Len(); i++ {
		date, ok := ParseDate(t.Value(i, ColDate))
		if !ok {
			badDates++
			continue
		}
		price, ok := ParseNumber(t.Value(i, ColPrice))
		if !ok || price <= 0 {
			badPrices++
			continue
		}

		rec := SalesRecord{
			Date:     date,
			Product:  t.Value(i, ColProduct),
			Price:    price,
			Quantity: 1,
			Category: t.Value(i, ColCategory),
			Buyer:    t.Value(i, ColBuyer),
			OrderID:  t.Value(i, ColOrderID),
		}
		if rec.Category == "" {
			rec.Category = uncategorized
		}

		if t.Has(ColQuantity) {
			if q, ok := ParseNumber(t.Value(i, ColQuantity)); ok && q >= 1 {
				rec.Quantity = int(q)
			} else if t.Value(i, ColQuantity) != "" {
				badNumbers++
			}
		}
		if out.HasCost {
			if c, ok := ParseNumber(t.Value(i, ColCost)); ok {
				rec.Cost = c
			} else if t.Value(i, ColCost) != "" {
				badNumbers++
			}
		}
		if t.Has(ColShipping) {
			if s, ok := ParseNumber(t.Value(i, ColShipping)); ok {
				rec.Shipping = s
			} else if t.Value(i, ColShipping) != "" {
				badNumbers++
			}
		}

		out.Records = append(out.Records, rec)
	}

	if badDates > 0 {
		out.Warnings = append(out.Warnings, fmt.Sprintf("%d rows with an invalid date were ignored", badDates))
	}
	if badPrices > 0 {
		out.Warnings = append(out.Warnings, fmt.Sprintf("%d rows with an invalid price were ignored", badPrices))
	}
	if badNumbers > 0 {
		out.Warnings = append(out.Warnings, fmt.Sprintf("%d unreadable numeric values were set to 0", badNumbers))
	}
	if !t.Has(ColQuantity) {
		out.Warnings = append(out.Warnings, "no Quantity column: every line counts as one unit")
	}
	if !t.Has(ColCategory) {
		out.Warnings = append(out.Warnings, "no Category column: all products are "+uncategorized)
	}
	return out
}

func dateRange(recs []SalesRecord) (time.Time, time.Time) {
	if len(recs) == 0 {
		return time.Time{}, time.Time{}
	}
	lo, hi := recs[0].Date, recs[0].Date
	for _, r := range recs[1:] {
		if r.Date.Before(lo) {
			lo = r.Date
		}
		if r.Date.After(hi) {
			hi = r.Date
		}
	}
	return lo, hi
}
