package analytics

import (
	"fmt"
	"math"
	"sort"

	"github.com/architecte-ia/etsy-analytics-pro/internal/domain"
)

const (
	churnAfterDays = 90
	vipShare       = 0.10
	topBuyers      = 10
	lowRepeatRate  = 20.0
	segmentNew     = "new"
	segmentRepeat  = "repeat"
	segmentVIP     = "vip"
)

type buyerAcc struct {
	stat   domain.BuyerStat
	orders map[string]struct{}
}

// computeCustomers groups sales by buyer. Churn risk is measured against
// the last date in the file, not the wall clock.
func computeCustomers(sales salesSet) (*domain.CustomerReport, error) {
	if len(sales.Records) == 0 {
		return nil, &domain.ErrDataFormat{Reason: "no valid sales rows after cleanup"}
	}

	warnings := append([]string(nil), sales.Warnings...)
	if !sales.HasBuyer {
		warnings = append(warnings, "no buyer column: each order is counted as a distinct customer")
	}

	buyers := make(map[string]*buyerAcc)
	var order []string
	for i, r := range sales.Records {
		key := r.Buyer
		if key == "" {
			key = r.OrderID
		}
		if key == "" {
			key = fmt.Sprintf("order-%d", i+1)
		}
		orderKey := r.OrderID
		if orderKey == "" {
			orderKey = fmt.Sprintf("row-%d", i)
		}

		acc, ok := buyers[key]
		if !ok {
			acc = &buyerAcc{
				stat:   domain.BuyerStat{Buyer: key, FirstPurchase: r.Date, LastPurchase: r.Date},
				orders: make(map[string]struct{}),
			}
			buyers[key] = acc
			order = append(order, key)
		}
		acc.orders[orderKey] = struct{}{}
		acc.stat.Spend += r.Revenue()
		if r.Date.Before(acc.stat.FirstPurchase) {
			acc.stat.FirstPurchase = r.Date
		}
		if r.Date.After(acc.stat.LastPurchase) {
			acc.stat.LastPurchase = r.Date
		}
	}

	_, end := dateRange(sales.Records)
	churnCutoff := end.AddDate(0, 0, -churnAfterDays)

	stats := make([]domain.BuyerStat, 0, len(order))
	for _, key := range order {
		acc := buyers[key]
		s := acc.stat
		s.Orders = len(acc.orders)
		s.Spend = round2(s.Spend)
		s.ChurnRisk = s.LastPurchase.Before(churnCutoff)
		s.Segment = segmentNew
		if s.Orders >= 2 {
			s.Segment = segmentRepeat
		}
		stats = append(stats, s)
	}
	sort.SliceStable(stats, func(i, j int) bool {
		if stats[i].Spend != stats[j].Spend {
			return stats[i].Spend > stats[j].Spend
		}
		return stats[i].Buyer < stats[j].Buyer
	})

	vips := int(math.Ceil(float64(len(stats)) * vipShare))
	if len(stats) < topBuyers {
		vips = 0
	}
	for i := 0; i < vips; i++ {
		stats[i].Segment = segmentVIP
	}

	rep := &domain.CustomerReport{
		Customers: len(stats),
		Segments:  map[string]int{segmentNew: 0, segmentRepeat: 0, segmentVIP: 0},
	}
	totalOrders, totalSpend := 0, 0.0
	for _, s := range stats {
		totalOrders += s.Orders
		totalSpend += s.Spend
		if s.Orders >= 2 {
			rep.RepeatCustomers++
		}
		if s.ChurnRisk {
			rep.ChurnRisk++
		}
		rep.Segments[s.Segment]++
	}
	rep.RepeatRate = pct(float64(rep.RepeatCustomers), float64(rep.Customers))
	rep.AvgOrders = round2(float64(totalOrders) / float64(rep.Customers))
	rep.AvgLifetimeValue = round2(totalSpend / float64(rep.Customers))
	rep.Top = stats[:min(topBuyers, len(stats))]
	rep.Monthly = cohorts(sales.Records, buyers)
	rep.Recommendations = customerRecommendations(rep)
	rep.Warnings = warnings
	return rep, nil
}

// cohorts counts, per month, first-time buyers and buyers seen before.
func cohorts(records []SalesRecord, buyers map[string]*buyerAcc) []domain.CohortStat {
	type seen struct{ first, back map[string]struct{} }
	months := make(map[string]*seen)
	for i, r := range records {
		key := r.Buyer
		if key == "" {
			key = r.OrderID
		}
		if key == "" {
			key = fmt.Sprintf("order-%d", i+1)
		}
		m := r.Date.Format("2006-01")
		s, ok := months[m]
		if !ok {
			s = &seen{first: map[string]struct{}{}, back: map[string]struct{}{}}
			months[m] = s
		}
		if buyers[key].stat.FirstPurchase.Format("2006-01") == m {
			s.first[key] = struct{}{}
		} else {
			s.back[key] = struct{}{}
		}
	}

	out := make([]domain.CohortStat, 0, len(months))
	for m, s := range months {
		out = append(out, domain.CohortStat{Month: m, New: len(s.first), Returning: len(s.back)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month < out[j].Month })
	return out
}

func customerRecommendations(rep *domain.CustomerReport) []domain.Recommendation {
	var recs []domain.Recommendation
	if rep.RepeatRate < lowRepeatRate {
		recs = append(recs, domain.Recommendation{
			Priority: "high",
			Title:    "Turn buyers into regulars",
			Body: fmt.Sprintf("Only **%.1f%%** of your customers bought twice.\n\n"+
				"- Add a thank-you note with a return coupon\n"+
				"- Follow up after delivery\n"+
				"- Launch collections that complete earlier purchases", rep.RepeatRate),
		})
	}
	if rep.ChurnRisk > 0 {
		recs = append(recs, domain.Recommendation{
			Priority: "medium",
			Title:    "Win back quiet customers",
			Body: fmt.Sprintf("%d customer(s) have not ordered in the last %d days.\n\n"+
				"- Send them a targeted offer from your Etsy sales tools\n"+
				"- Showcase new products they have not seen", rep.ChurnRisk, churnAfterDays),
		})
	}
	if rep.Segments[segmentVIP] > 0 {
		recs = append(recs, domain.Recommendation{
			Priority: "low",
			Title:    "Look after your VIPs",
			Body:     fmt.Sprintf("Your top %d customer(s) drive a large share of revenue. Offer them early access to new pieces.", rep.Segments[segmentVIP]),
		})
	}
	return recs
}
