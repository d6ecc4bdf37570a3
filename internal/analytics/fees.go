package analytics

import (
	"strings"

	"github.com/architecte-ia/etsy-analytics-pro/internal/domain"

	"github.com/pkg/errors"
)

// Etsy fee schedule.
const (
	transactionRate     = 0.065
	listingFee          = 0.20
	paymentRate         = 0.04
	paymentFixed        = 0.30
	vatRate             = 0.20
	offsiteAdsRateHigh  = 0.15
	offsiteAdsRateLow   = 0.12
	offsiteAdsThreshold = 10000.0
	adsDaysPerMonth     = 30
	plusSubscription    = 10.0
	premiumSubscription = 20.0
	fallbackFeeRate     = 0.12
)

// Fee sources.
const (
	FeeSourceComputed  = "computed"
	FeeSourceStatement = "statement"
	FeeSourceEstimate  = "estimate"
)

// feeInput is what the fee models need from the sales data.
type feeInput struct {
	Revenue         float64
	Orders          int
	TrailingRevenue float64 // last 12 months, for the offsite ads rate
}

// standardFees: transaction + listing + payment processing, plus VAT.
func standardFees(in feeInput) domain.FeeBreakdown {
	fb := domain.FeeBreakdown{
		Mode:        domain.FeeModeStandard,
		Source:      FeeSourceComputed,
		Transaction: in.Revenue * transactionRate,
		Listing:     float64(in.Orders) * listingFee,
		Payment:     in.Revenue*paymentRate + float64(in.Orders)*paymentFixed,
	}
	fb.VAT = (fb.Transaction + fb.Listing + fb.Payment) * vatRate
	fb.Total = fb.Transaction + fb.Listing + fb.Payment + fb.VAT
	return roundFees(fb)
}

// detailedFees adds offsite ads, Etsy Ads and the subscription. Etsy Ads
// are billed VAT included.
func detailedFees(in feeInput, opts domain.FinanceOptions) domain.FeeBreakdown {
	fb := domain.FeeBreakdown{
		Mode:        domain.FeeModeDetailed,
		Source:      FeeSourceComputed,
		Transaction: in.Revenue * transactionRate,
		Listing:     float64(in.Orders) * listingFee,
		Payment:     in.Revenue*paymentRate + float64(in.Orders)*paymentFixed,
	}
	if opts.OffsiteAds {
		rate := offsiteAdsRateHigh
		if in.TrailingRevenue >= offsiteAdsThreshold {
			rate = offsiteAdsRateLow
		}
		fb.OffsiteAds = in.Revenue * rate
	}
	if opts.EtsyAdsDailyBudget > 0 {
		fb.EtsyAds = opts.EtsyAdsDailyBudget * adsDaysPerMonth
	}
	switch opts.Subscription {
	case domain.SubscriptionPlus:
		fb.Subscription = plusSubscription
	case domain.SubscriptionPremium:
		fb.Subscription = premiumSubscription
	}

	taxable := fb.Transaction + fb.Listing + fb.Payment + fb.OffsiteAds + fb.Subscription
	fb.VAT = taxable * vatRate
	fb.Total = taxable + fb.VAT + fb.EtsyAds
	return roundFees(fb)
}

// estimatedFees is the flat fallback when a statement cannot be read.
func estimatedFees(in feeInput) domain.FeeBreakdown {
	return roundFees(domain.FeeBreakdown{
		Mode:   domain.FeeModeStatement,
		Source: FeeSourceEstimate,
		Total:  in.Revenue * fallbackFeeRate,
	})
}

// statementCategory maps statement Type values (EN/FR) onto breakdown slots.
var statementCategory = map[string]string{
	"transaction":            "transaction",
	"fiche produit":          "listing",
	"listing":                "listing",
	"marketing":              "marketing",
	"abonnement":             "subscription",
	"subscription":           "subscription",
	"vat":                    "vat",
	"tva":                    "vat",
	"tax":                    "vat",
	"taxe":                   "vat",
	"frais de traitement":    "payment",
	"payment processing":     "payment",
	"traitement du paiement": "payment",
}

// statementFees sums the absolute fee column per Type.
func statementFees(t *Table) (domain.FeeBreakdown, error) {
	if missing := t.Missing(statementRequired...); len(missing) > 0 {
		return domain.FeeBreakdown{}, errors.Errorf("statement lacks columns %s", strings.Join(missing, ", "))
	}

	fb := domain.FeeBreakdown{
		Mode:   domain.FeeModeStatement,
		Source: FeeSourceStatement,
		ByType: make(map[string]float64),
	}
	for i := 0; i < t.Len(); i++ {
		raw := t.Value(i, ColFees)
		if raw == "" || raw == "--" {
			continue
		}
		v, ok := ParseNumber(raw)
		if !ok {
			return domain.FeeBreakdown{}, errors.Errorf("unreadable fee %q on row %d", raw, i+2)
		}
		if v < 0 {
			v = -v
		}
		if v == 0 {
			continue
		}

		typ := t.Value(i, ColType)
		fb.ByType[typ] += v
		switch statementCategory[strings.ToLower(typ)] {
		case "transaction":
			fb.Transaction += v
		case "listing":
			fb.Listing += v
		case "marketing":
			fb.OffsiteAds += v
		case "subscription":
			fb.Subscription += v
		case "vat":
			fb.VAT += v
		case "payment":
			fb.Payment += v
		}
		fb.Total += v
	}

	for k, v := range fb.ByType {
		fb.ByType[k] = round2(v)
	}
	return roundFees(fb), nil
}

func roundFees(fb domain.FeeBreakdown) domain.FeeBreakdown {
	fb.Transaction = round2(fb.Transaction)
	fb.Listing = round2(fb.Listing)
	fb.Payment = round2(fb.Payment)
	fb.OffsiteAds = round2(fb.OffsiteAds)
	fb.EtsyAds = round2(fb.EtsyAds)
	fb.Subscription = round2(fb.Subscription)
	fb.VAT = round2(fb.VAT)
	fb.Total = round2(fb.Total)
	return fb
}
