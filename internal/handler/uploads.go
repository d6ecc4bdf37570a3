package handler

import (
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/architecte-ia/etsy-analytics-pro/internal/domain"
)

// uploadFields are the multipart fields read, each tagged with its role.
// "file" is the role-less field used by API clients.
var uploadFields = []struct {
	field string
	role  domain.FileRole
}{
	{"orders", domain.FileRoleOrders},
	{"listings", domain.FileRoleListings},
	{"costs", domain.FileRoleCosts},
	{"statement", domain.FileRoleStatement},
	{"file", ""},
}

func readUploads(w http.ResponseWriter, r *http.Request, maxBytes int64) ([]domain.UploadedFile, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		return nil, &domain.ErrValidation{Field: "file", Message: "upload missing, malformed or larger than allowed"}
	}

	var files []domain.UploadedFile
	for _, u := range uploadFields {
		headers := r.MultipartForm.File[u.field]
		if len(headers) == 0 {
			continue
		}
		f, err := headers[0].Open()
		if err != nil {
			return nil, &domain.ErrValidation{Field: u.field, Message: "file unreadable"}
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, &domain.ErrValidation{Field: u.field, Message: "file unreadable"}
		}
		files = append(files, domain.UploadedFile{Name: headers[0].Filename, Role: u.role, Content: data})
	}
	if len(files) == 0 {
		return nil, &domain.ErrValidation{Field: "file", Message: "choose a CSV file to analyze"}
	}
	return files, nil
}

// parseFinanceOptions reads the finance form. Empty fields take defaults.
func parseFinanceOptions(r *http.Request) (domain.FinanceOptions, error) {
	opts := domain.FinanceOptions{
		FeeMode:      domain.FeeMode(strings.TrimSpace(r.FormValue("fee_mode"))),
		OffsiteAds:   checked(r.FormValue("offsite_ads")),
		Subscription: domain.Subscription(strings.TrimSpace(r.FormValue("subscription"))),
		CostMethod:   domain.CostMethod(strings.TrimSpace(r.FormValue("cost_method"))),
	}

	switch opts.FeeMode {
	case "":
		opts.FeeMode = domain.FeeModeStandard
	case domain.FeeModeStandard, domain.FeeModeDetailed, domain.FeeModeStatement:
	default:
		return opts, &domain.ErrValidation{Field: "fee_mode", Message: "unknown fee mode"}
	}
	switch opts.CostMethod {
	case "":
		opts.CostMethod = domain.CostMethodNone
	case domain.CostMethodNone, domain.CostMethodAverage, domain.CostMethodFile:
	default:
		return opts, &domain.ErrValidation{Field: "cost_method", Message: "unknown cost method"}
	}
	switch opts.Subscription {
	case domain.SubscriptionNone, domain.SubscriptionPlus, domain.SubscriptionPremium:
	default:
		return opts, &domain.ErrValidation{Field: "subscription", Message: "unknown subscription"}
	}

	var err error
	if opts.EtsyAdsDailyBudget, err = formFloat(r, "etsy_ads_daily_budget"); err != nil {
		return opts, err
	}
	if opts.AverageUnitCost, err = formFloat(r, "average_unit_cost"); err != nil {
		return opts, err
	}
	if v := strings.TrimSpace(r.FormValue("period_days")); v != "" {
		if opts.PeriodDays, err = strconv.Atoi(v); err != nil {
			return opts, &domain.ErrValidation{Field: "period_days", Message: "must be a number of days"}
		}
	}
	return opts, nil
}

func formFloat(r *http.Request, field string) (float64, error) {
	v := strings.TrimSpace(strings.ReplaceAll(r.FormValue(field), ",", "."))
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, &domain.ErrValidation{Field: field, Message: "must be a positive number"}
	}
	return f, nil
}

func checked(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "on", "true", "yes":
		return true
	}
	return false
}
