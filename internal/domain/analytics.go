package domain

import "time"

// ============================================================
// Analysis options
// ============================================================

// FeeMode selects how marketplace fees are estimated.
type FeeMode string

const (
	FeeModeStandard  FeeMode = "standard"
	FeeModeDetailed  FeeMode = "detailed"
	FeeModeStatement FeeMode = "statement"
)

// CostMethod selects where unit costs come from.
type CostMethod string

const (
	CostMethodNone    CostMethod = "none"
	CostMethodAverage CostMethod = "average"
	CostMethodFile    CostMethod = "file"
)

// Subscription is the optional Etsy seller plan.
type Subscription string

const (
	SubscriptionNone    Subscription = ""
	SubscriptionPlus    Subscription = "plus"
	SubscriptionPremium Subscription = "premium"
)

// FinanceOptions drives the finance dashboard.
type FinanceOptions struct {
	FeeMode            FeeMode      `json:"fee_mode"`
	OffsiteAds         bool         `json:"offsite_ads"`
	EtsyAdsDailyBudget float64      `json:"etsy_ads_daily_budget"`
	Subscription       Subscription `json:"subscription"`
	CostMethod         CostMethod   `json:"cost_method"`
	AverageUnitCost    float64      `json:"average_unit_cost"`
	PeriodDays         int          `json:"period_days"` // 0 = all data
}

// AnalysisInput is one dashboard run over uploaded files.
type AnalysisInput struct {
	Dashboard Dashboard
	Files     []UploadedFile
	Finance   FinanceOptions
}

// FileRole tells the engine what an uploaded file contains.
type FileRole string

const (
	FileRoleOrders    FileRole = "orders"
	FileRoleListings  FileRole = "listings"
	FileRoleCosts     FileRole = "costs"
	FileRoleStatement FileRole = "statement"
)

// UploadedFile is a named in-memory upload.
type UploadedFile struct {
	Name    string
	Role    FileRole
	Content []byte
}

// ============================================================
// Finance
// ============================================================

// FeeBreakdown itemizes marketplace fees.
type FeeBreakdown struct {
	Mode         FeeMode            `json:"mode"`
	Source       string             `json:"source"` // computed, statement, estimate
	Transaction  float64            `json:"transaction"`
	Listing      float64            `json:"listing"`
	Payment      float64            `json:"payment"`
	OffsiteAds   float64            `json:"offsite_ads"`
	EtsyAds      float64            `json:"etsy_ads"`
	Subscription float64            `json:"subscription"`
	VAT          float64            `json:"vat"`
	ByType       map[string]float64 `json:"by_type,omitempty"`
	Total        float64            `json:"total"`
}

// ProductStat is one row of the product breakdown.
type ProductStat struct {
	Product    string  `json:"product"`
	Revenue    float64 `json:"revenue"`
	Sales      int     `json:"sales"`
	Units      int     `json:"units"`
	AvgPrice   float64 `json:"avg_price"`
	Cost       float64 `json:"cost"`
	Margin     float64 `json:"margin"`
	MarginRate float64 `json:"margin_rate"`
}

// CategoryStat aggregates revenue per category.
type CategoryStat struct {
	Category string  `json:"category"`
	Revenue  float64 `json:"revenue"`
	Sales    int     `json:"sales"`
	Share    float64 `json:"share"`
}

// DailyStat aggregates one calendar day.
type DailyStat struct {
	Date    string  `json:"date"`
	Revenue float64 `json:"revenue"`
	Orders  int     `json:"orders"`
}

// WeekdayStat aggregates revenue per weekday.
type WeekdayStat struct {
	Weekday string  `json:"weekday"`
	Revenue float64 `json:"revenue"`
	Orders  int     `json:"orders"`
}

// Recommendation is a rule-based suggestion. Body is markdown.
type Recommendation struct {
	Priority string `json:"priority"` // high, medium, low
	Title    string `json:"title"`
	Body     string `json:"body"`
}

// FinanceReport is the Finance Pro dashboard.
type FinanceReport struct {
	Revenue         float64          `json:"revenue"`
	Orders          int              `json:"orders"`
	Units           int              `json:"units"`
	AvgBasket       float64          `json:"avg_basket"`
	Shipping        float64          `json:"shipping"`
	MaterialCost    float64          `json:"material_cost"`
	Fees            FeeBreakdown     `json:"fees"`
	Margin          float64          `json:"margin"`
	MarginRate      float64          `json:"margin_rate"`
	Products        []ProductStat    `json:"products"`
	Categories      []CategoryStat   `json:"categories"`
	Daily           []DailyStat      `json:"daily"`
	Weekdays        []WeekdayStat    `json:"weekdays"`
	BestWeekday     string           `json:"best_weekday"`
	ABCCount        int              `json:"abc_count"`
	Forecast30d     float64          `json:"forecast_30d,omitempty"`
	PeriodStart     time.Time        `json:"period_start"`
	PeriodEnd       time.Time        `json:"period_end"`
	Recommendations []Recommendation `json:"recommendations"`
	Warnings        []string         `json:"warnings,omitempty"`
}

// ============================================================
// Customer intelligence
// ============================================================

// BuyerStat summarizes one buyer.
type BuyerStat struct {
	Buyer         string    `json:"buyer"`
	Orders        int       `json:"orders"`
	Spend         float64   `json:"spend"`
	FirstPurchase time.Time `json:"first_purchase"`
	LastPurchase  time.Time `json:"last_purchase"`
	Segment       string    `json:"segment"` // new, repeat, vip
	ChurnRisk     bool      `json:"churn_risk"`
}

// CohortStat counts new and returning buyers in a month.
type CohortStat struct {
	Month     string `json:"month"`
	New       int    `json:"new"`
	Returning int    `json:"returning"`
}

// CustomerReport is the Customer Intelligence dashboard.
type CustomerReport struct {
	Customers        int              `json:"customers"`
	RepeatCustomers  int              `json:"repeat_customers"`
	RepeatRate       float64          `json:"repeat_rate"`
	AvgOrders        float64          `json:"avg_orders"`
	AvgLifetimeValue float64          `json:"avg_lifetime_value"`
	ChurnRisk        int              `json:"churn_risk"`
	Segments         map[string]int   `json:"segments"`
	Top              []BuyerStat      `json:"top"`
	Monthly          []CohortStat     `json:"monthly"`
	Recommendations  []Recommendation `json:"recommendations"`
	Warnings         []string         `json:"warnings,omitempty"`
}

// ============================================================
// SEO
// ============================================================

// ListingScore is the SEO score of one listing.
type ListingScore struct {
	Title             string   `json:"title"`
	Score             int      `json:"score"`
	TitleLength       int      `json:"title_length"`
	Tags              int      `json:"tags"`
	Images            int      `json:"images"`
	DescriptionLength int      `json:"description_length"`
	Issues            []string `json:"issues"`
}

// SEOReport is the SEO Analyzer dashboard.
type SEOReport struct {
	Listings        int              `json:"listings"`
	AvgScore        float64          `json:"avg_score"`
	AvgPrice        float64          `json:"avg_price"`
	Scores          []ListingScore   `json:"scores"`
	Issues          map[string]int   `json:"issues"`
	Recommendations []Recommendation `json:"recommendations"`
	Warnings        []string         `json:"warnings,omitempty"`
}

// ============================================================
// Analysis result
// ============================================================

// AnalysisResult bundles whichever dashboard ran.
type AnalysisResult struct {
	Dashboard   Dashboard       `json:"dashboard"`
	Finance     *FinanceReport  `json:"finance,omitempty"`
	Customers   *CustomerReport `json:"customers,omitempty"`
	SEO         *SEOReport      `json:"seo,omitempty"`
	Usage       *CustomerUsage  `json:"usage,omitempty"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// AggregateRecord is the anonymized summary persisted in aggregate
// collection mode. It never carries buyer names, titles or emails.
type AggregateRecord struct {
	Dashboard   Dashboard          `json:"dashboard"`
	Rows        int                `json:"rows"`
	Revenue     float64            `json:"revenue,omitempty"`
	Orders      int                `json:"orders,omitempty"`
	AvgBasket   float64            `json:"avg_basket,omitempty"`
	MarginRate  float64            `json:"margin_rate,omitempty"`
	Categories  map[string]float64 `json:"categories,omitempty"`
	Customers   int                `json:"customers,omitempty"`
	RepeatRate  float64            `json:"repeat_rate,omitempty"`
	AvgSEOScore float64            `json:"avg_seo_score,omitempty"`
	CollectedAt time.Time          `json:"collected_at"`
}

// CollectOutcome reports what happened to one collected file.
type CollectOutcome struct {
	File    string `json:"file"`
	Path    string `json:"path,omitempty"`
	Hash    string `json:"hash,omitempty"`
	Stored  bool   `json:"stored"`
	Skipped bool   `json:"skipped"`
	Err     string `json:"error,omitempty"`
}
