package domain

// ============================================================
// Products & dashboards
// ============================================================

// Product is a purchasable tier.
type Product string

const (
	ProductFree     Product = "free"
	ProductStarter  Product = "starter"
	ProductFinance  Product = "finance"
	ProductCustomer Product = "customer"
	ProductSEO      Product = "seo"
	ProductBundle   Product = "bundle"
	ProductPremium  Product = "premium"
)

// Legacy product names still present in older customers rows.
var productAliases = map[string]Product{
	"marketing":  ProductCustomer,
	"operations": ProductSEO,
	"insights":   ProductPremium,
}

// ParseProduct maps a stored or checkout product name to a Product.
// Unknown names return ok=false.
func ParseProduct(s string) (Product, bool) {
	switch p := Product(s); p {
	case ProductFree, ProductStarter, ProductFinance, ProductCustomer,
		ProductSEO, ProductBundle, ProductPremium:
		return p, true
	}
	if p, ok := productAliases[s]; ok {
		return p, true
	}
	return "", false
}

// IsPaid reports whether the product was bought.
func (p Product) IsPaid() bool {
	return p != ProductFree && p != ""
}

// Dashboard identifies one analytics surface.
type Dashboard string

const (
	DashboardFinance  Dashboard = "finance_pro"
	DashboardCustomer Dashboard = "customer_intelligence"
	DashboardSEO      Dashboard = "seo_analyzer"
)

// AllDashboards is the canonical display order.
var AllDashboards = []Dashboard{DashboardFinance, DashboardCustomer, DashboardSEO}

// ParseDashboard validates a dashboard id.
func ParseDashboard(s string) (Dashboard, bool) {
	for _, d := range AllDashboards {
		if string(d) == s {
			return d, true
		}
	}
	return "", false
}

// Title is the human label of a dashboard.
func (d Dashboard) Title() string {
	switch d {
	case DashboardFinance:
		return "Finance Pro"
	case DashboardCustomer:
		return "Customer Intelligence"
	case DashboardSEO:
		return "SEO Analyzer"
	}
	return string(d)
}

// UpsellProduct is the cheapest product that unlocks d.
func (d Dashboard) UpsellProduct() Product {
	switch d {
	case DashboardCustomer:
		return ProductCustomer
	case DashboardSEO:
		return ProductSEO
	}
	return ProductFinance
}

// dashboardAccess is the single source of truth for entitlements.
// Free accounts see everything but are quota-limited.
var dashboardAccess = map[Product][]Dashboard{
	ProductFree:     AllDashboards,
	ProductStarter:  {DashboardFinance},
	ProductFinance:  {DashboardFinance},
	ProductCustomer: {DashboardCustomer},
	ProductSEO:      {DashboardSEO},
	ProductBundle:   AllDashboards,
	ProductPremium:  AllDashboards,
}

// DashboardsFor returns the dashboards a single product grants.
func DashboardsFor(p Product) []Dashboard {
	return dashboardAccess[p]
}

// HasAccessToDashboard evaluates the union of every purchased product.
func (c *Customer) HasAccessToDashboard(d Dashboard) bool {
	for _, p := range c.AllProducts() {
		if p == ProductBundle {
			return true
		}
		for _, granted := range dashboardAccess[p] {
			if granted == d {
				return true
			}
		}
	}
	return false
}

// Dashboards lists the dashboards the customer may open, in canonical order.
func (c *Customer) Dashboards() []Dashboard {
	out := make([]Dashboard, 0, len(AllDashboards))
	for _, d := range AllDashboards {
		if c.HasAccessToDashboard(d) {
			out = append(out, d)
		}
	}
	return out
}

// IsFreeTier is true when no paid product was ever bought.
func (c *Customer) IsFreeTier() bool {
	for _, p := range c.AllProducts() {
		if p.IsPaid() {
			return false
		}
	}
	return true
}
