package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/architecte-ia/etsy-analytics-pro/internal/analytics"
	"github.com/architecte-ia/etsy-analytics-pro/internal/domain"
	"github.com/architecte-ia/etsy-analytics-pro/internal/service"
	"github.com/architecte-ia/etsy-analytics-pro/internal/session"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type signupView struct {
	Email       string
	ShopName    string
	DataConsent bool
	WeeklyLimit int
}

type dashboardCard struct {
	Dashboard domain.Dashboard
	Title     string
	Unlocked  bool
	Upsell    domain.Product
}

type hubView struct {
	Cards       []dashboardCard
	Usage       domain.CustomerUsage
	ShowConsent bool
}

type dashboardView struct {
	Dashboard domain.Dashboard
	Options   domain.FinanceOptions
	Result    *domain.AnalysisResult
	Usage     domain.CustomerUsage
}

type consentView struct {
	State string
	Gated bool
}

var loginMessages = map[string]string{
	"invalid_key": "This access link is no longer valid. Enter your email to log in again.",
}

var notices = map[string]string{
	"consent_declined": "Data collection is off. Access to your dashboards is suspended until you turn it back on.",
	"logged_out":       "You are logged out.",
}

// GET /
func loginPageHandler(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if session.FromContext(r.Context()).AccessKey != "" {
			http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
			return
		}
		render(w, r, http.StatusOK, "login.html", pageData{
			Title:  "Log in",
			Error:  loginMessages[r.URL.Query().Get("error")],
			Notice: notices[r.URL.Query().Get("notice")],
		}, logger)
	}
}

// POST /login
func loginHandler(access *service.AccessManager, codec *session.Codec, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /login")
		defer span.End()

		c, err := access.Resolve(ctx, service.Credentials{Email: r.FormValue("email")})
		if err != nil {
			var unauthorized *domain.ErrUnauthorized
			if errors.As(err, &unauthorized) {
				render(w, r, http.StatusUnauthorized, "login.html", pageData{
					Title: "Log in",
					Error: "No account matches this email.",
				}, logger)
				return
			}
			renderErrorPage(w, r, err, logger)
			return
		}

		if err := codec.Write(w, &session.Session{AccessKey: c.AccessKey}); err != nil {
			logger.Error("session: cookie not written", zap.Error(err))
			renderErrorPage(w, r, err, logger)
			return
		}
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
	}
}

// GET /logout
func logoutHandler(access *service.AccessManager, codec *session.Codec) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if key := session.FromContext(r.Context()).AccessKey; key != "" {
			access.Forget(key)
		}
		codec.Clear(w)
		http.Redirect(w, r, "/?notice=logged_out", http.StatusSeeOther)
	}
}

// GET /signup
func signupPageHandler(opts Options, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		render(w, r, http.StatusOK, "signup.html", pageData{
			Title: "Free account",
			Body:  signupView{WeeklyLimit: opts.WeeklyLimit},
		}, logger)
	}
}

// POST /signup
func signupHandler(onboarding *service.OnboardingService, codec *session.Codec, opts Options, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /signup")
		defer span.End()

		req := domain.SignupRequest{
			Email:       strings.TrimSpace(r.FormValue("email")),
			ShopName:    strings.TrimSpace(r.FormValue("shop_name")),
			DataConsent: checked(r.FormValue("data_consent")),
		}
		c, err := onboarding.Signup(ctx, req)
		if err != nil {
			status, _, msg := classify(err)
			if status >= http.StatusInternalServerError {
				renderErrorPage(w, r, err, logger)
				return
			}
			render(w, r, status, "signup.html", pageData{
				Title: "Free account",
				Error: msg,
				Body: signupView{
					Email:       req.Email,
					ShopName:    req.ShopName,
					DataConsent: req.DataConsent,
					WeeklyLimit: opts.WeeklyLimit,
				},
			}, logger)
			return
		}

		// consent was given on the form: no prompt on the hub
		sess := &session.Session{AccessKey: c.AccessKey, ConsentPrompted: true, ConsentChoice: domain.BoolPtr(true)}
		if err := codec.Write(w, sess); err != nil {
			logger.Error("session: cookie not written", zap.Error(err))
		}
		http.Redirect(w, r, "/dashboard?welcome=1", http.StatusSeeOther)
	}
}

// GET /dashboard
func hubHandler(access *service.AccessManager, consent *service.ConsentService, codec *session.Codec, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := session.FromContext(r.Context())
		c := sess.Customer

		view := hubView{Usage: access.Usage(c)}
		for _, d := range domain.AllDashboards {
			card := dashboardCard{Dashboard: d, Title: d.Title(), Unlocked: access.HasAccessToDashboard(c, d)}
			if !card.Unlocked {
				card.Upsell = d.UpsellProduct()
			}
			view.Cards = append(view.Cards, card)
		}

		if consent.ShouldPrompt(c, sess) {
			view.ShowConsent = true
			consent.MarkPrompted(sess)
			if err := codec.Write(w, sess); err != nil {
				logger.Warn("session: prompt flag not saved", zap.Error(err))
			}
		}

		data := pageData{Title: "Your dashboards", Body: view}
		if r.URL.Query().Get("welcome") == "1" {
			data.Notice = "Welcome! Your access link is also on its way to your inbox."
		}
		render(w, r, http.StatusOK, "hub.html", data, logger)
	}
}

// GET /dashboards/{dashboardId}
func dashboardPageHandler(access *service.AccessManager, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c := session.FromContext(r.Context()).Customer
		d, ok := domain.ParseDashboard(chi.URLParam(r, "dashboardId"))
		if !ok {
			renderErrorPage(w, r, &domain.ErrNotFound{Resource: "dashboard", ID: chi.URLParam(r, "dashboardId")}, logger)
			return
		}
		if err := access.Authorize(c, d); err != nil {
			renderErrorPage(w, r, err, logger)
			return
		}
		render(w, r, http.StatusOK, "dashboard.html", pageData{
			Title: d.Title(),
			Body: dashboardView{
				Dashboard: d,
				Options:   domain.FinanceOptions{FeeMode: domain.FeeModeStandard, CostMethod: domain.CostMethodNone},
				Usage:     access.Usage(c),
			},
		}, logger)
	}
}

// POST /dashboards/{dashboardId}
func dashboardAnalyzeHandler(analysis *service.AnalysisService, access *service.AccessManager, opts Options, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /dashboards/{dashboardId}")
		defer span.End()

		c := session.FromContext(ctx).Customer
		d, ok := domain.ParseDashboard(chi.URLParam(r, "dashboardId"))
		if !ok {
			renderErrorPage(w, r, &domain.ErrNotFound{Resource: "dashboard", ID: chi.URLParam(r, "dashboardId")}, logger)
			return
		}
		if err := access.Authorize(c, d); err != nil {
			renderErrorPage(w, r, err, logger)
			return
		}

		view := dashboardView{Dashboard: d, Usage: access.Usage(c)}
		fail := func(err error) {
			status, _, msg := classify(err)
			logServiceError(logger, status, err)
			if status == http.StatusBadRequest {
				msg = describeDataError(err, msg)
			}
			render(w, r, status, "dashboard.html", pageData{Title: d.Title(), Error: msg, Body: view}, logger)
		}

		files, err := readUploads(w, r, opts.MaxUploadBytes)
		if err != nil {
			fail(err)
			return
		}
		fo, err := parseFinanceOptions(r)
		view.Options = fo
		if err != nil {
			fail(err)
			return
		}

		result, _, err := analysis.Run(ctx, c, domain.AnalysisInput{Dashboard: d, Files: files, Finance: fo})
		if err != nil {
			view.Usage = access.Usage(c)
			fail(err)
			return
		}
		view.Result = result
		view.Usage = access.Usage(c)
		render(w, r, http.StatusOK, "dashboard.html", pageData{Title: d.Title(), Body: view}, logger)
	}
}

// describeDataError spells out which columns a file lacks.
func describeDataError(err error, fallback string) string {
	var df *domain.ErrDataFormat
	if errors.As(err, &df) && len(df.Missing) > 0 {
		return "Missing columns in " + df.File + ": " + strings.Join(df.Missing, ", ") +
			". Download the template to see the expected layout."
	}
	return fallback
}

// POST /consent
func consentPromptHandler(consent *service.ConsentService, codec *session.Codec, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /consent")
		defer span.End()

		sess := session.FromContext(ctx)
		accepted, ok := parseChoice(r.FormValue("choice"))
		if !ok {
			renderErrorPage(w, r, &domain.ErrValidation{Field: "choice", Message: "choice must be accept or decline"}, logger)
			return
		}
		if err := consent.SetConsent(ctx, sess.Customer, sess, accepted); err != nil {
			// the choice still holds for this session
			logger.Warn("consent: kept in session only", zap.Error(err))
		}
		if err := codec.Write(w, sess); err != nil {
			logger.Error("session: cookie not written", zap.Error(err))
		}
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
	}
}

// GET /settings/consent
func consentSettingsPageHandler(consent *service.ConsentService, opts Options, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c := session.FromContext(r.Context()).Customer
		render(w, r, http.StatusOK, "consent.html", pageData{
			Title:  "Data settings",
			Notice: notices[r.URL.Query().Get("notice")],
			Body:   consentView{State: string(consent.State(c)), Gated: opts.ConsentGated},
		}, logger)
	}
}

// POST /settings/consent
func consentSettingsHandler(consent *service.ConsentService, access *service.AccessManager, codec *session.Codec, opts Options, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /settings/consent")
		defer span.End()

		sess := session.FromContext(ctx)
		accepted, ok := parseChoice(r.FormValue("choice"))
		if !ok {
			renderErrorPage(w, r, &domain.ErrValidation{Field: "choice", Message: "choice must be accept or decline"}, logger)
			return
		}
		if err := consent.SetConsent(ctx, sess.Customer, sess, accepted); err != nil {
			renderErrorPage(w, r, err, logger)
			return
		}

		if opts.ConsentGated && !accepted {
			access.Forget(sess.AccessKey)
			codec.Clear(w)
			http.Redirect(w, r, "/?notice=consent_declined", http.StatusSeeOther)
			return
		}
		if err := codec.Write(w, sess); err != nil {
			logger.Error("session: cookie not written", zap.Error(err))
		}
		http.Redirect(w, r, "/settings/consent", http.StatusSeeOther)
	}
}

func parseChoice(v string) (accepted, ok bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "accept":
		return true, true
	case "decline":
		return false, true
	}
	return false, false
}

// GET /templates/{name}.csv
func templateCSVHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		data, ok := analytics.TemplateCSV(name)
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="`+name+`_template.csv"`)
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	}
}
