package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/architecte-ia/etsy-analytics-pro/internal/domain"
	"github.com/architecte-ia/etsy-analytics-pro/internal/service"
	"github.com/architecte-ia/etsy-analytics-pro/internal/session"

	"go.uber.org/zap"
)

// AccessKeyHeader lets API clients authenticate without a cookie.
const AccessKeyHeader = "X-Access-Key"

// SessionMiddleware decodes the session cookie into the request context.
func SessionMiddleware(codec *session.Codec) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := codec.Read(r)
			next.ServeHTTP(w, r.WithContext(session.NewContext(r.Context(), sess)))
		})
	}
}

// RequireCustomer resolves the caller through the Access Manager. A key
// passed in the URL is moved into the session cookie and stripped from the
// address bar. Unknown callers go back to the login page.
func RequireCustomer(access *service.AccessManager, codec *session.Codec, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := session.FromContext(r.Context())
			urlKey := strings.TrimSpace(r.URL.Query().Get("key"))

			c, err := access.Resolve(r.Context(), service.Credentials{SessionKey: sess.AccessKey, URLKey: urlKey})
			if err != nil && sess.AccessKey != "" && urlKey != "" {
				// a stale cookie must not hide a valid link
				c, err = access.Resolve(r.Context(), service.Credentials{URLKey: urlKey})
			}
			if err != nil {
				var unauthorized *domain.ErrUnauthorized
				if errors.As(err, &unauthorized) {
					codec.Clear(w)
					target := "/"
					if urlKey != "" || sess.AccessKey != "" {
						target = "/?error=invalid_key"
					}
					http.Redirect(w, r, target, http.StatusSeeOther)
					return
				}
				logger.Error("access: resolve failed", zap.Error(err))
				renderErrorPage(w, r, err, logger)
				return
			}

			if c.AccessKey != sess.AccessKey {
				sess.AccessKey = c.AccessKey
				sess.ConsentPrompted = false
				sess.ConsentChoice = nil
				if err := codec.Write(w, sess); err != nil {
					logger.Error("session: cookie not written", zap.Error(err))
				}
			}
			sess.Customer = c

			if urlKey != "" && r.Method == http.MethodGet {
				q := r.URL.Query()
				q.Del("key")
				u := *r.URL
				u.RawQuery = q.Encode()
				http.Redirect(w, r, u.RequestURI(), http.StatusSeeOther)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAPICustomer resolves API callers from the session cookie or the
// X-Access-Key header and answers 401 in JSON.
func RequireAPICustomer(access *service.AccessManager, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := session.FromContext(r.Context())
			cred := service.Credentials{
				SessionKey: sess.AccessKey,
				URLKey:     strings.TrimSpace(r.Header.Get(AccessKeyHeader)),
			}
			if cred.URLKey != "" {
				cred.SessionKey = ""
			}
			c, err := access.Resolve(r.Context(), cred)
			if err != nil {
				handleServiceError(w, err, logger)
				return
			}
			sess.Customer = c
			sess.AccessKey = c.AccessKey
			next.ServeHTTP(w, r)
		})
	}
}
