package api

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/ariacore/aria/pkg/config"
)

// authExemptPaths never require the API key: the health check must stay
// reachable for liveness probes even when auth is fully configured
// (spec §4.7).
var authExemptPaths = map[string]bool{
	"/health": true,
}

var warnDebugOnce sync.Once

// apiKeyGate enforces spec §4.7's HTTP auth contract: a process-wide API
// key read from the configured environment variable. Debug mode allows
// unauthenticated access with a logged warning; production mode with no
// key configured fails closed on every request.
func (s *Server) apiKeyGate() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if authExemptPaths[c.Request().URL.Path] {
				return next(c)
			}

			auth := s.cfg.Auth
			if auth == nil {
				auth = &config.AuthConfig{}
			}

			key := ""
			if auth.APIKeyEnv != "" {
				key = os.Getenv(auth.APIKeyEnv)
			}

			if key == "" {
				if auth.DebugMode {
					warnDebugOnce.Do(func() {
						slog.Warn("running without an API key: debug mode allows unauthenticated access")
					})
					return next(c)
				}
				return echo.NewHTTPError(http.StatusServiceUnavailable, "api key not configured")
			}

			provided := c.Request().Header.Get("X-API-Key")
			if provided == "" {
				if v := c.Request().URL.Query().Get("token"); v != "" {
					provided = v
				}
			}
			if provided != key {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid or missing api key")
			}

			return next(c)
		}
	}
}

// promptInjectionPatterns flags the crudest opener phrasings used to
// override a system prompt. Not a substitute for model-side defenses —
// a best-effort gate at the transport boundary per spec §4.7.
var promptInjectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore (all )?(previous|prior|above) instructions`),
	regexp.MustCompile(`(?i)disregard (your|the) (system )?prompt`),
	regexp.MustCompile(`(?i)you are now (in )?(developer|debug|jailbreak|dan) mode`),
	regexp.MustCompile(`(?i)reveal your (system )?(prompt|instructions)`),
}

// promptInjectionExempt matches authExemptPaths plus any path not
// carrying a client-authored body.
var promptInjectionExempt = map[string]bool{
	"/health": true,
}

// promptInjectionScan scans POST/PATCH bodies for prompt-injection
// opener patterns (spec §4.7), restoring the body afterward so
// downstream handlers can still bind it.
func promptInjectionScan() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if promptInjectionExempt[req.URL.Path] || (req.Method != http.MethodPost && req.Method != http.MethodPatch) {
				return next(c)
			}

			body, err := io.ReadAll(io.LimitReader(req.Body, maxBodyBytes))
			if err != nil {
				return err
			}
			req.Body = io.NopCloser(bytes.NewReader(body))

			text := string(body)
			for _, p := range promptInjectionPatterns {
				if p.MatchString(text) {
					slog.Warn("prompt injection pattern rejected", "path", req.URL.Path, "pattern", p.String())
					return echo.NewHTTPError(http.StatusUnprocessableEntity, "request body rejected by security scan")
				}
			}

			return next(c)
		}
	}
}

// csrfExempt paths bypass the CSRF check. Requests carrying an API key
// are exempted separately in checkCSRF, not through this map.
var csrfExempt = map[string]bool{
	"/health": true,
}

// checkCSRF enforces spec §4.7's CSRF rule for browser-originated POSTs:
// a request carrying a session cookie must also carry a matching
// X-CSRF-Token header. Requests authenticated purely via X-API-Key (the
// api-proxy path) are exempt since they carry no ambient browser
// credential a forged page could replay.
func checkCSRF(c echo.Context) bool {
	req := c.Request()
	if csrfExempt[req.URL.Path] {
		return true
	}
	if req.Header.Get("X-API-Key") != "" {
		return true
	}
	cookie, err := req.Cookie("aria_session")
	if err != nil {
		return true // no browser session cookie, nothing to forge
	}
	token := req.Header.Get("X-CSRF-Token")
	return token != "" && strings.EqualFold(token, cookie.Value)
}

// csrfGate enforces spec §4.7's CSRF rule via checkCSRF, and issues the
// browser session cookie on any response that doesn't already carry
// one, so a same-origin browser client picks one up on its first
// request and can echo it back as X-CSRF-Token on every subsequent
// state-changing call. Cookie flags per spec §4.7: HttpOnly,
// SameSite=Lax, Secure when the production flag is set.
func (s *Server) csrfGate() echo.MiddlewareFunc {
	secure := s.cfg != nil && s.cfg.Auth != nil && s.cfg.Auth.ProductionMode
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if _, err := req.Cookie("aria_session"); err != nil {
				http.SetCookie(c.Response(), &http.Cookie{
					Name:     "aria_session",
					Value:    uuidCookieValue(),
					Path:     "/",
					HttpOnly: true,
					SameSite: http.SameSiteLaxMode,
					Secure:   secure,
				})
			}

			if req.Method == http.MethodPost || req.Method == http.MethodPatch || req.Method == http.MethodDelete {
				if !checkCSRF(c) {
					return echo.NewHTTPError(http.StatusForbidden, "csrf token missing or invalid")
				}
			}

			return next(c)
		}
	}
}

// uuidCookieValue mints the random value for a freshly issued browser
// session cookie.
func uuidCookieValue() string {
	return uuid.NewString()
}

// securityHeaders sets standard security response headers on every
// response.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			return next(c)
		}
	}
}

