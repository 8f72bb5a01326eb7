package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	rateLimitWindow  = 5 * time.Minute
	rateLimitMaxFail = 10

	// Closed windows are swept once this many IPs are tracked.
	rateLimitPruneThreshold = 1000

	adminRealm = `Basic realm="ga4-reports admin", charset="UTF-8"`
)

// dummyHash is compared against when the username is unknown so both
// paths cost one bcrypt comparison.
var dummyHash = []byte("$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5BWX4Z1C2P1nHzG/6fC6sB5r6uSpa")

type contextKey int

const ctxAdminUser contextKey = iota

// AdminUser returns the authenticated admin name from the request
// context, or "".
func AdminUser(r *http.Request) string {
	v, _ := r.Context().Value(ctxAdminUser).(string)
	return v
}

// failedLogins counts failed admin logins per client IP in fixed
// windows. The window opens at an IP's first failure; once it holds
// rateLimitMaxFail failures the IP is blocked until the window closes.
// A successful login clears the IP.
type failedLogins struct {
	mu      sync.Mutex
	windows map[string]failureWindow
	now     func() time.Time
}

type failureWindow struct {
	opened time.Time
	count  int
}

func newFailedLogins() *failedLogins {
	return &failedLogins{
		windows: make(map[string]failureWindow),
		now:     time.Now,
	}
}

func (f *failedLogins) blocked(ip string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	w, ok := f.windows[ip]
	if !ok {
		return false
	}

	if f.now().Sub(w.opened) >= rateLimitWindow {
		delete(f.windows, ip)
		return false
	}

	return w.count >= rateLimitMaxFail
}

func (f *failedLogins) fail(ip string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()

	if len(f.windows) > rateLimitPruneThreshold {
		f.pruneLocked(now)
	}

	w, ok := f.windows[ip]
	if !ok || now.Sub(w.opened) >= rateLimitWindow {
		w = failureWindow{opened: now}
	}

	w.count++
	f.windows[ip] = w
}

func (f *failedLogins) clear(ip string) {
	f.mu.Lock()
	delete(f.windows, ip)
	f.mu.Unlock()
}

func (f *failedLogins) pruneLocked(now time.Time) {
	for ip, w := range f.windows {
		if now.Sub(w.opened) >= rateLimitWindow {
			delete(f.windows, ip)
		}
	}
}

// adminAuth returns middleware enforcing HTTP basic auth against
// bcrypt hashes.
func adminAuth(users map[string]string, failures *failedLogins, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := remoteIP(r)

			if failures.blocked(ip) {
				logger.Warn("admin login rate limited", slog.String("ip", ip))
				writeJSONError(w, http.StatusTooManyRequests, "rate_limited", "too many failed login attempts, try again later")

				return
			}

			username, password, ok := r.BasicAuth()
			if !ok {
				w.Header().Set("WWW-Authenticate", adminRealm)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "authentication required")

				return
			}

			hash, known := users[username]
			if !known {
				hash = string(dummyHash)
			}

			if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil || !known {
				logger.Warn("admin login failed", slog.String("username", username), slog.String("ip", ip))
				failures.fail(ip)
				w.Header().Set("WWW-Authenticate", adminRealm)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "invalid username or password")

				return
			}

			failures.clear(ip)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxAdminUser, username)))
		})
	}
}
