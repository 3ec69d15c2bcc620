package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"net/mail"
	"strings"

	"catalogexport/internal/config"
)

const (
	apiKeyHeaderDefault = "x-api-key"
	adminEmailHeader    = "x-admin-email"
	permExportWrite     = "export:write"
	permExportRead      = "export:read"
	clientKeyUnknown    = "unknown"
)

var (
	errMissingAPIKey    = errors.New("missing api key header")
	errInvalidAPIKey    = errors.New("invalid api key")
	errPermissionDenied = errors.New("permission denied")
	errMissingAdmin     = errors.New("missing administrator identity")
)

type adminKey struct{}

// Admin is the authenticated administrator of a request.
type Admin struct {
	Name  string
	Email string
}

func withAdmin(ctx context.Context, a Admin) context.Context {
	return context.WithValue(ctx, adminKey{}, a)
}

// AdminFromContext returns the administrator stored by the auth middleware.
func AdminFromContext(ctx context.Context) (Admin, bool) {
	a, ok := ctx.Value(adminKey{}).(Admin)
	return a, ok
}

// HTTPAuth provides API-key auth and per-key rate limiting for HTTP routes.
// Each key is bound to an administrator whose email receives export outcomes.
type HTTPAuth struct {
	cfg     config.APIConfig
	clients []config.APIClientKey
	limiter *rateLimiter
}

func NewHTTPAuth(cfg config.APIConfig) *HTTPAuth {
	return &HTTPAuth{
		cfg:     cfg,
		clients: cfg.Auth.APIKeys,
		limiter: newRateLimiter(cfg.RateLimit),
	}
}

// Require authenticates the request and checks that the key holds perm.
func (a *HTTPAuth) Require(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			admin, err := a.authenticate(r, perm)
			if err != nil {
				statusCode := http.StatusUnauthorized
				if errors.Is(err, errPermissionDenied) {
					statusCode = http.StatusForbidden
				}
				writeError(w, statusCode, err.Error())
				return
			}

			if !a.limiter.Allow(a.clientKey(r)) {
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r.WithContext(withAdmin(r.Context(), admin)))
		})
	}
}

func (a *HTTPAuth) authenticate(r *http.Request, perm string) (Admin, error) {
	if !a.cfg.Auth.Enabled {
		// without keys the caller names the administrator explicitly
		email := strings.TrimSpace(r.Header.Get(adminEmailHeader))
		if email == "" {
			return Admin{}, errMissingAdmin
		}
		if _, err := mail.ParseAddress(email); err != nil {
			return Admin{}, errMissingAdmin
		}
		return Admin{Email: email}, nil
	}

	apiKey := strings.TrimSpace(r.Header.Get(a.headerName()))
	if apiKey == "" {
		return Admin{}, errMissingAPIKey
	}

	client, ok := a.lookup(apiKey)
	if !ok {
		return Admin{}, errInvalidAPIKey
	}
	if !hasPermission(client, perm) {
		return Admin{}, errPermissionDenied
	}
	if client.Email == "" {
		return Admin{}, errMissingAdmin
	}
	return Admin{Name: client.Name, Email: client.Email}, nil
}

func (a *HTTPAuth) lookup(apiKey string) (config.APIClientKey, bool) {
	for _, c := range a.clients {
		if subtle.ConstantTimeCompare([]byte(c.Key), []byte(apiKey)) == 1 {
			return c, true
		}
	}
	return config.APIClientKey{}, false
}

// hasPermission treats an empty permission list as allow-all.
func hasPermission(client config.APIClientKey, required string) bool {
	if required == "" || len(client.Permissions) == 0 {
		return true
	}
	for _, p := range client.Permissions {
		if strings.TrimSpace(p) == required {
			return true
		}
	}
	return false
}

func (a *HTTPAuth) headerName() string {
	h := strings.TrimSpace(strings.ToLower(a.cfg.Auth.HeaderAPIKey))
	if h == "" {
		return apiKeyHeaderDefault
	}
	return h
}

func (a *HTTPAuth) clientKey(r *http.Request) string {
	if apiKey := strings.TrimSpace(r.Header.Get(a.headerName())); apiKey != "" {
		return apiKey
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}
