package api

import (
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"

	"vehirec/internal/config"
)

const (
	apiKeyHeaderDefault   = "x-api-key"
	apiExtraHeaderDefault = "x-api-extra"
	clientKeyUnknown      = "unknown"

	permReadRecommendations = "read:recommendations"
	permReadVehicles        = "read:vehicles"
	permReadClients         = "read:clients"
	permWriteModel          = "write:model"
	permExport              = "write:exports"
)

var (
	errMissingHeaders   = errors.New("missing api key headers")
	errInvalidAPIKey    = errors.New("invalid api key")
	errInvalidExtra     = errors.New("invalid extra header")
	errPermissionDenied = errors.New("permission denied")
	errRateLimited      = errors.New("rate limit exceeded")
)

// Auth provides API-key auth and per-key rate limiting for HTTP endpoints.
type Auth struct {
	cfg *config.APIConfig

	clientsByAPIKey map[string]config.APIClientKey
	limiter         *rateLimiter
}

func NewAuth(cfg *config.APIConfig) *Auth {
	m := make(map[string]config.APIClientKey, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		m[k.Key] = k
	}

	return &Auth{
		cfg:             cfg,
		clientsByAPIKey: m,
		limiter:         newRateLimiter(cfg),
	}
}

// Wrap checks credentials, permissions and the rate limit before calling next.
// Health and metrics endpoints are never authenticated.
func (a *Auth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.cfg.Enabled || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		if a.cfg.Auth.Enabled {
			if err := a.checkAuth(r); err != nil {
				statusCode := http.StatusUnauthorized
				if errors.Is(err, errPermissionDenied) {
					statusCode = http.StatusForbidden
				}
				writeError(w, statusCode, err.Error())
				return
			}
		}

		if err := a.checkRateLimit(r); err != nil {
			writeError(w, http.StatusTooManyRequests, err.Error())
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *Auth) headerNames() (apiKey, extra string) {
	apiKey = strings.ToLower(strings.TrimSpace(a.cfg.Auth.HeaderAPIKey))
	if apiKey == "" {
		apiKey = apiKeyHeaderDefault
	}
	extra = strings.ToLower(strings.TrimSpace(a.cfg.Auth.HeaderExtra))
	if extra == "" {
		extra = apiExtraHeaderDefault
	}
	return apiKey, extra
}

func (a *Auth) checkAuth(r *http.Request) error {
	apiKeyHeader, extraHeader := a.headerNames()

	apiKey := strings.TrimSpace(r.Header.Get(apiKeyHeader))
	extra := strings.TrimSpace(r.Header.Get(extraHeader))
	if apiKey == "" || extra == "" {
		return errMissingHeaders
	}

	client, ok := a.clientsByAPIKey[apiKey]
	if !ok {
		return errInvalidAPIKey
	}
	if subtle.ConstantTimeCompare([]byte(client.Extra), []byte(extra)) != 1 {
		return errInvalidExtra
	}

	return a.checkPermissions(client, r)
}

func (a *Auth) checkPermissions(client config.APIClientKey, r *http.Request) error {
	required := requiredPermission(r)
	if required == "" {
		return nil
	}

	// пустой список прав = доступ ко всему
	if len(client.Permissions) == 0 {
		return nil
	}

	for _, p := range client.Permissions {
		if strings.TrimSpace(p) == required {
			return nil
		}
	}
	return errPermissionDenied
}

func requiredPermission(r *http.Request) string {
	path := r.URL.Path
	switch {
	case strings.HasPrefix(path, "/api/v1/recommendations/") && strings.HasSuffix(path, "/export"):
		return permExport
	case strings.HasPrefix(path, "/api/v1/recommendations/"):
		return permReadRecommendations
	case strings.HasPrefix(path, "/api/v1/vehicles"):
		return permReadVehicles
	case strings.HasPrefix(path, "/api/v1/clients/"):
		return permReadClients
	case path == "/api/v1/model/train":
		return permWriteModel
	default:
		return ""
	}
}

func (a *Auth) checkRateLimit(r *http.Request) error {
	if !a.limiter.enabled() {
		return nil
	}
	if !a.limiter.getLimiter(a.clientKey(r)).Allow() {
		return errRateLimited
	}
	return nil
}

func (a *Auth) clientKey(r *http.Request) string {
	apiKeyHeader, _ := a.headerNames()
	if apiKey := strings.TrimSpace(r.Header.Get(apiKeyHeader)); apiKey != "" {
		return apiKey
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}

func isPublicPath(path string) bool {
	return path == "/healthz" || path == "/metrics"
}
