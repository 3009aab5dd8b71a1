package security

import (
	"net"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"threadloom/pkg/logger"
)

type Role int

const (
	RoleUnauth Role = iota
	RoleFrontend
	RoleBackend
	RoleAdmin
)

type SecConfig struct {
	AllowedOrigins []string
	RPS            float64
	Burst          int
	IPWhitelist    []string
	BackendKeys    map[string]struct{}
	FrontendKeys   map[string]struct{}
	AdminKeys      map[string]struct{}
}

// AuthenticateRequestMiddleware applies CORS, IP whitelisting, API-key role
// resolution, frontend scope enforcement, and per-key rate limiting before
// the request reaches the router.
func AuthenticateRequestMiddleware(cfg SecConfig) func(http.Handler) http.Handler {
	// Rate limiters keyed by API key or remote IP.
	limiters := &limiterPool{cfg: cfg}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && originAllowed(origin, cfg.AllowedOrigins) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,PATCH,OPTIONS")
				w.Header().Set("Access-Control-Max-Age", "600")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization,Content-Type,X-API-Key,X-User-ID,X-User-Signature")
				w.Header().Set("Access-Control-Expose-Headers", "X-Role-Name")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			if len(cfg.IPWhitelist) > 0 {
				ip := clientIP(r)
				if !ipWhitelisted(ip, cfg.IPWhitelist) {
					http.Error(w, "forbidden", http.StatusForbidden)
					logger.Warn("request_blocked", "reason", "ip_not_whitelisted", "ip", ip, "path", r.URL.Path)
					return
				}
			}

			role, key, hasAPIKey := authenticate(r, cfg)
			logger.Debug("auth_check", "role", roleName(role), "has_api_key", hasAPIKey)

			// Deployment probes cannot send API keys; accept GET /healthz
			// without authentication.
			if r.URL.Path == "/healthz" && r.Method == http.MethodGet {
				r.Header.Set("X-Role-Name", "unauth")
				next.ServeHTTP(w, r)
				return
			}

			// Unauthenticated requests pass only when they carry signature
			// headers; the signature middleware then decides.
			if role == RoleUnauth {
				if !(r.Header.Get("X-User-ID") != "" && r.Header.Get("X-User-Signature") != "") {
					http.Error(w, "unauthorized", http.StatusUnauthorized)
					logger.Warn("request_unauthorized", "path", r.URL.Path, "remote", r.RemoteAddr)
					return
				}
			}

			r.Header.Set("X-Role-Name", roleName(role))

			if role == RoleFrontend && !frontendAllowed(r) {
				http.Error(w, "forbidden", http.StatusForbidden)
				logger.Warn("request_forbidden", "reason", "frontend_not_allowed", "path", r.URL.Path)
				return
			}

			if !limiters.Allow(key) {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				logger.Warn("rate_limited", "has_api_key", hasAPIKey, "path", r.URL.Path)
				return
			}

			logger.Debug("request_allowed", "method", r.Method, "path", r.URL.Path, "role", r.Header.Get("X-Role-Name"))
			next.ServeHTTP(w, r)
		})
	}
}

func roleName(role Role) string {
	switch role {
	case RoleFrontend:
		return "frontend"
	case RoleBackend:
		return "backend"
	case RoleAdmin:
		return "admin"
	default:
		return "unauth"
	}
}

func originAllowed(origin string, allowed []string) bool {
	if len(allowed) == 0 {
		return false
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

func clientIP(r *http.Request) string {
	// Direct connections only; X-Forwarded-For is ignored.
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func ipWhitelisted(ip string, list []string) bool {
	for _, w := range list {
		if ip == w {
			return true
		}
	}
	return false
}

func authenticate(r *http.Request, cfg SecConfig) (Role, string, bool) {
	// Prefer Authorization: Bearer <key>, fallback to X-API-Key.
	auth := r.Header.Get("Authorization")
	var key string
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		key = strings.TrimSpace(auth[7:])
	}
	if key == "" {
		key = r.Header.Get("X-API-Key")
	}
	if key == "" {
		return RoleUnauth, clientIP(r), false
	}
	if cfg.AdminKeys != nil {
		if _, ok := cfg.AdminKeys[key]; ok {
			return RoleAdmin, key, true
		}
	}
	if _, ok := cfg.BackendKeys[key]; ok {
		return RoleBackend, key, true
	}
	if _, ok := cfg.FrontendKeys[key]; ok {
		return RoleFrontend, key, true
	}
	return RoleUnauth, key, true
}

// frontendAllowed scopes frontend keys to the conversation surfaces.
// Handlers still require a verified author and perform ownership checks.
func frontendAllowed(r *http.Request) bool {
	if r.URL.Path == "/v1/reconcile" && r.Method == http.MethodPost {
		return true
	}
	if strings.HasPrefix(r.URL.Path, "/v1/threads") {
		return true
	}
	if strings.HasPrefix(r.URL.Path, "/v1/streams") {
		return true
	}
	return false
}

type limiterPool struct {
	mu  sync.Mutex
	m   map[string]*rate.Limiter
	cfg SecConfig
}

func (p *limiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.m == nil {
		p.m = make(map[string]*rate.Limiter)
	}
	if l, ok := p.m[key]; ok {
		return l
	}
	rps := p.cfg.RPS
	if rps <= 0 {
		rps = 5
	}
	burst := p.cfg.Burst
	if burst <= 0 {
		burst = 10
	}
	l := rate.NewLimiter(rate.Limit(rps), burst)
	p.m[key] = l
	return l
}

func (p *limiterPool) Allow(key string) bool {
	return p.get(key).Allow()
}
