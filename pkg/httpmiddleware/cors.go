package httpmiddleware

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
)

// CORSConfig configures cross-origin access for browser POS clients.
type CORSConfig struct {
	// Origins allowed to call the API. Empty or "*" allows any origin.
	Origins          []string
	Methods          []string
	Headers          []string
	AllowCredentials bool
	// MaxAge of preflight results in seconds; zero omits the header.
	MaxAge int
}

// CORS answers preflight requests and decorates actual cross-origin
// responses. With credentials enabled the request origin is echoed instead
// of "*".
func CORS(cfg CORSConfig) Middleware {
	anyOrigin := len(cfg.Origins) == 0 || slices.Contains(cfg.Origins, "*")
	origins := make(map[string]struct{}, len(cfg.Origins))
	for _, o := range cfg.Origins {
		origins[strings.ToLower(o)] = struct{}{}
	}

	methods := "GET, POST, OPTIONS"
	if len(cfg.Methods) > 0 {
		methods = strings.Join(cfg.Methods, ", ")
	}
	headers := strings.Join(cfg.Headers, ", ")

	allowOrigin := func(origin string) string {
		if anyOrigin {
			if cfg.AllowCredentials {
				return origin
			}
			return "*"
		}
		if _, ok := origins[strings.ToLower(origin)]; ok {
			return origin
		}
		return ""
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Add("Vary", "Origin")

			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			allowed := allowOrigin(origin)
			if allowed != "" {
				h.Set("Access-Control-Allow-Origin", allowed)
				if cfg.AllowCredentials {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method != http.MethodOptions || r.Header.Get("Access-Control-Request-Method") == "" {
				next.ServeHTTP(w, r)
				return
			}

			h.Add("Vary", "Access-Control-Request-Method")
			h.Add("Vary", "Access-Control-Request-Headers")
			if allowed != "" {
				h.Set("Access-Control-Allow-Methods", methods)
				reqHeaders := headers
				if reqHeaders == "" {
					reqHeaders = r.Header.Get("Access-Control-Request-Headers")
				}
				if reqHeaders != "" {
					h.Set("Access-Control-Allow-Headers", reqHeaders)
				}
				if cfg.MaxAge > 0 {
					h.Set("Access-Control-Max-Age", strconv.Itoa(cfg.MaxAge))
				}
			}
			w.WriteHeader(http.StatusNoContent)
		})
	}
}
