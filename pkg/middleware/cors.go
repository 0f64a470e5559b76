package middleware

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"
)

// CORSConfig lists what browsers on other origins may call. "*" in Origins
// admits any origin.
type CORSConfig struct {
	Origins []string
	Methods []string
	Headers []string
	MaxAge  time.Duration
}

// DefaultCORSConfig admits origins to the rewrite API's methods and headers.
func DefaultCORSConfig(origins []string) CORSConfig {
	return CORSConfig{
		Origins: origins,
		Methods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		Headers: []string{"Content-Type", RequestIDHeader},
		MaxAge:  24 * time.Hour,
	}
}

func (c CORSConfig) allows(origin string) bool {
	return slices.Contains(c.Origins, "*") || slices.Contains(c.Origins, origin)
}

// CORS echoes an admitted Origin and answers preflight requests itself.
// Requests from other origins reach next without CORS headers, so the browser
// blocks the response.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	methods := strings.Join(cfg.Methods, ", ")
	headers := strings.Join(cfg.Headers, ", ")
	maxAge := strconv.Itoa(int(cfg.MaxAge.Seconds()))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Add("Vary", "Origin")
			origin := r.Header.Get("Origin")
			if origin == "" || !cfg.allows(origin) {
				next.ServeHTTP(w, r)
				return
			}
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Expose-Headers", RequestIDHeader)

			preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
			if !preflight {
				next.ServeHTTP(w, r)
				return
			}
			h.Set("Access-Control-Allow-Methods", methods)
			h.Set("Access-Control-Allow-Headers", headers)
			h.Set("Access-Control-Max-Age", maxAge)
			w.WriteHeader(http.StatusNoContent)
		})
	}
}
