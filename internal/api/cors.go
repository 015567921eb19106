package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowOrigin   string
	AllowMethods  []string
	AllowHeaders  []string
	ExposeHeaders []string
	MaxAge        int
}

// DefaultCORSConfig returns permissive CORS config for the control panel
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigin:   "*",
		AllowMethods:  []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders:  []string{"Content-Type", "Accept", "Origin", "Last-Event-ID", requestIDHeader},
		ExposeHeaders: []string{requestIDHeader},
		MaxAge:        86400,
	}
}

// corsHeaders pre-computes the header values for a config.
func corsHeaders(config CORSConfig) map[string]string {
	headers := map[string]string{
		"Access-Control-Allow-Origin":  config.AllowOrigin,
		"Access-Control-Allow-Methods": strings.Join(config.AllowMethods, ", "),
		"Access-Control-Allow-Headers": strings.Join(config.AllowHeaders, ", "),
		"Access-Control-Max-Age":       strconv.Itoa(config.MaxAge),
	}
	if len(config.ExposeHeaders) > 0 {
		headers["Access-Control-Expose-Headers"] = strings.Join(config.ExposeHeaders, ", ")
	}
	return headers
}

// NewCORSMiddleware creates CORS middleware with the given configuration
func NewCORSMiddleware(config CORSConfig) func(huma.Context, func(huma.Context)) {
	headers := corsHeaders(config)

	return func(ctx huma.Context, next func(huma.Context)) {
		for k, v := range headers {
			ctx.SetHeader(k, v)
		}

		if ctx.Method() == http.MethodOptions {
			ctx.SetStatus(http.StatusNoContent)
			return
		}

		next(ctx)
	}
}

// AddCORSHandler adds a CORS preflight handler to the mux for OPTIONS requests
// This is needed because Huma middleware doesn't intercept OPTIONS before routing
func AddCORSHandler(mux *http.ServeMux, config CORSConfig) {
	headers := corsHeaders(config)

	mux.HandleFunc("OPTIONS /", func(w http.ResponseWriter, _ *http.Request) {
		for k, v := range headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(http.StatusNoContent)
	})
}
