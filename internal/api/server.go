package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/smazurov/livecast/internal/api/models"
	"github.com/smazurov/livecast/internal/controller"
	"github.com/smazurov/livecast/internal/events"
	"github.com/smazurov/livecast/internal/livestream"
	"github.com/smazurov/livecast/internal/logging"
	"github.com/smazurov/livecast/internal/version"
)

// Server represents the Huma v2 API server
type Server struct {
	api        huma.API
	mux        *http.ServeMux
	httpServer *http.Server
	registry   *controller.Registry
	eventBus   *events.Bus
	options    *Options
	logger     *slog.Logger
}

// Catalog is what the preference panel may offer. It comes from
// configuration so the selectable values are not baked into clients.
type Catalog struct {
	// Languages are BCP 47 tags offered for selection.
	Languages []string

	// Defaults fill create requests that omit a field.
	Defaults livestream.CreateInput
}

// Options configures the API server.
type Options struct {
	Registry *controller.Registry
	EventBus *events.Bus
	Catalog  Catalog

	// CommandTimeout bounds each command's studio round trip. Zero means
	// the request context alone applies.
	CommandTimeout time.Duration

	// CORSOrigin is sent as Access-Control-Allow-Origin. Empty allows any.
	CORSOrigin string

	PrometheusHandler http.Handler  // Optional Prometheus metrics handler
	History           HistoryReader // Optional transition history
}

// NewServer creates a new API server with Huma v2 using Go 1.22+ native routing
func NewServer(opts *Options) *Server {
	if opts == nil || opts.Registry == nil || opts.EventBus == nil {
		panic("api Options with Registry and EventBus are required")
	}

	mux := http.NewServeMux()

	corsConfig := DefaultCORSConfig()
	if opts.CORSOrigin != "" {
		corsConfig.AllowOrigin = opts.CORSOrigin
	}

	// Huma middleware doesn't intercept OPTIONS before routing
	AddCORSHandler(mux, corsConfig)

	config := huma.DefaultConfig("Livecast API", version.Version)
	config.Info.Description = "Live-stream lifecycle control for podcasts"
	// Empty servers list will make OpenAPI use relative paths, working with any host
	config.Servers = []*huma.Server{}

	api := humago.New(mux, config)

	server := &Server{
		api:      api,
		mux:      mux,
		registry: opts.Registry,
		eventBus: opts.EventBus,
		options:  opts,
		logger:   logging.GetLogger("api"),
	}

	api.UseMiddleware(NewCORSMiddleware(corsConfig))
	api.UseMiddleware(HTTPLoggingMiddleware)

	if opts.PrometheusHandler != nil {
		mux.Handle("GET /metrics", opts.PrometheusHandler)
	}

	server.registerRoutes()
	return server
}

// GetMux returns the underlying HTTP ServeMux for additional setup
func (s *Server) GetMux() *http.ServeMux {
	return s.mux
}

// GetAPI returns the Huma API instance
func (s *Server) GetAPI() huma.API {
	return s.api
}

// Start starts the HTTP server on the specified address. It blocks until
// the server stops.
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting livecast API server", "addr", addr)
	s.logger.Info("OpenAPI documentation available", "url", "http://"+addr+"/docs")

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s.httpServer.ListenAndServe()
}

// Stop shuts the server down. SSE connections never go idle, so they are
// closed rather than drained.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health",
		Description: "Check API health status",
		Tags:        []string{"health"},
	}, func(_ context.Context, _ *struct{}) (*models.HealthResponse, error) {
		return &models.HealthResponse{
			Body: models.HealthData{
				Status:  "ok",
				Message: "API is healthy",
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/api/version",
		Summary:     "Version",
		Description: "Get application version information",
		Tags:        []string{"system"},
	}, func(_ context.Context, _ *struct{}) (*models.VersionResponse, error) {
		versionInfo := version.Get()
		return &models.VersionResponse{
			Body: models.VersionData{
				Version:   versionInfo.Version,
				GitCommit: versionInfo.GitCommit,
				BuildDate: versionInfo.BuildDate,
				BuildID:   versionInfo.BuildID,
				GoVersion: versionInfo.GoVersion,
				Compiler:  versionInfo.Compiler,
				Platform:  versionInfo.Platform,
			},
		}, nil
	})

	s.registerLiveStreamRoutes()
	s.registerOptionsRoutes()
	s.registerHistoryRoutes()
	s.registerEventRoutes()
	s.registerLogRoutes()
}
