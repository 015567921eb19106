package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/smazurov/livecast/cmd"
	"github.com/smazurov/livecast/internal/api"
	"github.com/smazurov/livecast/internal/config"
	"github.com/smazurov/livecast/internal/controller"
	"github.com/smazurov/livecast/internal/events"
	"github.com/smazurov/livecast/internal/history"
	"github.com/smazurov/livecast/internal/livestream"
	"github.com/smazurov/livecast/internal/logging"
	"github.com/smazurov/livecast/internal/metrics"
	"github.com/smazurov/livecast/internal/mirror"
	"github.com/smazurov/livecast/internal/preferences"
	"github.com/smazurov/livecast/internal/studio"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port           string `help:"Port to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`
	CORSOrigin     string `help:"Access-Control-Allow-Origin value" default:"*" toml:"server.cors_origin" env:"SERVER_CORS_ORIGIN"`
	CommandTimeout string `help:"Upper bound of one command's studio round trip" default:"15s" toml:"server.command_timeout" env:"SERVER_COMMAND_TIMEOUT"`

	// Studio settings
	StudioBaseURL string `help:"Studio API base URL" default:"http://localhost:8091" toml:"studio.base_url" env:"STUDIO_BASE_URL"`
	StudioTimeout string `help:"Timeout of each studio request" default:"10s" toml:"studio.timeout" env:"STUDIO_TIMEOUT"`

	// Controller settings
	PollInterval   string `help:"Status poll interval while a stream is active" default:"5s" toml:"poll.interval" env:"POLL_INTERVAL"`
	RegistryLinger string `help:"How long an unused controller is kept" default:"30s" toml:"registry.linger" env:"REGISTRY_LINGER"`

	// Create defaults and selectable options
	DefaultsQuality    string `help:"Default broadcast quality" default:"720p" toml:"defaults.quality" env:"DEFAULTS_QUALITY"`
	DefaultsLanguages  string `help:"Default languages, comma-separated, primary first" default:"en" toml:"defaults.languages" env:"DEFAULTS_LANGUAGES"`
	DefaultsAutoRecord bool   `help:"Record new streams by default" default:"false" toml:"defaults.auto_record" env:"DEFAULTS_AUTO_RECORD"`
	OptionsLanguages   string `help:"Selectable languages, comma-separated" default:"en,es,fr,de,pt-BR,ja" toml:"options.languages" env:"OPTIONS_LANGUAGES"`

	// Mirror and history
	RedisURL    string `help:"Redis URL for the state mirror (empty disables)" default:"" toml:"redis.url" env:"REDIS_URL"`
	RedisTTL    string `help:"TTL of mirrored keys" default:"24h" toml:"redis.ttl" env:"REDIS_TTL"`
	DatabaseURL string `help:"Postgres URL for transition history (empty disables)" default:"" toml:"database.url" env:"DATABASE_URL"`

	// Logging settings
	LoggingLevel      string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat     string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingAPI        string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
	LoggingHTTP       string `help:"HTTP request logging level" default:"info" toml:"logging.http" env:"LOGGING_HTTP"`
	LoggingController string `help:"Controller logging level" default:"info" toml:"logging.controller" env:"LOGGING_CONTROLLER"`
	LoggingPoller     string `help:"Poller logging level" default:"info" toml:"logging.poller" env:"LOGGING_POLLER"`
	LoggingStudio     string `help:"Studio client logging level" default:"info" toml:"logging.studio" env:"LOGGING_STUDIO"`
	LoggingMirror     string `help:"Redis mirror logging level" default:"info" toml:"logging.mirror" env:"LOGGING_MIRROR"`
	LoggingHistory    string `help:"History logging level" default:"info" toml:"logging.history" env:"LOGGING_HISTORY"`
}

func parseDuration(logger *slog.Logger, name, value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		logger.Warn("Invalid duration, using default", "option", name, "value", value, "default", fallback)
		return fallback
	}
	return d
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func main() {
	// Create Huma CLI
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		config.LoadEnvFile(slog.Default())

		// Load configuration automatically
		if loadErr := config.LoadConfig(opts, nil); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		// Initialize logging system
		loggingConfig := logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				"api":        opts.LoggingAPI,
				"http":       opts.LoggingHTTP,
				"controller": opts.LoggingController,
				"poller":     opts.LoggingPoller,
				"studio":     opts.LoggingStudio,
				"mirror":     opts.LoggingMirror,
				"history":    opts.LoggingHistory,
			},
		}
		logging.Initialize(loggingConfig)

		logger := logging.GetLogger("main")

		// Create event bus for in-process event handling
		eventBus := events.New()
		logging.SetLogCallback(func(entry logging.LogEntry) {
			eventBus.Publish(api.LogEntryEvent(entry))
		})

		defaults, err := preferences.NormalizeCreate(livestream.CreateInput{
			AutoRecord: opts.DefaultsAutoRecord,
			Languages:  splitList(opts.DefaultsLanguages),
			Quality:    livestream.Quality(opts.DefaultsQuality),
		})
		if err != nil {
			logger.Error("Invalid create defaults", "error", err)
			os.Exit(1)
		}

		client := studio.NewClient(opts.StudioBaseURL, parseDuration(logger, "studio.timeout", opts.StudioTimeout, studio.DefaultTimeout))
		registry := controller.NewRegistry(&controller.RegistryOptions{
			Repository:   client,
			Bus:          eventBus,
			PollInterval: parseDuration(logger, "poll.interval", opts.PollInterval, 0),
			Linger:       parseDuration(logger, "registry.linger", opts.RegistryLinger, 30*time.Second),
		})

		ctx := context.Background()

		var redisMirror *mirror.Mirror
		var closeRedis func() error
		if opts.RedisURL != "" {
			rdb, redisErr := mirror.NewClient(ctx, opts.RedisURL)
			if redisErr != nil {
				logger.Warn("Redis mirror disabled", "error", redisErr)
			} else {
				closeRedis = rdb.Close
				redisMirror = mirror.New(&mirror.Options{
					Client: rdb,
					Bus:    eventBus,
					TTL:    parseDuration(logger, "redis.ttl", opts.RedisTTL, mirror.DefaultTTL),
				})
			}
		}

		var recorder *history.Recorder
		var closePool func()
		if opts.DatabaseURL != "" {
			pool, dbErr := history.NewPool(ctx, opts.DatabaseURL)
			if dbErr == nil {
				dbErr = history.ApplySchema(ctx, pool)
				if dbErr != nil {
					pool.Close()
				}
			}
			if dbErr != nil {
				logger.Warn("Transition history disabled", "error", dbErr)
			} else {
				closePool = pool.Close
				recorder = history.NewRecorder(pool, eventBus)
			}
		}

		apiOpts := &api.Options{
			Registry: registry,
			EventBus: eventBus,
			Catalog: api.Catalog{
				Languages: splitList(opts.OptionsLanguages),
				Defaults:  defaults,
			},
			CommandTimeout:    parseDuration(logger, "server.command_timeout", opts.CommandTimeout, 15*time.Second),
			CORSOrigin:        opts.CORSOrigin,
			PrometheusHandler: metrics.Handler(),
		}
		if recorder != nil {
			apiOpts.History = recorder
		}

		server := api.NewServer(apiOpts)

		// Poll interval and log levels follow the config file at runtime
		watcher := config.NewConfigWatcher(opts.Config, config.LoadRuntime, logging.GetLogger("config"))
		watcher.OnReload(func(rt config.Runtime) {
			logging.SetLevels(rt.Logging.Level, rt.Logging.Modules)
			if rt.PollInterval > 0 {
				registry.SetPollInterval(rt.PollInterval)
			}
			logger.Info("Runtime config reloaded", "poll_interval", rt.PollInterval, "level", rt.Logging.Level)
		})

		hooks.OnStart(func() {
			if redisMirror != nil {
				redisMirror.Start()
			}
			if recorder != nil {
				recorder.Start()
			}
			if watchErr := watcher.Start(); watchErr != nil {
				logger.Warn("Config hot reload disabled", "path", opts.Config, "error", watchErr)
			}

			logger.Info("Starting HTTP server", "port", opts.Port, "studio", opts.StudioBaseURL)
			if startErr := server.Start(opts.Port); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down server")
			if stopErr := server.Stop(); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}

			_ = watcher.Stop()

			// Cancels every poller before the sinks go away
			registry.Close()

			if redisMirror != nil {
				redisMirror.Stop()
			}
			if closeRedis != nil {
				_ = closeRedis()
			}
			if recorder != nil {
				recorder.Stop()
			}
			if closePool != nil {
				closePool()
			}
		})
	})

	cli.Root().AddCommand(cmd.CreateStreamCmd())
	cli.Root().AddCommand(cmd.CreateSandboxCmd())

	// Run the CLI
	cli.Run()
}
