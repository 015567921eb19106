package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smazurov/livecast/internal/config"
	"github.com/smazurov/livecast/internal/logging"
	"github.com/smazurov/livecast/internal/sandbox"
	"github.com/smazurov/livecast/internal/sandbox/store"
	"github.com/spf13/cobra"
)

type sandboxOptions struct {
	Config string

	SandboxPort        string `toml:"sandbox.port" env:"SANDBOX_PORT"`
	SandboxStateFile   string `toml:"sandbox.state_file" env:"SANDBOX_STATE_FILE"`
	SandboxWarmup      string `toml:"sandbox.warmup" env:"SANDBOX_WARMUP"`
	SandboxCooldown    string `toml:"sandbox.cooldown" env:"SANDBOX_COOLDOWN"`
	SandboxIngestURL   string `toml:"sandbox.ingest_url" env:"SANDBOX_INGEST_URL"`
	SandboxPlaybackURL string `toml:"sandbox.playback_url" env:"SANDBOX_PLAYBACK_URL"`

	LoggingLevel  string `toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat string `toml:"logging.format" env:"LOGGING_FORMAT"`
}

// CreateSandboxCmd creates the sandbox command.
func CreateSandboxCmd() *cobra.Command {
	opts := &sandboxOptions{}

	cmd := &cobra.Command{
		Use:   "sandbox",
		Short: "Run a local studio emulation",
		Long: `Serves the studio live-stream API locally so the server and the stream ` +
			`commands can run without the real studio. Streams go live after the warmup and ` +
			`offline after the cooldown. State is kept in a TOML file across restarts.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadConfig(opts, cmd); err != nil {
				return err
			}
			logging.Initialize(logging.Config{Level: opts.LoggingLevel, Format: opts.LoggingFormat})
			logger := logging.GetLogger("sandbox")

			st := store.NewTOML(opts.SandboxStateFile)
			if err := st.Load(); err != nil {
				return err
			}
			studio := sandbox.New(&sandbox.Options{
				Store:       st,
				Warmup:      parseDuration(opts.SandboxWarmup, sandbox.DefaultWarmup),
				Cooldown:    parseDuration(opts.SandboxCooldown, sandbox.DefaultCooldown),
				IngestURL:   opts.SandboxIngestURL,
				PlaybackURL: opts.SandboxPlaybackURL,
			})

			server := &http.Server{
				Addr:              opts.SandboxPort,
				Handler:           studio.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = server.Shutdown(shutdownCtx)
			}()

			logger.Info("Starting sandbox studio",
				"addr", opts.SandboxPort,
				"state_file", opts.SandboxStateFile,
				"streams", len(st.All()))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			logger.Info("Sandbox studio stopped")
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.Config, "config", "c", "config.toml", "Path to configuration file")
	f.StringVar(&opts.SandboxPort, "sandbox-port", ":8091", "Address to listen on")
	f.StringVar(&opts.SandboxStateFile, "sandbox-state-file", "sandbox.toml", "State file")
	f.StringVar(&opts.SandboxWarmup, "sandbox-warmup", "3s", "Delay before a started stream goes live")
	f.StringVar(&opts.SandboxCooldown, "sandbox-cooldown", "2s", "Delay before a stopped stream goes offline")
	f.StringVar(&opts.SandboxIngestURL, "sandbox-ingest-url", sandbox.DefaultIngestURL, "Ingest server URL handed out on create")
	f.StringVar(&opts.SandboxPlaybackURL, "sandbox-playback-url", sandbox.DefaultPlaybackURL, "Playback URL prefix")
	f.StringVar(&opts.LoggingLevel, "logging-level", "info", "Logging level (debug, info, warn, error)")
	f.StringVar(&opts.LoggingFormat, "logging-format", "text", "Logging format (text, json)")
	return cmd
}
