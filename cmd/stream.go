package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smazurov/livecast/internal/config"
	"github.com/smazurov/livecast/internal/controller"
	"github.com/smazurov/livecast/internal/events"
	"github.com/smazurov/livecast/internal/livestream"
	"github.com/smazurov/livecast/internal/logging"
	"github.com/smazurov/livecast/internal/preferences"
	"github.com/smazurov/livecast/internal/studio"
	"github.com/spf13/cobra"
)

// streamOptions are shared by the stream subcommands. The toml keys match
// the server's config file so one file serves both.
type streamOptions struct {
	Config string

	StudioBaseURL string `toml:"studio.base_url" env:"STUDIO_BASE_URL"`
	StudioTimeout string `toml:"studio.timeout" env:"STUDIO_TIMEOUT"`
	PollInterval  string `toml:"poll.interval" env:"POLL_INTERVAL"`

	DefaultsQuality    string   `toml:"defaults.quality" env:"DEFAULTS_QUALITY"`
	DefaultsLanguages  []string `toml:"defaults.languages" env:"DEFAULTS_LANGUAGES"`
	DefaultsAutoRecord bool     `toml:"defaults.auto_record" env:"DEFAULTS_AUTO_RECORD"`

	LogJSON bool
	Verbose bool
}

// session is one podcast's controller, attached directly to the studio.
type session struct {
	controller *controller.Controller
	bus        *events.Bus
}

func (o *streamOptions) open(ctx context.Context, cmd *cobra.Command, podcastID string) (*session, error) {
	loggingConfig := logging.Config{Level: "warn", Format: "text"}
	if o.Verbose {
		loggingConfig.Level = "debug"
	}
	if o.LogJSON {
		loggingConfig.Format = "json"
	}
	logging.Initialize(loggingConfig)
	logger := logging.GetLogger("main")

	config.LoadEnvFile(logger)
	if err := config.LoadConfig(o, cmd); err != nil {
		logger.Warn("Failed to load config", "error", err)
	}

	client := studio.NewClient(o.StudioBaseURL, parseDuration(o.StudioTimeout, studio.DefaultTimeout))
	bus := events.New()
	c := controller.New(&controller.Options{
		PodcastID:    podcastID,
		Repository:   client,
		Bus:          bus,
		PollInterval: parseDuration(o.PollInterval, 0),
	})
	if err := c.Load(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return &session{controller: c, bus: bus}, nil
}

func (s *session) Close() {
	s.controller.Close()
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return fallback
}

// projection is the printed form of a controller view.
type projection struct {
	PodcastID string                 `json:"podcast_id"`
	Stream    *studio.StreamRecord   `json:"stream"`
	Snapshot  *studio.SnapshotRecord `json:"snapshot"`
	Pending   livestream.Pending     `json:"pending"`
}

func printView(w io.Writer, v controller.View) error {
	out := projection{PodcastID: v.PodcastID, Pending: v.Pending}
	if v.Stream != nil {
		rec := studio.EncodeStream(v.Stream)
		out.Stream = &rec
	}
	if v.Snapshot != nil {
		snap := studio.EncodeSnapshot(v.Snapshot)
		out.Snapshot = &snap
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// CreateStreamCmd creates the stream command and its subcommands.
func CreateStreamCmd() *cobra.Command {
	opts := &streamOptions{}

	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Inspect and control a podcast's live stream",
		Long: `Attaches a lifecycle controller to one podcast's live stream on the studio ` +
			`and runs a single command against it. Studio settings are read from the same ` +
			`config file, .env and LIVECAST_ environment as the server.`,
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.Config, "config", "c", "config.toml", "Path to configuration file")
	flags.StringVar(&opts.StudioBaseURL, "studio-base-url", "http://localhost:8091", "Studio API base URL")
	flags.StringVar(&opts.StudioTimeout, "studio-timeout", "10s", "Timeout of each studio request")
	flags.StringVar(&opts.PollInterval, "poll-interval", "5s", "Status poll interval while active")
	flags.BoolVar(&opts.LogJSON, "log-json", false, "Use JSON log format")
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "Log at debug level")

	cmd.AddCommand(
		showCmd(opts),
		createCmd(opts),
		actionCmd(opts, "start", "Start broadcasting", (*controller.Controller).Start),
		actionCmd(opts, "stop", "Stop broadcasting", (*controller.Controller).Stop),
		prefsCmd(opts),
		watchCmd(opts),
	)
	return cmd
}

func showCmd(opts *streamOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <podcast-id>",
		Short: "Print the live stream projection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd.Context(), cmd, args[0])
			if err != nil {
				return err
			}
			defer s.Close()
			return printView(cmd.OutOrStdout(), s.controller.View())
		},
	}
}

func createCmd(opts *streamOptions) *cobra.Command {
	var quality string
	var languages []string
	var autoRecord bool

	cmd := &cobra.Command{
		Use:   "create <podcast-id>",
		Short: "Create the live stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd.Context(), cmd, args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			in := livestream.CreateInput{
				AutoRecord: opts.DefaultsAutoRecord,
				Languages:  opts.DefaultsLanguages,
				Quality:    livestream.Quality(opts.DefaultsQuality),
			}
			if cmd.Flags().Changed("quality") || in.Quality == "" {
				in.Quality = livestream.Quality(quality)
			}
			if cmd.Flags().Changed("language") || len(in.Languages) == 0 {
				in.Languages = languages
			}
			if cmd.Flags().Changed("auto-record") {
				in.AutoRecord = autoRecord
			}

			view, err := s.controller.Create(cmd.Context(), in)
			if err != nil {
				return err
			}
			return printView(cmd.OutOrStdout(), view)
		},
	}

	cmd.Flags().StringVar(&quality, "quality", string(livestream.Quality720p), "Broadcast quality (1080p, 720p, 480p)")
	cmd.Flags().StringSliceVar(&languages, "language", []string{"en"}, "Broadcast language, primary first (repeatable)")
	cmd.Flags().BoolVar(&autoRecord, "auto-record", false, "Record from the start")
	return cmd
}

func actionCmd(
	opts *streamOptions,
	use, short string,
	run func(*controller.Controller, context.Context) (controller.View, error),
) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <podcast-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd.Context(), cmd, args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			view, err := run(s.controller, cmd.Context())
			if err != nil {
				return err
			}
			return printView(cmd.OutOrStdout(), view)
		},
	}
}

func prefsCmd(opts *streamOptions) *cobra.Command {
	var (
		recordingEnabled bool
		retentionDays    int
		storage          string
		postProcessing   []string
		languages        []string
		quality          string
		autoTranslate    bool
		subtitles        bool
	)

	cmd := &cobra.Command{
		Use:   "prefs <podcast-id>",
		Short: "Update preferences",
		Long: `Sends only the preferences given as flags. Any recording flag sends the ` +
			`recording group, with --post-processing replacing the whole set (none if omitted).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			changed := cmd.Flags().Changed
			var edit preferences.Edit

			if changed("recording-enabled") || changed("retention-days") || changed("storage") || changed("post-processing") {
				rec := &preferences.RecordingEdit{}
				if changed("recording-enabled") {
					rec.Enabled = &recordingEnabled
				}
				if changed("retention-days") {
					rec.RetentionDays = &retentionDays
				}
				if changed("storage") {
					loc := livestream.StorageLocation(storage)
					rec.StorageLocation = &loc
				}
				for _, step := range postProcessing {
					rec.PostProcessing = append(rec.PostProcessing, livestream.PostProcessing(step))
				}
				edit.Recording = rec
			}
			if changed("language") {
				edit.Languages = languages
			}
			if changed("quality") {
				q := livestream.Quality(quality)
				edit.Quality = &q
			}
			if changed("auto-translate") {
				edit.AutoTranslate = &autoTranslate
			}
			if changed("subtitles") {
				edit.Subtitles = &subtitles
			}

			s, err := opts.open(cmd.Context(), cmd, args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			view, err := s.controller.UpdatePreferences(cmd.Context(), edit)
			if err != nil {
				return err
			}
			return printView(cmd.OutOrStdout(), view)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&recordingEnabled, "recording-enabled", false, "Record the broadcast")
	f.IntVar(&retentionDays, "retention-days", 0, "Days a recording is kept")
	f.StringVar(&storage, "storage", "", "Recording storage location (cloud, local)")
	f.StringSliceVar(&postProcessing, "post-processing", nil, "Post-processing steps (repeatable)")
	f.StringSliceVar(&languages, "language", nil, "Broadcast languages, primary first (repeatable)")
	f.StringVar(&quality, "quality", "", "Broadcast quality (1080p, 720p, 480p)")
	f.BoolVar(&autoTranslate, "auto-translate", false, "Automatic translation")
	f.BoolVar(&subtitles, "subtitles", false, "Live subtitles")
	return cmd
}

func watchCmd(opts *streamOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <podcast-id>",
		Short: "Follow status changes until the stream settles",
		Long: `Prints a line per status change and telemetry sample while the stream is ` +
			`starting, live or stopping. Exits once it is offline, failed or errored, or on interrupt.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := opts.open(ctx, cmd, args[0])
			if err != nil {
				return err
			}
			defer s.Close()
			return watch(ctx, cmd.OutOrStdout(), s)
		},
	}
}

// watch prints events until the stream is no longer active.
func watch(ctx context.Context, w io.Writer, s *session) error {
	eventCh := make(chan any, 32)
	unsubscribers := []func(){
		events.SubscribeToChannel[events.StreamChangedEvent](s.bus, eventCh),
		events.SubscribeToChannel[events.SnapshotUpdatedEvent](s.bus, eventCh),
		events.SubscribeToChannel[events.CommandFailedEvent](s.bus, eventCh),
	}
	defer func() {
		for _, unsub := range unsubscribers {
			unsub()
		}
	}()

	view := s.controller.View()
	if view.Stream == nil {
		return fmt.Errorf("podcast %s has no live stream", view.PodcastID)
	}
	fmt.Fprintf(w, "%s  %-8s  stream=%s\n", time.Now().Format(time.TimeOnly), view.Stream.Status, view.Stream.ID)
	for !settled(s.controller.View()) {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-eventCh:
			fmt.Fprintln(w, formatEvent(ev))
		}
	}

	final := s.controller.View()
	if final.Stream != nil {
		fmt.Fprintf(w, "%s  %-8s  settled\n", time.Now().Format(time.TimeOnly), final.Stream.Status)
	}
	return nil
}

func settled(v controller.View) bool {
	return v.Stream == nil || (!v.Stream.Status.Active() && !v.Pending.Any())
}

func formatEvent(ev any) string {
	now := time.Now().Format(time.TimeOnly)
	switch e := ev.(type) {
	case events.StreamChangedEvent:
		if e.Stream == nil {
			return fmt.Sprintf("%s  %-8s  (%s)", now, "-", e.Reason)
		}
		return fmt.Sprintf("%s  %-8s  (%s)", now, e.Stream.Status, e.Reason)
	case events.SnapshotUpdatedEvent:
		line := fmt.Sprintf("%s  %-8s  sample", now, e.Snapshot.Status)
		if e.Snapshot.ViewerCount != nil {
			line += fmt.Sprintf(" viewers=%d", *e.Snapshot.ViewerCount)
		}
		if e.Snapshot.AverageBitrateKbps != nil {
			line += fmt.Sprintf(" bitrate=%dkbps", *e.Snapshot.AverageBitrateKbps)
		}
		return line
	case events.CommandFailedEvent:
		return fmt.Sprintf("%s  %s failed [%s]: %s", now, e.Command, e.Code, e.Error)
	default:
		return fmt.Sprintf("%s  %v", now, ev)
	}
}
