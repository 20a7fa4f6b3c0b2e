package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/drawscan/cli/config"
	"github.com/justapithecus/drawscan/cli/render"
	"github.com/justapithecus/drawscan/cli/tui"
	"github.com/justapithecus/drawscan/iox"
	"github.com/justapithecus/drawscan/log"
	"github.com/justapithecus/drawscan/metrics"
	"github.com/justapithecus/drawscan/runtime"
	"github.com/justapithecus/drawscan/transport"
	"github.com/justapithecus/drawscan/types"
)

// maxImageSize bounds the drawing read from disk.
const maxImageSize = 32 << 20

// AnalyzeCommand returns the analyze command.
// It uploads one drawing and follows the streamed analysis to completion.
func AnalyzeCommand() *cli.Command {
	flags := []cli.Flag{
		ConfigFlag,
		LogLevelFlag,
		// Transport flags
		&cli.StringFlag{
			Name:    "endpoint",
			Usage:   "Analysis endpoint URL",
			Value:   transport.DefaultEndpoint,
			EnvVars: []string{"DRAWSCAN_ENDPOINT"},
		},
		&cli.StringFlag{
			Name:    "vlm-url",
			Usage:   "VLM server URL forwarded to the pipeline (optional)",
			EnvVars: []string{"DRAWSCAN_VLM_URL"},
		},
		&cli.StringSliceFlag{
			Name:  "header",
			Usage: "Extra request header as Key:Value (repeatable)",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Maximum wait for response headers",
			Value: transport.DefaultHeaderTimeout,
		},
		&cli.IntFlag{
			Name:  "retries",
			Usage: "Request retries before the stream starts",
			Value: transport.DefaultRetries,
		},
		// Stream flags
		&cli.BoolFlag{
			Name:  "strict",
			Usage: "Fail when the stream ends with an unterminated record",
		},
		&cli.BoolFlag{
			Name:  "require-body",
			Usage: "Fail when the response body is empty",
		},
		&cli.StringFlag{
			Name:  "capture",
			Usage: "Write the raw NDJSON response to this file (for replay)",
		},
		// Presentation flags
		&cli.BoolFlag{
			Name:  "tui",
			Usage: "Follow the analysis in an interactive live view",
		},
		&cli.BoolFlag{
			Name:  "exit-on-done",
			Usage: "Close the live view as soon as the session ends",
		},
		&cli.StringFlag{
			Name:  "log-file",
			Usage: "Write session logs to this file instead of stderr",
		},
		// Storage flags
		&cli.StringFlag{
			Name:  "storage-backend",
			Usage: "Archive backend for completed sessions: fs or s3",
		},
		&cli.StringFlag{
			Name:  "storage-path",
			Usage: "Archive location (fs: directory, s3: bucket/prefix)",
		},
		&cli.StringFlag{
			Name:  "storage-dataset",
			Usage: "Archive dataset name",
			Value: "drawscan",
		},
		&cli.StringFlag{
			Name:  "storage-region",
			Usage: "AWS region for the S3 backend (default: SDK chain)",
		},
		&cli.StringFlag{
			Name:  "storage-endpoint",
			Usage: "Custom S3 endpoint URL (R2, MinIO, LocalStack)",
		},
		&cli.BoolFlag{
			Name:  "storage-s3-path-style",
			Usage: "Use path-style S3 addressing",
		},
		&cli.BoolFlag{
			Name:  "storage-include-images",
			Usage: "Archive image payloads as well as extracted data",
		},
		// Adapter flags
		&cli.StringFlag{
			Name:  "adapter",
			Usage: "Completion notifier: webhook or redis",
		},
		&cli.StringFlag{
			Name:  "adapter-url",
			Usage: "Webhook URL or redis:// URL",
		},
		&cli.StringFlag{
			Name:  "adapter-channel",
			Usage: "Redis channel for completion events",
		},
		&cli.StringFlag{
			Name:  "adapter-history-key",
			Usage: "Redis list keeping recent completion events (optional)",
		},
		&cli.DurationFlag{
			Name:  "adapter-timeout",
			Usage: "Notification timeout",
			Value: 10 * time.Second,
		},
		&cli.IntFlag{
			Name:  "adapter-retries",
			Usage: "Notification retries",
			Value: 3,
		},
	}

	return &cli.Command{
		Name:      "analyze",
		Usage:     "Upload a drawing and stream its analysis",
		ArgsUsage: "<image>",
		Flags:     append(flags, OutputFlags()...),
		Action:    analyzeAction,
	}
}

// analyzeChoice holds the resolved analyze settings.
type analyzeChoice struct {
	imagePath  string
	endpoint   string
	vlmURL     string
	headers    map[string]string
	timeout    time.Duration
	retries    int
	strict     bool
	body       bool
	capture    string
	useTUI     bool
	exitOnDone bool
	logLevel   string
	logFile    string
	format     string
	fullImages bool
	storage    storageChoice
	adapter    adapterChoice
}

// storageChoice holds the resolved archive settings.
type storageChoice struct {
	backend       string
	path          string
	dataset       string
	region        string
	endpoint      string
	pathStyle     bool
	includeImages bool
}

// adapterChoice holds the resolved notifier settings.
type adapterChoice struct {
	kind       string
	url        string
	channel    string
	historyKey string
	headers    map[string]string
	timeout    time.Duration
	retries    int
}

func analyzeAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}

	choice, err := resolveAnalyzeChoice(c, cfg)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}

	r, err := render.NewRenderer(c, choice.format)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	if choice.useTUI && !tui.IsTUISupported() {
		return cli.Exit("--tui requires an interactive terminal", exitUsage)
	}

	image, err := iox.ReadFileLimited(choice.imagePath, maxImageSize)
	if err != nil {
		return cli.Exit(fmt.Sprintf("cannot read image: %v", err), exitUsage)
	}

	client, err := transport.New(transport.Config{
		Endpoint:      choice.endpoint,
		Headers:       choice.headers,
		HeaderTimeout: choice.timeout,
		Retries:       choice.retries,
	})
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	defer iox.DiscardClose(client)

	filename := filepath.Base(choice.imagePath)
	meta := types.NewSessionMeta(client.Endpoint(), filename)

	logger, closeLog, err := buildLogger(meta, choice)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	defer closeLog()
	defer iox.DiscardErr(logger.Sync)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	archiver, err := buildArchiver(ctx, choice.storage)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to open archive: %v", err), exitUsage)
	}
	if archiver != nil {
		defer iox.DiscardClose(archiver)
	}

	notifier, err := buildNotifier(choice.adapter)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to create adapter: %v", err), exitUsage)
	}
	defer iox.DiscardClose(notifier)

	var capture io.Writer
	if choice.capture != "" {
		f, err := os.Create(choice.capture)
		if err != nil {
			return cli.Exit(fmt.Sprintf("cannot create capture file: %v", err), exitUsage)
		}
		defer iox.DiscardClose(f)
		capture = f
	}

	collector := metrics.NewCollector(meta.SessionID, meta.Endpoint)
	sessionConfig := &runtime.SessionConfig{
		Meta: meta,
		Source: client.Upload(&transport.Request{
			Filename: filename,
			Image:    image,
			VLMURL:   choice.vlmURL,
		}),
		Logger:            logger,
		Collector:         collector,
		StrictTermination: choice.strict,
		RequireBody:       choice.body,
		Capture:           capture,
	}

	analyzer := runtime.NewAnalyzer()
	var result *runtime.SessionResult
	if choice.useTUI {
		result, err = tui.RunLive(tui.RunOptions{
			Filename:   filename,
			ExitOnDone: choice.exitOnDone,
		}, func(obs runtime.Observer) (<-chan *runtime.SessionResult, func(), error) {
			sessionConfig.Observer = obs
			_, results, err := analyzer.Start(ctx, sessionConfig)
			return results, analyzer.Cancel, err
		})
	} else {
		logger.Info("uploading image", map[string]any{"file": filename, "bytes": len(image)})
		sessionConfig.Observer = newLogObserver(logger)
		var results <-chan *runtime.SessionResult
		_, results, err = analyzer.Start(ctx, sessionConfig)
		if err == nil {
			result = <-results
		}
	}
	if result == nil {
		return fmt.Errorf("session failed to start: %w", err)
	}
	if err != nil {
		logger.Warn("live view error", map[string]any{"error": err.Error()})
	}

	// Outputs run on a fresh context: an interrupt that canceled the
	// session must not also abort its archive write or notification.
	outCtx, cancelOut := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Minute)
	defer cancelOut()

	archivePath := archiveResult(outCtx, archiver, result, collector, logger)
	notifyResult(outCtx, notifier, result, archivePath, collector, logger)

	logger.Debug("session metrics", map[string]any{"metrics": collector.Snapshot()})

	report := newReport(result, archivePath, choice.fullImages || r.Format() == render.FormatTable)
	if err := r.Render(report); err != nil {
		return fmt.Errorf("render result: %w", err)
	}

	return cli.Exit("", runtime.ExitCode(result.Outcome))
}

func resolveAnalyzeChoice(c *cli.Context, cfg *config.Config) (*analyzeChoice, error) {
	if c.NArg() != 1 {
		return nil, errors.New("analyze requires exactly one image path")
	}

	headers, err := resolveHeaders(c, "header", configVal(cfg, func(c *config.Config) map[string]string { return c.Headers }))
	if err != nil {
		return nil, err
	}

	choice := &analyzeChoice{
		imagePath:  c.Args().First(),
		endpoint:   resolveString(c, "endpoint", configVal(cfg, func(c *config.Config) string { return c.Endpoint })),
		vlmURL:     resolveString(c, "vlm-url", configVal(cfg, func(c *config.Config) string { return c.VLMURL })),
		headers:    headers,
		timeout:    resolveDuration(c, "timeout", configVal(cfg, func(c *config.Config) time.Duration { return c.Timeout.Duration })),
		retries:    resolveIntPtr(c, "retries", configVal(cfg, func(c *config.Config) *int { return c.Retries })),
		strict:     resolveBool(c, "strict", configVal(cfg, func(c *config.Config) bool { return c.StrictTermination })),
		body:       resolveBool(c, "require-body", configVal(cfg, func(c *config.Config) bool { return c.RequireBody })),
		capture:    c.String("capture"),
		useTUI:     c.Bool("tui"),
		exitOnDone: c.Bool("exit-on-done"),
		logLevel:   resolveString(c, "log-level", configVal(cfg, func(c *config.Config) string { return c.LogLevel })),
		logFile:    c.String("log-file"),
		format:     configVal(cfg, func(c *config.Config) string { return c.Format }),
		fullImages: c.Bool("full-images"),
		storage: storageChoice{
			backend:       resolveString(c, "storage-backend", configVal(cfg, func(c *config.Config) string { return c.Storage.Backend })),
			path:          resolveString(c, "storage-path", configVal(cfg, func(c *config.Config) string { return c.Storage.Path })),
			dataset:       resolveString(c, "storage-dataset", configVal(cfg, func(c *config.Config) string { return c.Storage.Dataset })),
			region:        resolveString(c, "storage-region", configVal(cfg, func(c *config.Config) string { return c.Storage.Region })),
			endpoint:      resolveString(c, "storage-endpoint", configVal(cfg, func(c *config.Config) string { return c.Storage.Endpoint })),
			pathStyle:     resolveBool(c, "storage-s3-path-style", configVal(cfg, func(c *config.Config) bool { return c.Storage.S3PathStyle })),
			includeImages: resolveBool(c, "storage-include-images", configVal(cfg, func(c *config.Config) bool { return c.Storage.IncludeImages })),
		},
		adapter: adapterChoice{
			kind:       resolveString(c, "adapter", configVal(cfg, func(c *config.Config) string { return c.Adapter.Type })),
			url:        resolveString(c, "adapter-url", configVal(cfg, func(c *config.Config) string { return c.Adapter.URL })),
			channel:    resolveString(c, "adapter-channel", configVal(cfg, func(c *config.Config) string { return c.Adapter.Channel })),
			historyKey: resolveString(c, "adapter-history-key", configVal(cfg, func(c *config.Config) string { return c.Adapter.HistoryKey })),
			headers:    configVal(cfg, func(c *config.Config) map[string]string { return c.Adapter.Headers }),
			timeout:    resolveDuration(c, "adapter-timeout", configVal(cfg, func(c *config.Config) time.Duration { return c.Adapter.Timeout.Duration })),
			retries:    resolveIntPtr(c, "adapter-retries", configVal(cfg, func(c *config.Config) *int { return c.Adapter.Retries })),
		},
	}

	if choice.retries < 0 {
		return nil, fmt.Errorf("--retries must be >= 0, got %d", choice.retries)
	}
	if err := validateStorageChoice(choice.storage); err != nil {
		return nil, err
	}
	if err := validateAdapterChoice(choice.adapter); err != nil {
		return nil, err
	}
	return choice, nil
}

func validateStorageChoice(s storageChoice) error {
	switch s.backend {
	case "":
		if s.path != "" {
			return errors.New("--storage-path requires --storage-backend (fs or s3)")
		}
		return nil
	case "fs", "s3":
		if s.path == "" {
			return fmt.Errorf("--storage-path is required for the %s backend", s.backend)
		}
		return nil
	default:
		return fmt.Errorf("invalid --storage-backend %q (must be fs or s3)", s.backend)
	}
}

func validateAdapterChoice(a adapterChoice) error {
	switch a.kind {
	case "":
		return nil
	case "webhook", "redis":
		if a.url == "" {
			return fmt.Errorf("--adapter-url is required for the %s adapter", a.kind)
		}
		if a.retries < 0 {
			return fmt.Errorf("--adapter-retries must be >= 0, got %d", a.retries)
		}
		return nil
	default:
		return fmt.Errorf("invalid --adapter %q (must be webhook or redis)", a.kind)
	}
}

// parseHeader splits a Key:Value header flag.
func parseHeader(raw string) (string, string, error) {
	k, v, ok := strings.Cut(raw, ":")
	k = strings.TrimSpace(k)
	if !ok || k == "" {
		return "", "", fmt.Errorf("invalid --header %q (want Key:Value)", raw)
	}
	return k, strings.TrimSpace(v), nil
}

// buildLogger creates the session logger. In TUI mode logs go to --log-file
// or nowhere, since stderr shares the terminal with the live view.
func buildLogger(meta *types.SessionMeta, choice *analyzeChoice) (*log.Logger, func(), error) {
	logger := log.NewLogger(meta)
	if err := logger.SetLevel(choice.logLevel); err != nil {
		return nil, nil, err
	}

	switch {
	case choice.logFile != "":
		f, err := os.OpenFile(choice.logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("cannot open log file: %w", err)
		}
		return logger.WithOutput(f), iox.CloseFunc(f), nil
	case choice.useTUI:
		return logger.WithOutput(io.Discard), func() {}, nil
	default:
		return logger, func() {}, nil
	}
}

// newLogObserver reports progress through the session logger when no live
// view is attached.
func newLogObserver(logger *log.Logger) runtime.Observer {
	var lastStatus string
	return runtime.ObserverFuncs{
		Snapshot: func(s *types.Snapshot) {
			if s.StatusMessage != "" && s.StatusMessage != lastStatus {
				lastStatus = s.StatusMessage
				logger.Info(s.StatusMessage, map[string]any{"items": len(s.Items), "version": s.Version})
			}
		},
		ServerError: func(err *runtime.ServerError) {
			logger.Warn("server reported error", map[string]any{"error": err.Message, "version": err.Version})
		},
		StateChange: func(state types.SessionState) {
			logger.Debug("session state", map[string]any{"state": state})
		},
	}
}

// newReport builds the rendered view of a session result.
func newReport(result *runtime.SessionResult, archivePath string, fullImages bool) *render.Report {
	snap := result.Snapshot
	if !fullImages {
		snap = render.StripImages(snap)
	}
	rep := &render.Report{
		State:        string(result.State),
		ServerErrors: result.ServerErrors,
		Records:      result.Records,
		BytesRead:    result.BytesRead,
		DurationMs:   result.Duration.Milliseconds(),
		ArchivePath:  archivePath,
		Result:       snap,
	}
	if result.Meta != nil {
		rep.SessionID = result.Meta.SessionID
		rep.Endpoint = result.Meta.Endpoint
		rep.Filename = result.Meta.Filename
	}
	if result.Outcome != nil {
		rep.Outcome = string(result.Outcome.Status)
		rep.Message = result.Outcome.Message
	}
	return rep
}

// cloneHeaders copies a header map; nil stays nil.
func cloneHeaders(h map[string]string) map[string]string {
	if h == nil {
		return nil
	}
	return maps.Clone(h)
}
