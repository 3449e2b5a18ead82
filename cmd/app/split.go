package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/local/minutebook/internal/ai"
	"github.com/local/minutebook/internal/blocks"
	"github.com/local/minutebook/internal/breaker"
	cfgpkg "github.com/local/minutebook/internal/config"
	"github.com/local/minutebook/internal/debuglog"
	"github.com/local/minutebook/internal/imagerender"
	logpkg "github.com/local/minutebook/internal/logger"
	"github.com/local/minutebook/internal/metrics"
	"github.com/local/minutebook/internal/mupdf"
	"github.com/local/minutebook/internal/orchestrator"
	"github.com/local/minutebook/internal/output"
	"github.com/local/minutebook/internal/page"
	"github.com/local/minutebook/internal/quality"
	"github.com/local/minutebook/internal/source"
	"github.com/local/minutebook/internal/splitter"
	"github.com/local/minutebook/internal/storage"
	"github.com/local/minutebook/internal/store"
)

func newSplitCmd(cfg *cfgpkg.Config) *cobra.Command {
	var (
		outPath  string
		noVision bool
		labels   string
	)

	cmd := &cobra.Command{
		Use:   "split <pdf>",
		Short: "Classify every page of a minute book and write its sections",
		Long: "Classify every page of a minute book and write its sections.\n\n" +
			"<pdf> may be a local path, file://, http(s):// or s3://bucket/key.\n" +
			"The output may be a local path or s3://bucket/key.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if noVision {
				cfg.Vision.Enabled = false
			}
			if labels != "" {
				cfg.Strategy.Labels = strings.Split(labels, ",")
			}
			return runSplit(cmd.Context(), *cfg, args[0], outPath)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&outPath, "output", "o", "result.json", "where to write the sections JSON")
	f.IntVar(&cfg.Strategy.BlockSize, "block-size", cfg.Strategy.BlockSize, "target pages per first-pass block")
	f.IntVar(&cfg.Strategy.ContextPages, "context-pages", cfg.Strategy.ContextPages, "context pages on each side of a block")
	f.IntVar(&cfg.Strategy.MaxIterations, "max-iterations", cfg.Strategy.MaxIterations, "maximum classification passes")
	f.IntVar(&cfg.Strategy.MaxRestarts, "max-restarts", cfg.Strategy.MaxRestarts, "restarts of the pass loop while pages stay below the final threshold")
	f.IntVar(&cfg.Strategy.Concurrency, "max-concurrent-requests", cfg.Strategy.Concurrency, "maximum in-flight classification requests")
	f.Float64Var(&cfg.Strategy.FinalThreshold, "final-threshold", cfg.Strategy.FinalThreshold, "confidence at which a page becomes final")
	f.BoolVar(&cfg.Strategy.CleanText, "clean", cfg.Strategy.CleanText, "strip page numbers and noise lines before classification")
	f.StringVar(&labels, "labels", "", "comma separated label set (default: minute book sections)")
	f.StringVar(&cfg.API.Model, "model", cfg.API.Model, "text classification model")
	f.StringVar(&cfg.API.VisionModel, "vision-model", cfg.API.VisionModel, "vision classification model")
	f.StringVar(&cfg.API.URL, "api-url", cfg.API.URL, "classification API base URL")
	f.StringVar(&cfg.API.Key, "api-key", cfg.API.Key, "classification API key")
	f.DurationVar(&cfg.API.CallTimeout, "call-timeout", cfg.API.CallTimeout, "timeout of a single classification call")
	f.BoolVar(&noVision, "no-vision", false, "disable vision escalation")
	f.IntVar(&cfg.Vision.MaxPages, "vision-max-pages", cfg.Vision.MaxPages, "maximum pages escalated to vision per pass")
	f.StringVar(&cfg.Logging.DebugLogPath, "debug-log", cfg.Logging.DebugLogPath, "write the pass-by-pass classification trace to this file")
	f.BoolVar(&cfg.Logging.DebugTrace, "trace", cfg.Logging.DebugTrace, "echo the classification trace to stdout")
	return cmd
}

func runSplit(ctx context.Context, cfg cfgpkg.Config, input, outPath string) error {
	cfg.API.URL = strings.TrimRight(cfg.API.URL, "/")
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := initLogging(cfg); err != nil {
		return err
	}
	defer logpkg.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Init()
	if cfg.Metrics.Addr != "" {
		srv := serveMetrics(cfg.Metrics.Addr)
		defer srv.Close()
	}

	var (
		br     breaker.Breaker = breaker.NewMemory(breakerOptions(cfg))
		stores func(string) splitter.RunStore
	)
	if cfg.Redis.URL != "" {
		rc, err := store.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer rc.Close()
		br = breaker.NewRedis(rc, breakerOptions(cfg))
		stores = runStores(rc, cfg.Redis.TTL)
	}

	var s3 *storage.S3Client
	if strings.HasPrefix(input, "s3://") || strings.HasPrefix(outPath, "s3://") {
		var err error
		s3, err = storage.NewS3Client(ctx, storage.Options{
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			PathStyle: cfg.S3.PathStyle,
		})
		if err != nil {
			return err
		}
	}

	labels := page.NewLabelSet(cfg.Strategy.Labels)
	client := ai.NewHTTPClient(ai.Options{
		BaseURL:     cfg.API.URL,
		APIKey:      cfg.API.Key,
		Model:       cfg.API.Model,
		VisionModel: cfg.API.VisionModel,
		Labels:      labels,
		Breaker:     br,
	})

	deps := splitter.Dependencies{
		Resolver:  newResolver(s3),
		Extractor: mupdf.NewExtractor(quality.NewScorer(quality.NewLinguaDetector()), cfg.Strategy.CleanText),
		Builder:   blocks.NewBuilder(cfg.Strategy.BlockSize, cfg.Strategy.ContextPages, labels),
		Text:      client,
		Writer:    newWriter(s3),
		Store:     stores,
		Requests:  client.Requests,
	}
	if cfg.Vision.Enabled {
		deps.Vision = client
		deps.Renderer = renderers(cfg.Vision)
	}
	if cfg.Logging.DebugLogPath != "" || cfg.Logging.DebugTrace {
		var echo *os.File
		if cfg.Logging.DebugTrace {
			echo = os.Stdout
		}
		trace, err := newTrace(cfg.Logging.DebugLogPath, echo)
		if err != nil {
			return err
		}
		defer trace.Close()
		deps.Sink = trace
	}

	sp := splitter.New(deps, orchestrator.Config{
		MaxIterations:  cfg.Strategy.MaxIterations,
		FinalThreshold: cfg.Strategy.FinalThreshold,
		Concurrency:    cfg.Strategy.Concurrency,
		CallTimeout:    cfg.API.CallTimeout,
		MaxRestarts:    cfg.Strategy.MaxRestarts,
		Escalation: orchestrator.EscalationConfig{
			Enabled:       cfg.Vision.Enabled,
			OCRThreshold:  cfg.Vision.OCRThreshold,
			LowConfidence: cfg.Vision.LowConfidence,
			MaxPages:      cfg.Vision.MaxPages,
		},
	})

	sum, err := sp.Run(ctx, input, outPath)
	pushMetrics(cfg.Metrics)
	if err != nil {
		return err
	}
	sum.Print(os.Stdout)
	return nil
}

func breakerOptions(cfg cfgpkg.Config) breaker.Options {
	return breaker.Options{
		Threshold:   cfg.Breaker.Threshold,
		BaseBackoff: cfg.Breaker.BaseBackoff,
		MaxBackoff:  cfg.Breaker.MaxBackoff,
	}
}

func runStores(rc *redis.Client, ttl time.Duration) func(string) splitter.RunStore {
	return func(runID string) splitter.RunStore {
		return store.NewRunStore(rc, runID, ttl)
	}
}

// newResolver and newWriter keep a nil *S3Client from turning into a non-nil
// interface value.
func newResolver(s3 *storage.S3Client) *source.Resolver {
	if s3 == nil {
		return source.NewResolver(nil, nil)
	}
	return source.NewResolver(s3, nil)
}

func newWriter(s3 *storage.S3Client) *output.Writer {
	if s3 == nil {
		return output.NewWriter(nil)
	}
	return output.NewWriter(s3)
}

func newTrace(path string, echo *os.File) (*debuglog.Trace, error) {
	if echo == nil {
		return debuglog.New(path, nil)
	}
	return debuglog.New(path, echo)
}

func renderers(v cfgpkg.VisionConfig) func(string) orchestrator.Renderer {
	color := imagerender.ColorRGB
	if v.Gray {
		color = imagerender.ColorGray
	}
	opts := imagerender.Options{DPI: v.DPI, Format: imagerender.Format(v.Format), Color: color}
	return func(path string) orchestrator.Renderer {
		return imagerender.New(path, opts)
	}
}

func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		log.Info().Str("addr", addr).Msg("metrics listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server error")
		}
	}()
	return srv
}

func pushMetrics(mc cfgpkg.MetricsConfig) {
	if mc.PushgatewayURL == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metrics.Push(ctx, mc.PushgatewayURL, mc.Job); err != nil {
		log.Warn().Err(err).Str("url", mc.PushgatewayURL).Msg("metrics push failed")
	}
}
