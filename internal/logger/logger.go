package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/axiomhq/axiom-go/axiom"
	"github.com/axiomhq/axiom-go/axiom/ingest"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the process-wide logger.
type Options struct {
	Service string
	Level   string
	Pretty  bool
	// Console receives the human or JSON stream. Defaults to stderr so the
	// CLI keeps stdout for the run summary.
	Console io.Writer
	File    FileOptions
	Axiom   AxiomOptions
}

// FileOptions adds a rotated JSON log file when Path is set.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AxiomOptions forwards events at MinLevel and above to a dataset. Forwarding
// is off without an API key.
type AxiomOptions struct {
	APIKey     string
	OrgID      string
	Dataset    string
	FlushEvery time.Duration
	MinLevel   zerolog.Level
}

const (
	defaultDataset = "dev_minutebook"
	batchSize      = 200
	queueSize      = 1000
)

var shipper *batcher

// Init replaces the global zerolog logger. Every run logs through it, either
// directly or via a ForRun child.
func Init(opts Options) error {
	if opts.Service == "" {
		opts.Service = "minutebook"
	}
	if opts.Console == nil {
		opts.Console = os.Stderr
	}

	var writers []io.Writer
	if opts.Pretty {
		writers = append(writers, zerolog.ConsoleWriter{Out: opts.Console, TimeFormat: time.RFC3339})
	} else {
		writers = append(writers, opts.Console)
	}

	if f := opts.File; f.Path != "" {
		if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
			return fmt.Errorf("create logs dir: %w", err)
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   f.Path,
			MaxSize:    f.MaxSizeMB,
			MaxBackups: f.MaxBackups,
			MaxAge:     f.MaxAgeDays,
			Compress:   f.Compress,
		})
	}

	if opts.Axiom.APIKey != "" {
		b, err := newBatcher(opts.Axiom)
		if err != nil {
			// logging must not block a run
			fmt.Fprintf(os.Stderr, "Axiom disabled: %v\n", err)
		} else {
			shipper = b
			writers = append(writers, &axiomSink{batcher: b, service: opts.Service, minLevel: opts.Axiom.MinLevel})
		}
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	lvl, err := zerolog.ParseLevel(opts.Level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(lvl).
		With().
		Timestamp().
		Str("service", opts.Service).
		Logger()
	return nil
}

// ForRun returns a child of the global logger that tags every event with the
// run id and the input's file name.
func ForRun(runID, input string) zerolog.Logger {
	ctx := log.Logger.With().Str("run_id", runID)
	if input != "" {
		ctx = ctx.Str("input", filepath.Base(input))
	}
	return ctx.Logger()
}

// Close flushes buffered Axiom events.
func Close() {
	if shipper == nil {
		return
	}
	if n := shipper.Close(); n > 0 {
		fmt.Fprintf(os.Stderr, "Axiom: %d log events dropped, queue was full\n", n)
	}
	shipper = nil
}

// axiomSink turns zerolog JSON lines into Axiom events. It implements
// zerolog.LevelWriter so filtering happens before any decoding.
type axiomSink struct {
	batcher  *batcher
	service  string
	minLevel zerolog.Level
}

func (s *axiomSink) Write(p []byte) (int, error) {
	return s.WriteLevel(zerolog.NoLevel, p)
}

func (s *axiomSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	floor := s.minLevel
	if floor < zerolog.InfoLevel {
		floor = zerolog.InfoLevel
	}
	if level != zerolog.NoLevel && level < floor {
		return len(p), nil
	}

	ev := axiom.Event{}
	if err := json.Unmarshal(p, &ev); err != nil {
		ev = axiom.Event{zerolog.MessageFieldName: string(p), zerolog.LevelFieldName: level.String()}
	}
	if _, ok := ev["service"]; !ok {
		ev["service"] = s.service
	}
	// Axiom indexes on _time; keep the event's own timestamp when it has one
	if ts, ok := ev[zerolog.TimestampFieldName]; ok {
		ev[ingest.TimestampField] = ts
		delete(ev, zerolog.TimestampFieldName)
	} else if _, ok := ev[ingest.TimestampField]; !ok {
		ev[ingest.TimestampField] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	s.batcher.Send(ev)
	return len(p), nil
}

// batcher ships events in batches from one goroutine. Send never blocks.
type batcher struct {
	client  *axiom.Client
	dataset string
	events  chan axiom.Event
	dropped atomic.Int64
	done    chan struct{}
	wg      sync.WaitGroup
}

func newBatcher(opts AxiomOptions) (*batcher, error) {
	clientOpts := []axiom.Option{axiom.SetToken(opts.APIKey)}
	if opts.OrgID != "" {
		clientOpts = append(clientOpts, axiom.SetOrganizationID(opts.OrgID))
	}
	client, err := axiom.NewClient(clientOpts...)
	if err != nil {
		return nil, err
	}

	b := &batcher{
		client:  client,
		dataset: opts.Dataset,
		events:  make(chan axiom.Event, queueSize),
		done:    make(chan struct{}),
	}
	if b.dataset == "" {
		b.dataset = defaultDataset
	}
	every := opts.FlushEvery
	if every <= 0 {
		every = 10 * time.Second
	}
	b.wg.Add(1)
	go b.run(every)
	return b, nil
}

// Send queues ev, dropping it when the queue is full.
func (b *batcher) Send(ev axiom.Event) {
	select {
	case b.events <- ev:
	default:
		b.dropped.Add(1)
	}
}

func (b *batcher) run(every time.Duration) {
	defer b.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	pending := make([]axiom.Event, 0, batchSize)
	flush := func() {
		if len(pending) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if _, err := b.client.IngestEvents(ctx, b.dataset, pending); err != nil {
			fmt.Fprintf(os.Stderr, "Axiom ingest of %d events failed: %v\n", len(pending), err)
		}
		cancel()
		pending = pending[:0]
	}

	for {
		select {
		case <-b.done:
			// drain what was queued before Close
			for {
				select {
				case ev := <-b.events:
					pending = append(pending, ev)
				default:
					flush()
					return
				}
			}
		case <-ticker.C:
			flush()
		case ev := <-b.events:
			pending = append(pending, ev)
			if len(pending) >= batchSize {
				flush()
			}
		}
	}
}

// Close flushes queued events and returns how many were dropped.
func (b *batcher) Close() int64 {
	close(b.done)
	b.wg.Wait()
	return b.dropped.Load()
}
