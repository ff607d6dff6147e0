package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"civsphere/event-ingester/internal/config"
	"civsphere/event-ingester/internal/fetch"
	"civsphere/event-ingester/internal/importbuf"
	"civsphere/event-ingester/internal/logging"
	"civsphere/event-ingester/internal/metrics"
	"civsphere/event-ingester/internal/scanner"
	"civsphere/event-ingester/internal/sink"
	"civsphere/event-ingester/internal/source"
	"civsphere/event-ingester/internal/store"
)

type commandContext struct {
	configFlag   *string
	logLevelFlag *string

	configOnce sync.Once
	config     *config.Config
	logger     zerolog.Logger
	configErr  error
}

func newCommandContext(configFlag, logLevelFlag *string) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		logLevelFlag: logLevelFlag,
		logger:       zerolog.Nop(),
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if c.logLevelFlag != nil && strings.TrimSpace(*c.logLevelFlag) != "" {
			cfg.Log.Level = *c.logLevelFlag
		}
		opts := cfg.Log
		opts.Output = os.Stderr
		log, err := logging.New(opts)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.logger = log
	})
	return c.config, c.configErr
}

// app is the set of components one command works with.
type app struct {
	cfg     *config.Config
	log     zerolog.Logger
	store   store.Store
	client  *fetch.Client
	scanner *scanner.Scanner
	metrics *metrics.Metrics
}

// openApp opens the store and builds a scanner over the configured sources.
// The caller must close the returned app.
func (c *commandContext) openApp(ctx context.Context, m *metrics.Metrics) (*app, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	log := c.logger
	st, err := store.Open(ctx, cfg.StoreOptions())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	client := fetch.New(cfg.FetchOptions(&log))
	classifier := cfg.NewClassifier()
	sc, err := scanner.New(scanner.Config{
		Store:      st,
		Buffer:     importbuf.New(),
		Deps:       source.Deps{Client: client, Keys: cfg.APIKeys, Classifier: classifier},
		DateFormat: cfg.Scanner.DateFormat,
		Classifier: classifier,
		DedupMode:  cfg.DedupMode(),
		Tick:       cfg.Scanner.Tick,
		Logger:     &log,
		Metrics:    m,
	})
	if err != nil {
		_ = store.Close(st)
		return nil, err
	}
	if err := sc.SetSources(cfg.Sources); err != nil {
		_ = store.Close(st)
		return nil, err
	}
	if cfg.Scanner.StatePath != "" {
		if err := sc.LoadState(cfg.Scanner.StatePath); err != nil {
			log.Warn().Err(err).Str("path", cfg.Scanner.StatePath).Msg("source state not restored")
		}
	}
	return &app{cfg: cfg, log: log, store: st, client: client, scanner: sc, metrics: m}, nil
}

func (a *app) Close() error {
	return store.Close(a.store)
}

func (a *app) commitOptions(mode string) importbuf.CommitOptions {
	if mode == "" {
		mode = a.cfg.Scanner.CommitMode
	}
	return importbuf.CommitOptions{
		Mode:      mode,
		BatchSize: a.cfg.Scanner.BatchSize,
		Delay:     a.cfg.Scanner.CommitDelay,
		Logger:    &a.log,
		Metrics:   a.metrics,
	}
}

// sinks builds the configured downstream sinks. None configured is fine.
func (a *app) sinks(ctx context.Context) ([]sink.Sink, error) {
	cfg := a.cfg.Sinks
	var out []sink.Sink
	if strings.TrimSpace(cfg.Loki.URL) != "" {
		out = append(out, sink.NewLoki(cfg.Loki, a.client))
	}
	if strings.TrimSpace(cfg.S3.Bucket) != "" {
		s, err := sink.NewS3(ctx, cfg.S3)
		if err != nil {
			_ = sink.CloseAll(out)
			return nil, fmt.Errorf("init s3 sink: %w", err)
		}
		out = append(out, s)
	}
	if strings.TrimSpace(cfg.NATS.URL) != "" {
		s, err := sink.NewNATS(cfg.NATS)
		if err != nil {
			_ = sink.CloseAll(out)
			return nil, fmt.Errorf("init nats sink: %w", err)
		}
		out = append(out, s)
	}
	for i, s := range out {
		out[i] = sink.Instrument(s, a.metrics)
		a.log.Info().Str("sink", s.Name()).Msg("sink configured")
	}
	return out, nil
}
