package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"animerec/internal/apperr"
	"animerec/internal/config"
	"animerec/internal/dataloader"
	"animerec/internal/embedding"
	"animerec/internal/logging"
	"animerec/internal/metrics"
	"animerec/internal/vectorstore"
)

// Build stage names, used in logs and metrics.
const (
	StageDataProcessing = "data_processing"
	StageVectorStore    = "vector_store"
)

// ErrBuildRunning is returned when another build holds the process-wide lock.
var ErrBuildRunning = errors.New("a build is already running")

// buildMu serializes builds within the process. Across processes the
// builder's lock file beside the persist dir rejects a second build.
var buildMu sync.Mutex

// BuildOptions configures NewBuildPipeline. Embedder and Open default to the
// implementations selected in Config.
type BuildOptions struct {
	Config   *config.AppConfig
	Embedder embedding.Embedder
	Open     vectorstore.Opener
	// Sleep waits between retries; defaults to a context-aware timer.
	Sleep func(context.Context, time.Duration) error
}

// BuildReport summarizes a successful run.
type BuildReport struct {
	ProcessedPath string
	PersistDir    string
	Attempts      map[string]int
	Elapsed       time.Duration
}

// BuildPipeline runs data processing then vector-store construction, retrying
// each stage and cleaning up partial outputs on final failure.
type BuildPipeline struct {
	cfg        *config.AppConfig
	loader     *dataloader.Loader
	builder    *vectorstore.Builder
	maxRetries int
	sleep      func(context.Context, time.Duration) error
	log        zerolog.Logger
}

// NewBuildPipeline validates secrets and prepares the workspace directories.
func NewBuildPipeline(opts BuildOptions) (*BuildPipeline, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, apperr.New(apperr.KindConfiguration, "missing configuration", nil)
	}
	if err := config.ValidateSecrets(); err != nil {
		return nil, err
	}

	emb := opts.Embedder
	if emb == nil {
		var err error
		if emb, err = NewEmbedder(cfg); err != nil {
			return nil, apperr.New(apperr.KindConfiguration, "embedder setup failed", err)
		}
	}
	open := opts.Open
	if open == nil {
		var err error
		if open, err = NewOpener(cfg); err != nil {
			return nil, apperr.New(apperr.KindConfiguration, "vector store setup failed", err)
		}
	}
	builder, err := NewBuilder(cfg, emb, open)
	if err != nil {
		return nil, err
	}

	for _, dir := range []string{filepath.Dir(cfg.Data.ProcessedPath), cfg.Data.PersistDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, apperr.New(apperr.KindPipeline, "workspace setup failed", err).With("dir", dir)
		}
	}

	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	return &BuildPipeline{
		cfg:        cfg,
		loader:     dataloader.New(cfg.Data.RawPath, cfg.Data.ProcessedPath),
		builder:    builder,
		maxRetries: cfg.Build.MaxRetries,
		sleep:      sleep,
		log:        logging.Component("build"),
	}, nil
}

// Run executes both stages. On failure the processed CSV and the persist
// directory are removed and a pipeline error wrapping the cause is returned.
func (b *BuildPipeline) Run(ctx context.Context) (*BuildReport, error) {
	if !buildMu.TryLock() {
		return nil, apperr.New(apperr.KindPipeline, "pipeline execution failed", ErrBuildRunning)
	}
	defer buildMu.Unlock()

	start := time.Now()
	report := &BuildReport{Attempts: make(map[string]int)}
	b.log.Info().Str("raw_path", b.cfg.Data.RawPath).Msg("starting pipeline build")

	err := b.runWithRetry(ctx, StageDataProcessing, report, func(ctx context.Context) error {
		path, err := b.loader.LoadAndProcess(ctx)
		report.ProcessedPath = path
		return err
	})
	if err == nil {
		err = b.runWithRetry(ctx, StageVectorStore, report, func(ctx context.Context) error {
			store, err := b.builder.BuildAndSave(ctx)
			if err != nil {
				return err
			}
			return store.Close()
		})
	}
	if err != nil {
		b.log.Error().Err(err).Msg("pipeline failed, cleaning up")
		b.cleanup()
		return nil, apperr.New(apperr.KindPipeline, "pipeline execution failed", err)
	}

	report.PersistDir = b.cfg.Data.PersistDir
	report.Elapsed = time.Since(start)
	b.log.Info().Dur("elapsed", report.Elapsed).Msg("pipeline completed")
	return report, nil
}

// runWithRetry makes up to maxRetries extra attempts, waiting 2^attempt
// seconds before each. Configuration errors and cancellation end it early.
func (b *BuildPipeline) runWithRetry(ctx context.Context, stage string, report *BuildReport, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		started := time.Now()
		lastErr = fn(ctx)
		report.Attempts[stage]++
		metrics.RecordBuildStage(stage, time.Since(started), lastErr)
		if lastErr == nil {
			return nil
		}
		if apperr.Is(lastErr, apperr.KindConfiguration) || ctx.Err() != nil {
			return lastErr
		}
		if attempt < b.maxRetries {
			wait := time.Duration(1<<attempt) * time.Second
			b.log.Warn().Err(lastErr).Str("stage", stage).Int("attempt", attempt+1).Dur("wait", wait).Msg("retrying stage")
			if err := b.sleep(ctx, wait); err != nil {
				return err
			}
		}
	}
	return lastErr
}

// cleanup is best effort; failures are logged and swallowed.
func (b *BuildPipeline) cleanup() {
	if err := os.Remove(b.cfg.Data.ProcessedPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		b.log.Error().Err(err).Str("path", b.cfg.Data.ProcessedPath).Msg("cleanup failed")
	}
	if err := os.RemoveAll(b.cfg.Data.PersistDir); err != nil {
		b.log.Error().Err(err).Str("path", b.cfg.Data.PersistDir).Msg("cleanup failed")
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
