package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"molecule-lab/src/internal/audio"
	"molecule-lab/src/internal/cache"
	"molecule-lab/src/internal/catalog"
	"molecule-lab/src/internal/config"
	"molecule-lab/src/internal/cron"
	"molecule-lab/src/internal/elements"
	"molecule-lab/src/internal/engine"
	"molecule-lab/src/internal/export"
	"molecule-lab/src/internal/interaction"
	"molecule-lab/src/internal/molecule"
	"molecule-lab/src/internal/render"
	"molecule-lab/src/internal/scene"
	"molecule-lab/src/internal/storage"
	"molecule-lab/src/internal/viewer"

	"golang.org/x/sync/singleflight"
)

var (
	// ErrGeneration covers provider failures and malformed provider output.
	ErrGeneration = errors.New("generation failed")
	// ErrSpeech covers speech provider and decoder failures.
	ErrSpeech         = errors.New("speech failed")
	ErrSpeechDisabled = errors.New("speech is disabled")
	ErrEmptyQuery     = errors.New("empty query")
)

const defaultTimeout = 2 * time.Minute

// FailureMessage is what users see when a substance could not be generated.
// Every generation failure is retryable, so there is only one.
const FailureMessage = "哎呀！实验室机器人没能识别这种物质，请换一个试试！"

// EmptyQueryMessage asks for a substance when the query is blank.
const EmptyQueryMessage = "请输入物质名称。"

// Deps overrides the collaborators New would otherwise build from config.
type Deps struct {
	Engine  engine.Engine
	Speaker engine.Speaker
	Cache   cache.Store
	Catalog *catalog.Catalog
}

type Gateway struct {
	Config  *config.Config
	Storage *storage.Storage
	Viewers *viewer.Manager

	mu      sync.RWMutex
	engine  engine.Engine
	speaker engine.Speaker

	cache    cache.Store
	catalog  *catalog.Catalog
	resolver *elements.Resolver
	params   scene.Params
	composer *scene.Composer
	exporter *export.Synthesizer
	cronMgr  *cron.CronManager
	group    singleflight.Group
	closers  []io.Closer
}

func New(cfg *config.Config, st *storage.Storage, deps Deps) (*Gateway, error) {
	gw := &Gateway{
		Config:   cfg,
		Storage:  st,
		engine:   deps.Engine,
		speaker:  deps.Speaker,
		cache:    deps.Cache,
		catalog:  deps.Catalog,
		resolver: elements.Default(),
	}

	if gw.engine == nil {
		eng, err := engine.New(cfg)
		if err != nil {
			return nil, err
		}
		gw.engine = eng
	}
	if gw.speaker == nil && cfg.Speech.Enabled {
		gw.speaker = engine.NewOpenAISpeaker(cfg)
	}
	if gw.cache == nil {
		store, err := cache.Open(cfg.Cache.Path, cfg.Cache.MaxBytes)
		if err != nil {
			return nil, err
		}
		gw.cache = store
		gw.closers = append(gw.closers, store)
	}
	if gw.catalog == nil && cfg.Catalog.Enabled {
		cat, err := catalog.Open(filepath.Join(cfg.StorageDir, "catalog"))
		if err != nil {
			slog.Warn("substance catalog unavailable", "error", err)
		} else {
			gw.catalog = cat
		}
	}

	settings := cfg.Viewer.Settings()
	gw.params = scene.NewParams(gw.resolver, settings)
	gw.composer = scene.NewComposer(gw.resolver, settings.InitialDistance)
	gw.exporter = export.New(gw.params)
	gw.Viewers = viewer.NewManager(viewer.Options{
		FPS:         cfg.Viewer.FPS,
		Width:       cfg.Viewer.Width,
		Height:      cfg.Viewer.Height,
		Interaction: settings,
	})

	gw.cronMgr = cron.NewCronManager(st, func(ctx context.Context, query string) error {
		_, err := gw.Generate(ctx, query)
		return err
	}, cfg.Generation.Timeout)
	if cfg.Warmup.Enabled {
		if err := gw.cronMgr.AddWarmup(cfg.Warmup.Schedule, gw.samples()); err != nil {
			slog.Error("failed to schedule warmup", "error", err)
		}
	}
	gw.cronMgr.Start()

	return gw, nil
}

// Params are the rendering parameters shared by every backend.
func (gw *Gateway) Params() scene.Params { return gw.params }

// CurrentConfig is safe to call while UpdateConfig swaps the config.
func (gw *Gateway) CurrentConfig() *config.Config {
	gw.mu.RLock()
	defer gw.mu.RUnlock()
	return gw.Config
}

func (gw *Gateway) samples() []string {
	if s := gw.CurrentConfig().Warmup.Samples; len(s) > 0 {
		return s
	}
	return config.Samples
}

// Samples lists the quick-pick substances.
func (gw *Gateway) Samples() []string {
	return append([]string(nil), gw.samples()...)
}

// Generate returns the enriched record for query, from the cache when
// possible. Concurrent calls for the same normalized query share one
// provider request. Callers get their own copy of the record.
func (gw *Gateway) Generate(ctx context.Context, query string) (*molecule.Record, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, ErrEmptyQuery
	}
	key := cache.Key(cache.DataPrefix, q)
	if rec := gw.cached(ctx, key); rec != nil {
		slog.Debug("cache hit", "key", key)
		return rec, nil
	}

	v, err, _ := gw.group.Do(key, func() (any, error) {
		// The result is cached for everyone, so one caller going away must
		// not abort it.
		genCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), gw.timeout())
		defer cancel()
		return gw.generate(genCtx, key, q)
	})
	if err != nil {
		return nil, err
	}
	return v.(*molecule.Record).Clone(), nil
}

func (gw *Gateway) timeout() time.Duration {
	if t := gw.CurrentConfig().Generation.Timeout; t > 0 {
		return t
	}
	return defaultTimeout
}

func (gw *Gateway) cached(ctx context.Context, key string) *molecule.Record {
	data, ok, err := gw.cache.Get(ctx, key)
	if err != nil {
		slog.Warn("cache read failed", "key", key, "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	var rec molecule.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		slog.Warn("discarding unreadable cache entry", "key", key, "error", err)
		return nil
	}
	return &rec
}

func (gw *Gateway) generate(ctx context.Context, key, query string) (*molecule.Record, error) {
	gw.mu.RLock()
	eng := gw.engine
	gw.mu.RUnlock()

	start := time.Now()
	raw, usage, err := eng.Generate(ctx, query)
	if err != nil {
		slog.Error("generation failed", "query", query, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	rec, err := molecule.Decode(raw)
	if err != nil {
		slog.Error("provider returned an unusable record", "query", query, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	gw.resolver.Enrich(rec)

	stats := molecule.Analyze(rec)
	attrs := []any{
		"query", query,
		"name", rec.Name,
		"atoms", stats.Atoms,
		"bonds", stats.Bonds,
		"dropped_bonds", stats.Dropped,
		"fragments", stats.Fragments,
		"duration", time.Since(start),
	}
	if usage != nil {
		attrs = append(attrs, "total_tokens", usage.TotalTokens)
	}
	slog.Info("generated substance", attrs...)

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	if err := gw.cache.Put(ctx, key, data); err != nil {
		if errors.Is(err, cache.ErrQuotaExceeded) {
			slog.Warn("cache quota exceeded, result not persisted", "key", key)
		} else {
			slog.Warn("cache write failed", "key", key, "error", err)
		}
	}
	if gw.catalog != nil {
		if err := gw.catalog.Add(ctx, key, query, rec); err != nil {
			slog.Warn("failed to index substance", "key", key, "error", err)
		}
	}
	return rec, nil
}

// Search suggests previously generated substances similar to query.
func (gw *Gateway) Search(ctx context.Context, query string, limit int) ([]catalog.Entry, error) {
	if gw.catalog == nil {
		return nil, nil
	}
	return gw.catalog.Search(ctx, query, limit)
}

// Scene composes rec with the shared parameters.
func (gw *Gateway) Scene(rec *molecule.Record) *scene.Graph {
	return gw.composer.Compose(rec)
}

// Snapshot renders one PNG frame of rec under view.
func (gw *Gateway) Snapshot(rec *molecule.Record, view interaction.ViewTransform, w, h int) ([]byte, error) {
	r, err := render.New(gw.params)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	s := gw.params.Interaction
	if !(view.Distance > 0) {
		view.Distance = s.InitialDistance
	}
	view.Distance = min(max(view.Distance, s.MinDistance), s.MaxDistance)
	return r.RenderPNG(gw.composer.Compose(rec), view, w, h)
}

// Export synthesizes the offline document for rec and optionally keeps a
// copy in the exports directory.
func (gw *Gateway) Export(rec *molecule.Record, save bool) (*export.Document, error) {
	doc, err := gw.exporter.Synthesize(rec)
	if err != nil {
		return nil, err
	}
	if save && gw.Storage != nil {
		path, err := gw.Storage.SaveExport(doc.Filename, doc.Content)
		if err != nil {
			return nil, err
		}
		slog.Info("saved lab report", "path", path, "bytes", len(doc.Content))
	}
	return doc, nil
}

// Speech is a narrated clip, kept both encoded and decoded.
type Speech struct {
	Audio string
	Clip  *audio.Clip
}

// Speak narrates text. Clips are cached by substance name.
func (gw *Gateway) Speak(ctx context.Context, name, text string) (*Speech, error) {
	gw.mu.RLock()
	sp := gw.speaker
	gw.mu.RUnlock()
	if sp == nil {
		return nil, ErrSpeechDisabled
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyQuery
	}
	if strings.TrimSpace(name) == "" {
		name = text
	}

	key := cache.Key(cache.AudioPrefix, name)
	var payload string
	if data, ok, err := gw.cache.Get(ctx, key); err != nil {
		slog.Warn("cache read failed", "key", key, "error", err)
	} else if ok {
		payload = string(data)
	}

	fresh := payload == ""
	if fresh {
		var err error
		payload, err = sp.Speak(ctx, text)
		if err != nil {
			slog.Error("speech failed", "name", name, "error", err)
			return nil, fmt.Errorf("%w: %w", ErrSpeech, err)
		}
	}
	clip, err := audio.Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSpeech, err)
	}
	if fresh {
		if err := gw.cache.Put(ctx, key, []byte(payload)); err != nil {
			slog.Warn("failed to cache speech", "key", key, "error", err)
		}
	}
	return &Speech{Audio: payload, Clip: clip}, nil
}

// ViewerQuery generates query for a live viewer session and delivers the
// result unless a newer query superseded it in the meantime.
func (gw *Gateway) ViewerQuery(ctx context.Context, s *viewer.Session, sink viewer.Sink, query string) {
	t := s.Begin(query)
	if err := sink.Event(viewer.Event{Type: viewer.EventLoading, Query: query}); err != nil {
		slog.Debug("viewer sink rejected event", "session", s.ID, "error", err)
	}

	rec, err := gw.Generate(ctx, query)
	if !s.Current(t) {
		slog.Debug("discarding superseded result", "session", s.ID, "query", query)
		return
	}
	if err != nil {
		msg := FailureMessage
		if errors.Is(err, ErrEmptyQuery) {
			msg = EmptyQueryMessage
		}
		_ = sink.Event(viewer.Event{Type: viewer.EventError, Query: query, Message: msg})
		return
	}

	applied, err := s.Deliver(t, rec)
	if err != nil || !applied {
		return
	}
	stats := molecule.Analyze(rec)
	_ = sink.Event(viewer.Event{Type: viewer.EventRecord, Query: query, Record: rec, Stats: &stats})
}

type statser interface {
	Stats(ctx context.Context) (cache.Stats, error)
}

type clearer interface {
	Clear(ctx context.Context) error
}

func (gw *Gateway) CacheStats(ctx context.Context) (cache.Stats, error) {
	if s, ok := gw.cache.(statser); ok {
		return s.Stats(ctx)
	}
	return cache.Stats{}, fmt.Errorf("cache does not report stats")
}

func (gw *Gateway) ClearCache(ctx context.Context) error {
	if c, ok := gw.cache.(clearer); ok {
		return c.Clear(ctx)
	}
	return fmt.Errorf("cache cannot be cleared")
}

func (gw *Gateway) CatalogSize() int {
	if gw.catalog == nil {
		return 0
	}
	return gw.catalog.Count()
}

// RunWarmup generates the sample substances now.
func (gw *Gateway) RunWarmup(ctx context.Context) (*cron.WarmupReport, error) {
	return gw.cronMgr.RunWarmup(ctx, gw.samples())
}

func (gw *Gateway) LastWarmup() (*cron.WarmupReport, error) {
	return gw.cronMgr.LastReport()
}

// UpdateConfig swaps in a new configuration and rebuilds the providers.
// Rendering parameters are kept until restart.
func (gw *Gateway) UpdateConfig(newCfg *config.Config) error {
	eng, err := engine.New(newCfg)
	if err != nil {
		return err
	}
	gw.mu.Lock()
	defer gw.mu.Unlock()
	gw.Config = newCfg
	gw.engine = eng
	if newCfg.Speech.Enabled {
		gw.speaker = engine.NewOpenAISpeaker(newCfg)
	} else {
		gw.speaker = nil
	}
	return nil
}

// Close stops the scheduler, closes every viewer session and releases the cache.
func (gw *Gateway) Close() {
	gw.cronMgr.Stop()
	gw.Viewers.CloseAll()
	for _, c := range gw.closers {
		if err := c.Close(); err != nil {
			slog.Warn("close failed", "error", err)
		}
	}
}
