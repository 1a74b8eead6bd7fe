// Command export writes offline lab reports.
//
//	export -record water.json            # from a saved record, no provider needed
//	export -query 咖啡因 -png             # generate in-process, plus a preview PNG
//	export -server http://host:8080 -key K -query 水
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"molecule-lab/src/internal/client"
	"molecule-lab/src/internal/config"
	"molecule-lab/src/internal/elements"
	"molecule-lab/src/internal/export"
	"molecule-lab/src/internal/gateway"
	"molecule-lab/src/internal/interaction"
	"molecule-lab/src/internal/molecule"
	"molecule-lab/src/internal/render"
	"molecule-lab/src/internal/scene"
	"molecule-lab/src/internal/storage"
)

type options struct {
	configFile string
	query      string
	recordFile string
	server     string
	key        string
	outDir     string
	png        bool
	size       int
	yaw        float64
	pitch      float64
}

// source produces the record and its report, plus a PNG when asked to.
type source interface {
	record(ctx context.Context) (*molecule.Record, error)
	report(ctx context.Context, rec *molecule.Record) (*export.Document, error)
	snapshot(ctx context.Context, rec *molecule.Record, v interaction.ViewTransform, size int) ([]byte, error)
}

func main() {
	var o options
	flag.StringVar(&o.configFile, "config", "", "path to config file to load first")
	flag.StringVar(&o.query, "query", "", "substance to generate")
	flag.StringVar(&o.recordFile, "record", "", "record JSON or a previously exported report")
	flag.StringVar(&o.server, "server", "", "base URL of a running server; generate there instead of in-process")
	flag.StringVar(&o.key, "key", "", "server key for -server")
	flag.StringVar(&o.outDir, "out", ".", "output directory")
	flag.BoolVar(&o.png, "png", false, "also write a PNG snapshot")
	flag.IntVar(&o.size, "size", 800, "PNG edge length in pixels")
	flag.Float64Var(&o.yaw, "yaw", 0.6, "PNG yaw in radians")
	flag.Float64Var(&o.pitch, "pitch", 0.3, "PNG pitch in radians")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	if (o.query == "") == (o.recordFile == "") {
		fmt.Fprintln(os.Stderr, "exactly one of -query or -record is required")
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	src, closeFn, err := newSource(o)
	if err != nil {
		slog.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer closeFn()

	if err := run(ctx, src, o); err != nil {
		slog.Error("export failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, src source, o options) error {
	rec, err := src.record(ctx)
	if err != nil {
		return err
	}
	doc, err := src.report(ctx, rec)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(o.outDir, 0755); err != nil {
		return err
	}
	path := filepath.Join(o.outDir, doc.Filename)
	if err := os.WriteFile(path, doc.Content, 0644); err != nil {
		return err
	}
	st := molecule.Analyze(rec)
	slog.Info("wrote lab report", "path", path, "name", rec.Name, "atoms", st.Atoms, "bonds", st.Bonds)

	if !o.png {
		return nil
	}
	png, err := src.snapshot(ctx, rec, interaction.ViewTransform{Yaw: o.yaw, Pitch: o.pitch}, o.size)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	pngPath := strings.TrimSuffix(path, ".html") + ".png"
	if err := os.WriteFile(pngPath, png, 0644); err != nil {
		return err
	}
	slog.Info("wrote snapshot", "path", pngPath)
	return nil
}

func newSource(o options) (source, func(), error) {
	switch {
	case o.server != "":
		return &remote{o: o, c: client.New(strings.TrimRight(o.server, "/"), o.key)}, func() {}, nil
	case o.recordFile != "":
		return &offline{o: o, params: scene.NewParams(nil, interaction.DefaultSettings())}, func() {}, nil
	}

	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, nil, err
	}
	st, err := storage.New(cfg.StorageDir)
	if err != nil {
		return nil, nil, err
	}
	gw, err := gateway.New(cfg, st, gateway.Deps{})
	if err != nil {
		return nil, nil, err
	}
	return &local{o: o, gw: gw}, gw.Close, nil
}

func readRecord(path string) (*molecule.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(strings.ToLower(path), ".html") {
		return export.Parse(data)
	}
	rec, err := decodeRecord(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rec, nil
}

// decodeRecord accepts a bare record, enriched or not, or an API response
// that carries one under "record". Colors and radii are reassigned from the
// element table.
func decodeRecord(data []byte) (*molecule.Record, error) {
	var wrapped struct {
		Record json.RawMessage `json:"record"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("%w: %v", molecule.ErrMalformed, err)
	}
	if len(wrapped.Record) > 0 && string(wrapped.Record) != "null" {
		data = wrapped.Record
	}
	var rec molecule.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", molecule.ErrMalformed, err)
	}
	if rec.Name == "" && len(rec.Atoms) == 0 {
		return nil, fmt.Errorf("%w: no record found", molecule.ErrMalformed)
	}
	elements.Default().Enrich(&rec)
	return &rec, nil
}

// offline works from a file and never touches a provider.
type offline struct {
	o      options
	params scene.Params
}

func (s *offline) record(context.Context) (*molecule.Record, error) {
	return readRecord(s.o.recordFile)
}

func (s *offline) report(_ context.Context, rec *molecule.Record) (*export.Document, error) {
	return export.New(s.params).Synthesize(rec)
}

func (s *offline) snapshot(_ context.Context, rec *molecule.Record, v interaction.ViewTransform, size int) ([]byte, error) {
	r, err := render.New(s.params)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	v.Distance = s.params.Interaction.InitialDistance
	g := scene.NewComposer(elements.Default(), v.Distance).Compose(rec)
	return r.RenderPNG(g, v, size, size)
}

type local struct {
	o  options
	gw *gateway.Gateway
}

func (s *local) record(ctx context.Context) (*molecule.Record, error) {
	return s.gw.Generate(ctx, s.o.query)
}

func (s *local) report(_ context.Context, rec *molecule.Record) (*export.Document, error) {
	return s.gw.Export(rec, false)
}

func (s *local) snapshot(_ context.Context, rec *molecule.Record, v interaction.ViewTransform, size int) ([]byte, error) {
	return s.gw.Snapshot(rec, v, size, size)
}

type remote struct {
	o options
	c *client.Client
}

func (s *remote) record(ctx context.Context) (*molecule.Record, error) {
	if s.o.recordFile != "" {
		return readRecord(s.o.recordFile)
	}
	rec, _, err := s.c.Generate(ctx, s.o.query)
	return rec, err
}

func (s *remote) report(ctx context.Context, rec *molecule.Record) (*export.Document, error) {
	return s.c.Export(ctx, rec, "")
}

func (s *remote) snapshot(ctx context.Context, rec *molecule.Record, v interaction.ViewTransform, size int) ([]byte, error) {
	return s.c.Snapshot(ctx, rec, v, size, size)
}
