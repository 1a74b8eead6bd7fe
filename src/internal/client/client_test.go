package client

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"molecule-lab/src/internal/api"
	"molecule-lab/src/internal/cache"
	"molecule-lab/src/internal/config"
	"molecule-lab/src/internal/export"
	"molecule-lab/src/internal/gateway"
	"molecule-lab/src/internal/interaction"
	"molecule-lab/src/internal/llm"
	"molecule-lab/src/internal/storage"

	"github.com/gin-gonic/gin"
)

const methane = `{"name":"Methane","formula":"CH4","description":"gas","funFact":"smells of nothing",
"properties":{"state":"gas","meltingPoint":"-182 °C"},
"atoms":[{"element":"C","x":0,"y":0,"z":0},{"element":"H","x":0.63,"y":0.63,"z":0.63},
{"element":"H","x":-0.63,"y":-0.63,"z":0.63},{"element":"H","x":-0.63,"y":0.63,"z":-0.63},
{"element":"H","x":0.63,"y":-0.63,"z":-0.63}],
"bonds":[{"source":0,"target":1},{"source":0,"target":2},{"source":0,"target":3},{"source":0,"target":4}]}`

type stubEngine struct{ err error }

func (s stubEngine) Generate(ctx context.Context, substance string) ([]byte, *llm.Usage, error) {
	if s.err != nil {
		return nil, nil, s.err
	}
	return []byte(methane), nil, nil
}

func newServer(t *testing.T, eng stubEngine) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()
	cfg := &config.Config{StorageDir: dir}
	cfg.Server.Key = "k"
	cfg.Server.AdminUser = "admin"
	cfg.Server.AdminPass = "pw"
	st, err := storage.New(dir)
	if err != nil {
		t.Fatal(err)
	}
	gw, err := gateway.New(cfg, st, gateway.Deps{Engine: eng, Cache: cache.NewMemory(0)})
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(api.NewServer(gw).Engine)
	t.Cleanup(func() {
		srv.Close()
		gw.Close()
	})
	return srv
}

func TestGenerateAndExport(t *testing.T) {
	srv := newServer(t, stubEngine{})
	c := New(srv.URL, "k")
	ctx := context.Background()

	rec, stats, err := c.Generate(ctx, "methane")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Formula != "CH4" || stats.Atoms != 5 || stats.Bonds != 4 {
		t.Fatalf("unexpected result %+v %+v", rec, stats)
	}

	doc, err := c.Export(ctx, rec, "")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Filename != "Methane_lab_report.html" {
		t.Errorf("filename = %q", doc.Filename)
	}
	back, err := export.Parse(doc.Content)
	if err != nil || back.Name != "Methane" {
		t.Errorf("parse exported document: %v %v", back, err)
	}

	png, err := c.Snapshot(ctx, rec, interaction.ViewTransform{Distance: 6}, 48, 48)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Error("snapshot is not a PNG")
	}
}

func TestErrors(t *testing.T) {
	srv := newServer(t, stubEngine{err: errors.New("boom")})
	ctx := context.Background()

	_, _, err := New(srv.URL, "k").Generate(ctx, "methane")
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusBadGateway || se.Message != gateway.FailureMessage {
		t.Errorf("expected 502 with failure message, got %v", err)
	}

	_, _, err = New(srv.URL, "wrong").Generate(ctx, "methane")
	if !errors.As(err, &se) || se.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %v", err)
	}
}

func TestGetConfig(t *testing.T) {
	srv := newServer(t, stubEngine{})
	c := New(srv.URL, "k")
	c.AdminUser, c.AdminPass = "admin", "pw"

	raw, err := c.GetConfig(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(raw, `"admin_user":"admin"`) || strings.Contains(raw, "pw") {
		t.Errorf("unexpected config %s", raw)
	}
}
