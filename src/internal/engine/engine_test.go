package engine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"molecule-lab/src/internal/config"
)

const waterJSON = `{"name":"水","formula":"H2O","description":"d","funFact":"f","properties":{"state":"液态","meltingPoint":"0°C"},"atoms":[{"element":"O","x":0,"y":0,"z":0}],"bonds":[]}`

func completion(content string) string {
	resp := map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   "test-model",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
		"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 20, "total_tokens": 30},
	}
	data, _ := json.Marshal(resp)
	return string(data)
}

func testConfig(baseURL, engineName string, models ...string) *config.Config {
	cfg := &config.Config{}
	cfg.Models.Providers = map[string]config.ProviderConfig{
		"test":  {BaseURL: baseURL, APIKey: "k"},
		"empty": {BaseURL: baseURL},
	}
	cfg.Generation.Engine = engineName
	cfg.Generation.Model.Primary = models[0]
	cfg.Generation.Model.Fallbacks = models[1:]
	cfg.Generation.Temperature = 0.3
	cfg.Speech.Model = "test/tts"
	cfg.Speech.Voice = "alloy"
	return cfg
}

func TestBasicEngineFallback(t *testing.T) {
	var requests []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		requests = append(requests, body)
		if body["model"] == "broken" {
			http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, completion(waterJSON))
	}))
	defer srv.Close()

	e := NewBasicEngine(testConfig(srv.URL, "basic", "empty/m", "test/broken", "test/good"))
	data, usage, err := e.Generate(context.Background(), "water")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if string(data) != waterJSON {
		t.Errorf("unexpected payload %s", data)
	}
	if usage == nil || usage.TotalTokens != 30 {
		t.Errorf("usage = %+v", usage)
	}
	if len(requests) < 2 {
		t.Fatalf("expected fallback requests, got %d", len(requests))
	}
	last := requests[len(requests)-1]
	rf, _ := last["response_format"].(map[string]any)
	if rf["type"] != "json_schema" {
		t.Errorf("response_format = %v", last["response_format"])
	}
}

func TestBasicEngineMissingKey(t *testing.T) {
	e := NewBasicEngine(testConfig("http://127.0.0.1:0", "basic", "empty/m"))
	if _, _, err := e.Generate(context.Background(), "water"); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestEinoEngine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, completion("Here you go!\n```json\n"+waterJSON+"\n```"))
	}))
	defer srv.Close()

	e, err := New(testConfig(srv.URL, "eino", "test/good"))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := e.(*EinoEngine); !ok {
		t.Fatalf("New returned %T", e)
	}
	data, _, err := e.Generate(context.Background(), "water")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if string(data) != waterJSON {
		t.Errorf("unexpected payload %s", data)
	}
}

func TestEinoEngineMissingKey(t *testing.T) {
	e, err := NewEinoEngine(testConfig("http://127.0.0.1:0", "eino", "empty/m"))
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := e.Generate(context.Background(), "water"); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestNewUnknownEngine(t *testing.T) {
	if _, err := New(testConfig("", "quantum", "test/m")); err == nil {
		t.Error("expected error for unknown engine")
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		in, want string
		ok       bool
	}{
		{`{"a":1}`, `{"a":1}`, true},
		{"```json\n{\"a\":1}\n```", `{"a":1}`, true},
		{"sure: {\"a\":{\"b\":2}} done", `{"a":{"b":2}}`, true},
		{"no json here", "", false},
	}
	for _, tt := range tests {
		got, err := extractJSON(tt.in)
		if tt.ok != (err == nil) || string(got) != tt.want {
			t.Errorf("extractJSON(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestSchemaPrompt(t *testing.T) {
	p := schemaPrompt()
	for _, field := range []string{`"funFact"`, `"meltingPoint"`, `"bonds"`} {
		if !strings.Contains(p, field) {
			t.Errorf("schema prompt lacks %s", field)
		}
	}
	if !strings.Contains(systemPrompt(""), "Simplified Chinese") {
		t.Error("default language missing from system prompt")
	}
}

func TestOpenAISpeaker(t *testing.T) {
	pcm := []byte{0x00, 0x40, 0x00, 0xc0}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/audio/speech") {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["response_format"] != "pcm" {
			http.Error(w, "want pcm", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "audio/pcm")
		_, _ = w.Write(pcm)
	}))
	defer srv.Close()

	s := NewOpenAISpeaker(testConfig(srv.URL, "basic", "test/m"))
	got, err := s.Speak(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Speak failed: %v", err)
	}
	if got != base64.StdEncoding.EncodeToString(pcm) {
		t.Errorf("unexpected audio %q", got)
	}
}
