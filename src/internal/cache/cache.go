// Package cache persists generated payloads keyed by normalized query text.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrQuotaExceeded is returned by Put when the store has no room left.
var ErrQuotaExceeded = errors.New("cache quota exceeded")

const (
	DataPrefix  = "fml_data_"
	AudioPrefix = "fml_audio_"

	// SchemaVersion is stamped into every envelope. Nothing reads it yet; it
	// is there so a later record schema can tell old entries apart.
	SchemaVersion = 1
)

// isBlank matches Unicode whitespace, including the ideographic space of
// CJK input methods, plus the BOM.
func isBlank(r rune) bool {
	return unicode.IsSpace(r) || r == '\uFEFF'
}

// Key builds a cache key: prefix plus the query trimmed, lower-cased and with
// whitespace runs collapsed to "_".
func Key(prefix, query string) string {
	return prefix + strings.Join(strings.FieldsFunc(strings.ToLower(query), isBlank), "_")
}

// Store is a durable key/value cache. Entries never expire.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, payload []byte) error
}

type Envelope struct {
	Timestamp int64  `msgpack:"ts"`
	Version   int    `msgpack:"v"`
	Payload   []byte `msgpack:"payload"`
}

func Encode(payload []byte, now time.Time) ([]byte, error) {
	data, err := msgpack.Marshal(&Envelope{Timestamp: now.UnixMilli(), Version: SchemaVersion, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return &env, nil
}

// Stats summarize the stored entries.
type Stats struct {
	Entries  int   `json:"entries"`
	Bytes    int64 `json:"bytes"`
	MaxBytes int64 `json:"max_bytes"`
}

// Memory is an in-process Store with the same quota rules as SQLite.
type Memory struct {
	mu       sync.Mutex
	entries  map[string][]byte
	maxBytes int64
}

func NewMemory(maxBytes int64) *Memory {
	return &Memory{entries: make(map[string][]byte), maxBytes: maxBytes}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	data, ok := m.entries[key]
	m.mu.Unlock()
	if !ok {
		return nil, false, nil
	}
	env, err := Decode(data)
	if err != nil {
		return nil, false, err
	}
	return env.Payload, true, nil
}

func (m *Memory) Put(_ context.Context, key string, payload []byte) error {
	data, err := Encode(payload, time.Now())
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.maxBytes > 0 {
		var used int64
		for k, v := range m.entries {
			if k != key {
				used += int64(len(v))
			}
		}
		if used+int64(len(data)) > m.maxBytes {
			return ErrQuotaExceeded
		}
	}
	m.entries[key] = data
	return nil
}

// Clear removes every entry.
func (m *Memory) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string][]byte)
	return nil
}

func (m *Memory) Stats(context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Stats{Entries: len(m.entries), MaxBytes: m.maxBytes}
	for _, v := range m.entries {
		st.Bytes += int64(len(v))
	}
	return st, nil
}
