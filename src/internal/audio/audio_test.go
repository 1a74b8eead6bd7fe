package audio

import (
	"encoding/base64"
	"errors"
	"testing"
	"time"
)

func TestDecode(t *testing.T) {
	raw := []byte{0x00, 0x00, 0x00, 0x40, 0x00, 0x80, 0xff, 0x7f}
	clip, err := Decode(base64.StdEncoding.EncodeToString(raw))
	if err != nil {
		t.Fatal(err)
	}
	want := []float32{0, 0.5, -1, 32767.0 / 32768}
	if len(clip.Samples) != len(want) {
		t.Fatalf("got %d samples", len(clip.Samples))
	}
	for i, w := range want {
		if clip.Samples[i] != w {
			t.Errorf("sample %d = %v, want %v", i, clip.Samples[i], w)
		}
	}
	if clip.SampleRate != 24000 {
		t.Errorf("sample rate = %d", clip.SampleRate)
	}
}

func TestDecodeErrors(t *testing.T) {
	if _, err := Decode("%%%"); err == nil {
		t.Error("expected base64 error")
	}
	if _, err := DecodePCM([]byte{1, 2, 3}); !errors.Is(err, ErrOddLength) {
		t.Errorf("expected ErrOddLength, got %v", err)
	}
}

func TestDuration(t *testing.T) {
	clip, _ := DecodePCM(make([]byte, 2*SampleRate))
	if clip.Duration() != time.Second {
		t.Errorf("duration = %v", clip.Duration())
	}
}
