// Package audio decodes narration payloads: base64 text holding raw signed
// 16-bit little-endian mono PCM at 24 kHz.
package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const (
	SampleRate = 24000
	Channels   = 1
)

var ErrOddLength = errors.New("pcm payload has an odd byte count")

// Clip is decoded audio with samples normalized to [-1, 1).
type Clip struct {
	SampleRate int       `json:"sample_rate"`
	Samples    []float32 `json:"-"`
}

func (c *Clip) Duration() time.Duration {
	if c.SampleRate == 0 {
		return 0
	}
	return time.Duration(len(c.Samples)) * time.Second / time.Duration(c.SampleRate)
}

// Decode turns a base64 payload into a clip. Each sample is value/32768.
func Decode(payload string) (*Clip, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode base64 audio: %w", err)
	}
	return DecodePCM(raw)
}

func DecodePCM(raw []byte) (*Clip, error) {
	if len(raw)%2 != 0 {
		return nil, ErrOddLength
	}
	samples := make([]float32, len(raw)/2)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(raw[2*i:]))
		samples[i] = float32(v) / 32768
	}
	return &Clip{SampleRate: SampleRate, Samples: samples}, nil
}
