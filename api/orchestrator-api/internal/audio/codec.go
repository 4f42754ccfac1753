// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package internal_audio converts between the telephony wire format
// (G.711 µ-law at 8 kHz) and the canonical internal format (linear PCM16
// little-endian at 16 kHz) used by the AI providers. All functions are
// pure; failures are Validation errors.
package internal_audio

import (
	"encoding/binary"

	"github.com/zaf/g711"

	"github.com/rapidaai/orchestrator/pkg/commons"
)

const (
	// TelephonyRate is the PSTN sample rate.
	TelephonyRate = 8000
	// CanonicalRate is the internal processing sample rate.
	CanonicalRate = 16000

	// FrameBytes is the provider media frame granularity: 20 ms of 8 kHz
	// PCM16 (160 samples * 2 bytes).
	FrameBytes = 320
	// MaxFrameBytes is the largest single media frame the provider accepts.
	MaxFrameBytes = 100000
)

// DecodeMulaw8k expands µ-law bytes to canonical 16 kHz PCM16.
func DecodeMulaw8k(mulaw []byte) ([]byte, error) {
	if len(mulaw) == 0 {
		return nil, commons.NewError(commons.KindValidation, "empty mulaw payload")
	}
	pcm8k := g711.DecodeUlaw(mulaw)
	return Upsample8kTo16k(pcm8k)
}

// EncodeMulaw8k compresses canonical 16 kHz PCM16 down to µ-law bytes.
func EncodeMulaw8k(pcm16k []byte) ([]byte, error) {
	pcm8k, err := Downsample16kTo8k(pcm16k)
	if err != nil {
		return nil, err
	}
	return g711.EncodeUlaw(pcm8k), nil
}

// EncodeMulawFromPCM8k compresses 8 kHz PCM16 to µ-law without resampling.
// Used by the session writer, which frames at 8 kHz before compressing.
func EncodeMulawFromPCM8k(pcm8k []byte) ([]byte, error) {
	if len(pcm8k) == 0 || len(pcm8k)%2 != 0 {
		return nil, commons.NewError(commons.KindValidation, "invalid pcm payload length")
	}
	return g711.EncodeUlaw(pcm8k), nil
}

// Upsample8kTo16k doubles the sample rate by linear interpolation. Speech
// at 8 kHz carries no content above 4 kHz, so interpolation introduces no
// audible imaging for this direction.
func Upsample8kTo16k(pcm8k []byte) ([]byte, error) {
	if len(pcm8k)%2 != 0 {
		return nil, commons.NewError(commons.KindValidation, "pcm payload has odd byte length")
	}
	n := len(pcm8k) / 2
	if n == 0 {
		return nil, commons.NewError(commons.KindValidation, "empty pcm payload")
	}

	out := make([]byte, n*2*2)
	for i := 0; i < n; i++ {
		cur := int16(binary.LittleEndian.Uint16(pcm8k[i*2:]))
		next := cur
		if i+1 < n {
			next = int16(binary.LittleEndian.Uint16(pcm8k[(i+1)*2:]))
		}
		mid := int16((int32(cur) + int32(next)) / 2)
		binary.LittleEndian.PutUint16(out[i*4:], uint16(cur))
		binary.LittleEndian.PutUint16(out[i*4+2:], uint16(mid))
	}
	return out, nil
}

// Downsample16kTo8k halves the sample rate by averaging sample pairs. The
// 2:1 average acts as a crude low-pass, adequate for a narrowband sink.
func Downsample16kTo8k(pcm16k []byte) ([]byte, error) {
	if len(pcm16k)%2 != 0 {
		return nil, commons.NewError(commons.KindValidation, "pcm payload has odd byte length")
	}
	n := len(pcm16k) / 2
	if n == 0 {
		return nil, commons.NewError(commons.KindValidation, "empty pcm payload")
	}

	out := make([]byte, (n/2)*2)
	for i := 0; i+1 < n; i += 2 {
		a := int16(binary.LittleEndian.Uint16(pcm16k[i*2:]))
		b := int16(binary.LittleEndian.Uint16(pcm16k[(i+1)*2:]))
		avg := int16((int32(a) + int32(b)) / 2)
		binary.LittleEndian.PutUint16(out[(i/2)*2:], uint16(avg))
	}
	return out, nil
}

// FrameForProvider slices 8 kHz PCM16 into provider media frames. Every
// frame is a positive multiple of FrameBytes and at most MaxFrameBytes;
// the final short frame is zero-padded up to the next multiple.
func FrameForProvider(pcm8k []byte) ([][]byte, error) {
	if len(pcm8k) == 0 {
		return nil, commons.NewError(commons.KindValidation, "empty pcm payload")
	}

	// Round the largest frame down to the frame granularity.
	chunk := (MaxFrameBytes / FrameBytes) * FrameBytes

	var frames [][]byte
	for off := 0; off < len(pcm8k); off += chunk {
		end := off + chunk
		if end > len(pcm8k) {
			end = len(pcm8k)
		}
		frame := pcm8k[off:end]
		if rem := len(frame) % FrameBytes; rem != 0 {
			padded := make([]byte, len(frame)+FrameBytes-rem)
			copy(padded, frame)
			frame = padded
		}
		frames = append(frames, frame)
	}
	return frames, nil
}
