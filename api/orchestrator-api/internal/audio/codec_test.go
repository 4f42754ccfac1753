// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_audio

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sine8k generates n samples of a 400 Hz tone as 8 kHz PCM16.
func sine8k(n int) []byte {
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := int16(8000 * math.Sin(2*math.Pi*400*float64(i)/8000))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

func TestResample_RoundTripPreservesLength(t *testing.T) {
	pcm8k := sine8k(160) // 20 ms

	up, err := Upsample8kTo16k(pcm8k)
	require.NoError(t, err)
	assert.Equal(t, len(pcm8k)*2, len(up))

	down, err := Downsample16kTo8k(up)
	require.NoError(t, err)
	assert.Equal(t, len(pcm8k), len(down))
}

func TestResample_RoundTripCloseToOriginal(t *testing.T) {
	pcm8k := sine8k(320)

	up, err := Upsample8kTo16k(pcm8k)
	require.NoError(t, err)
	down, err := Downsample16kTo8k(up)
	require.NoError(t, err)

	// Linear interp followed by pair-averaging smears each sample with its
	// neighbors; for narrowband speech the error stays small.
	var maxErr int
	for i := 0; i+1 < len(pcm8k); i += 2 {
		a := int16(binary.LittleEndian.Uint16(pcm8k[i:]))
		b := int16(binary.LittleEndian.Uint16(down[i:]))
		diff := int(a) - int(b)
		if diff < 0 {
			diff = -diff
		}
		if diff > maxErr {
			maxErr = diff
		}
	}
	assert.Less(t, maxErr, 2048, "round trip error too large: %d", maxErr)
}

func TestResample_RejectsOddLength(t *testing.T) {
	_, err := Upsample8kTo16k([]byte{0x01})
	require.Error(t, err)
	_, err = Downsample16kTo8k([]byte{0x01, 0x02, 0x03})
	require.Error(t, err)
}

func TestDecodeMulaw8k_ProducesCanonicalRate(t *testing.T) {
	mulaw := make([]byte, 160) // 20 ms of µ-law silence
	for i := range mulaw {
		mulaw[i] = 0xFF
	}

	pcm16k, err := DecodeMulaw8k(mulaw)
	require.NoError(t, err)
	// 160 µ-law samples -> 320 samples at 16 kHz -> 640 bytes.
	assert.Equal(t, 640, len(pcm16k))
}

func TestEncodeMulaw8k_RoundTrip(t *testing.T) {
	pcm8k := sine8k(160)
	pcm16k, err := Upsample8kTo16k(pcm8k)
	require.NoError(t, err)

	mulaw, err := EncodeMulaw8k(pcm16k)
	require.NoError(t, err)
	assert.Equal(t, 160, len(mulaw))
}

func TestDecodeMulaw8k_EmptyRejected(t *testing.T) {
	_, err := DecodeMulaw8k(nil)
	require.Error(t, err)
}

func TestFrameForProvider_PadsFinalFrame(t *testing.T) {
	pcm := make([]byte, 500)
	frames, err := FrameForProvider(pcm)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, 640, len(frames[0]))
	// Padding is silence.
	for _, b := range frames[0][500:] {
		assert.Zero(t, b)
	}
}

func TestFrameForProvider_FrameInvariants(t *testing.T) {
	sizes := []int{1, 320, 321, 64000, 100000, 250000}
	for _, size := range sizes {
		frames, err := FrameForProvider(make([]byte, size))
		require.NoError(t, err)
		require.NotEmpty(t, frames)

		total := 0
		for _, f := range frames {
			assert.Greater(t, len(f), 0)
			assert.Zero(t, len(f)%FrameBytes, "size=%d frame not a 320 multiple", size)
			assert.LessOrEqual(t, len(f), MaxFrameBytes)
			total += len(f)
		}
		assert.GreaterOrEqual(t, total, size)
	}
}

func TestFrameForProvider_EmptyRejected(t *testing.T) {
	_, err := FrameForProvider(nil)
	require.Error(t, err)
}
