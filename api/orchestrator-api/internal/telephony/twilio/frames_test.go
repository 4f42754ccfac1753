// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_twilio_telephony

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInboundFrame_Start(t *testing.T) {
	raw := []byte(`{
		"event": "start",
		"sequenceNumber": "1",
		"streamSid": "MZxxxx",
		"start": {
			"accountSid": "ACxxxx",
			"callSid": "CAxxxx",
			"streamSid": "MZxxxx",
			"customParameters": {"callId": "abc-123"},
			"mediaFormat": {"encoding": "audio/x-mulaw", "sampleRate": 8000, "channels": 1}
		}
	}`)

	frame, err := ParseInboundFrame(raw)
	require.NoError(t, err)
	assert.Equal(t, EventStart, frame.Event)
	require.NotNil(t, frame.Start)
	assert.Equal(t, "CAxxxx", frame.Start.CallSid)
	assert.Equal(t, "abc-123", frame.Start.CustomParameters["callId"])
	assert.Equal(t, 8000, frame.Start.MediaFormat.SampleRate)
}

func TestParseInboundFrame_MediaAudio(t *testing.T) {
	audio := []byte{0xFF, 0x7F, 0x00, 0x80}
	raw, err := json.Marshal(map[string]interface{}{
		"event":     "media",
		"streamSid": "MZxxxx",
		"media": map[string]string{
			"payload": base64.StdEncoding.EncodeToString(audio),
		},
	})
	require.NoError(t, err)

	frame, err := ParseInboundFrame(raw)
	require.NoError(t, err)
	got, err := frame.Audio()
	require.NoError(t, err)
	assert.Equal(t, audio, got)
}

func TestParseInboundFrame_Invalid(t *testing.T) {
	_, err := ParseInboundFrame([]byte(`not json`))
	require.Error(t, err)

	_, err = ParseInboundFrame([]byte(`{"streamSid": "MZ"}`))
	require.Error(t, err)
}

func TestFrame_AudioWithoutMedia(t *testing.T) {
	frame := &InboundFrame{Event: EventMark}
	_, err := frame.Audio()
	require.Error(t, err)
}

func TestBuildMediaFrame_RoundTrip(t *testing.T) {
	pcm := make([]byte, 320)
	pcm[0], pcm[1] = 0xE8, 0x03
	raw, err := BuildMediaFrame("MZxxxx", 7, 120, pcm)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "media", decoded["event"])
	assert.Equal(t, "MZxxxx", decoded["streamSid"])
	assert.Equal(t, "7", decoded["sequenceNumber"])

	media := decoded["media"].(map[string]interface{})
	assert.Equal(t, "outbound", media["track"])
	assert.Equal(t, "7", media["chunk"])
	assert.Equal(t, "120", media["timestamp"])

	got, err := base64.StdEncoding.DecodeString(media["payload"].(string))
	require.NoError(t, err)
	assert.Equal(t, pcm, got)
}

func TestBuildMarkAndClearFrames(t *testing.T) {
	raw, err := BuildMarkFrame("MZxxxx", "sentence-3")
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"mark"`)
	assert.Contains(t, string(raw), "sentence-3")

	raw, err = BuildClearFrame("MZxxxx")
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"clear"`)
}

func TestAnswerTwiML(t *testing.T) {
	twiml := AnswerTwiML("wss://example.com/v1/telephony/media/abc", "abc")
	assert.Contains(t, twiml, `<Connect>`)
	assert.Contains(t, twiml, "wss://example.com/v1/telephony/media/abc")
	assert.Contains(t, twiml, `name="callId" value="abc"`)
}

func TestVerifySignature(t *testing.T) {
	secret := "webhook-secret"
	body := []byte(`CallSid=CAxxxx&CallStatus=completed`)

	sig := SignBody(secret, body)
	require.NoError(t, VerifySignature(secret, body, sig))

	assert.Error(t, VerifySignature(secret, body, "deadbeef"))
	assert.Error(t, VerifySignature("other-secret", body, sig))
	assert.Error(t, VerifySignature(secret, []byte("tampered"), sig))
}
