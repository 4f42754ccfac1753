// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_twilio_telephony

import (
	"encoding/base64"
	"encoding/json"
	"strconv"

	"github.com/rapidaai/orchestrator/pkg/commons"
)

// Media stream event names on the provider websocket.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventStop      = "stop"
	EventMark      = "mark"
	EventClear     = "clear"
	EventDTMF      = "dtmf"
)

// InboundFrame is one message read from the media websocket. Only the
// fields for the named event are populated.
type InboundFrame struct {
	Event          string `json:"event"`
	SequenceNumber string `json:"sequenceNumber,omitempty"`
	StreamSid      string `json:"streamSid,omitempty"`

	Start *StartPayload `json:"start,omitempty"`
	Media *MediaPayload `json:"media,omitempty"`
	Mark  *MarkPayload  `json:"mark,omitempty"`
	Stop  *StopPayload  `json:"stop,omitempty"`
	DTMF  *DTMFPayload  `json:"dtmf,omitempty"`
}

// StartPayload carries the identifiers the session latches on connect.
type StartPayload struct {
	AccountSid       string            `json:"accountSid"`
	CallSid          string            `json:"callSid"`
	StreamSid        string            `json:"streamSid"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
}

type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// MediaPayload carries one chunk of base64 µ-law audio.
type MediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

type MarkPayload struct {
	Name string `json:"name"`
}

type StopPayload struct {
	AccountSid string `json:"accountSid"`
	CallSid    string `json:"callSid"`
}

type DTMFPayload struct {
	Track string `json:"track,omitempty"`
	Digit string `json:"digit"`
}

// ParseInboundFrame decodes one websocket message.
func ParseInboundFrame(raw []byte) (*InboundFrame, error) {
	var frame InboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, commons.WrapError(commons.KindValidation, "malformed media stream frame", err)
	}
	if frame.Event == "" {
		return nil, commons.NewError(commons.KindValidation, "media stream frame missing event")
	}
	return &frame, nil
}

// Audio decodes the media payload.
func (f *InboundFrame) Audio() ([]byte, error) {
	if f.Media == nil {
		return nil, commons.NewError(commons.KindValidation, "frame has no media payload")
	}
	raw, err := base64.StdEncoding.DecodeString(f.Media.Payload)
	if err != nil {
		return nil, commons.WrapError(commons.KindValidation, "malformed media payload", err)
	}
	return raw, nil
}

// outboundMedia is the shape written back to the provider for audio.
type outboundMedia struct {
	Event          string               `json:"event"`
	StreamSid      string               `json:"streamSid"`
	SequenceNumber string               `json:"sequenceNumber"`
	Media          outboundMediaPayload `json:"media"`
}

type outboundMediaPayload struct {
	Track     string `json:"track"`
	Chunk     string `json:"chunk"`
	Timestamp string `json:"timestamp"`
	Payload   string `json:"payload"`
}

// outboundMark asks the provider to echo a mark once audio before it has
// been played out.
type outboundMark struct {
	Event     string      `json:"event"`
	StreamSid string      `json:"streamSid"`
	Mark      MarkPayload `json:"mark"`
}

// outboundClear flushes provider-side buffered audio, used on barge-in.
type outboundClear struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
}

// BuildMediaFrame encodes one chunk of linear PCM 8 kHz 16-bit mono for
// the provider websocket. seq numbers outbound frames within the stream;
// timestampMs is the play-out position in milliseconds since stream start.
func BuildMediaFrame(streamSid string, seq, timestampMs uint64, pcm8k []byte) ([]byte, error) {
	return json.Marshal(outboundMedia{
		Event:          EventMedia,
		StreamSid:      streamSid,
		SequenceNumber: strconv.FormatUint(seq, 10),
		Media: outboundMediaPayload{
			Track:     "outbound",
			Chunk:     strconv.FormatUint(seq, 10),
			Timestamp: strconv.FormatUint(timestampMs, 10),
			Payload:   base64.StdEncoding.EncodeToString(pcm8k),
		},
	})
}

// BuildMarkFrame encodes a named playback marker.
func BuildMarkFrame(streamSid, name string) ([]byte, error) {
	return json.Marshal(outboundMark{
		Event:     EventMark,
		StreamSid: streamSid,
		Mark:      MarkPayload{Name: name},
	})
}

// BuildClearFrame encodes a buffered-audio flush.
func BuildClearFrame(streamSid string) ([]byte, error) {
	return json.Marshal(outboundClear{
		Event:     EventClear,
		StreamSid: streamSid,
	})
}
