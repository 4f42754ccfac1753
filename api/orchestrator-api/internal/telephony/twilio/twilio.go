// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_twilio_telephony

import (
	"fmt"
	"strings"

	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/rapidaai/orchestrator/pkg/commons"
)

// Telephony wraps the provider REST surface: creating outbound calls,
// hanging up, and shaping the answer TwiML that bridges a call onto the
// media websocket.
type Telephony struct {
	logger commons.Logger
	client *twilio.RestClient
}

// NewTelephony builds a provider client from per-phone credentials.
func NewTelephony(logger commons.Logger, accountSid, authToken string) (*Telephony, error) {
	if accountSid == "" || authToken == "" {
		return nil, commons.NewError(commons.KindUpstreamFatal, "twilio: missing account credentials")
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSid,
		Password: authToken,
	})
	return &Telephony{logger: logger, client: client}, nil
}

// CreateCall places an outbound call. answerURL receives the TwiML webhook
// when the far end picks up; statusURL receives lifecycle callbacks.
// Returns the provider call sid.
func (t *Telephony) CreateCall(from, to, answerURL, statusURL string) (string, error) {
	params := &openapi.CreateCallParams{}
	params.SetFrom(from)
	params.SetTo(to)
	params.SetUrl(answerURL)
	params.SetStatusCallback(statusURL)
	params.SetStatusCallbackEvent([]string{"initiated", "ringing", "answered", "completed"})
	params.SetStatusCallbackMethod("POST")

	resp, err := t.client.Api.CreateCall(params)
	if err != nil {
		return "", classifyProviderError("twilio: create call failed", err)
	}
	if resp.Sid == nil {
		return "", commons.NewError(commons.KindUpstreamTransient, "twilio: create call returned no sid")
	}

	t.logger.Infof("twilio: created call sid=%s to=%s", *resp.Sid, to)
	return *resp.Sid, nil
}

// Hangup requests call termination on the provider side.
func (t *Telephony) Hangup(callSid string) error {
	status := "completed"
	params := &openapi.UpdateCallParams{Status: &status}
	if _, err := t.client.Api.UpdateCall(callSid, params); err != nil {
		return classifyProviderError("twilio: hangup failed", err)
	}
	t.logger.Infof("twilio: hangup requested sid=%s", callSid)
	return nil
}

// AnswerTwiML shapes the answer webhook response: bridge the call onto the
// media websocket, carrying the internal call id as a stream parameter.
func AnswerTwiML(mediaWsURL, callID string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<Response>
    <Connect>
        <Stream url="%s">
            <Parameter name="callId" value="%s"/>
        </Stream>
    </Connect>
</Response>`, mediaWsURL, callID)
}

// classifyProviderError maps provider REST failures onto the retryability
// taxonomy. The twilio client surfaces HTTP status in the error text; 5xx
// and 429 are transient, the rest of 4xx fatal.
func classifyProviderError(msg string, err error) error {
	text := err.Error()
	switch {
	case strings.Contains(text, "status: 429"):
		return commons.WrapError(commons.KindUpstreamTransient, msg, err)
	case strings.Contains(text, "status: 5"):
		return commons.WrapError(commons.KindUpstreamTransient, msg, err)
	case strings.Contains(text, "status: 4"):
		return commons.WrapError(commons.KindUpstreamFatal, msg, err)
	default:
		return commons.WrapError(commons.KindUpstreamTransient, msg, err)
	}
}
