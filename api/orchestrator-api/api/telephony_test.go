// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package orchestrator_api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_agent "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/agent"
	internal_call "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/call"
	internal_phone "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/phone"
	internal_schedule "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/schedule"
	internal_twilio "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/telephony/twilio"
	"github.com/rapidaai/orchestrator/config"
	"github.com/rapidaai/orchestrator/pkg/commons"
)

// ===== fakes =====

type finishRecord struct {
	callID        string
	status        string
	failureReason string
}

type transitionRecord struct {
	callID string
	from   []string
	to     string
}

type fakeCallStore struct {
	bySid       map[string]*internal_call.Call
	saved       []*internal_call.Call
	finishes    []finishRecord
	transitions []transitionRecord
}

func newFakeCallStore() *fakeCallStore {
	return &fakeCallStore{bySid: make(map[string]*internal_call.Call)}
}

func (f *fakeCallStore) Save(ctx context.Context, call *internal_call.Call) (string, error) {
	if call.CallID == "" {
		call.CallID = fmt.Sprintf("call-%d", len(f.saved)+1)
	}
	f.saved = append(f.saved, call)
	if call.ProviderCallSid != "" {
		f.bySid[call.ProviderCallSid] = call
	}
	return call.CallID, nil
}

func (f *fakeCallStore) Get(ctx context.Context, callID string) (*internal_call.Call, error) {
	for _, c := range f.bySid {
		if c.CallID == callID {
			return c, nil
		}
	}
	return nil, commons.NewErrorf(commons.KindNotFound, "call %s not found", callID)
}

func (f *fakeCallStore) GetByProviderSid(ctx context.Context, sid string) (*internal_call.Call, error) {
	if c, ok := f.bySid[sid]; ok {
		return c, nil
	}
	return nil, commons.NewErrorf(commons.KindNotFound, "call with sid %s not found", sid)
}

func (f *fakeCallStore) GetByCorrelation(ctx context.Context, correlationID string) (*internal_call.Call, error) {
	return nil, commons.NewError(commons.KindNotFound, "not found")
}

func (f *fakeCallStore) Transition(ctx context.Context, callID string, from []string, to string) error {
	f.transitions = append(f.transitions, transitionRecord{callID: callID, from: from, to: to})
	return nil
}

func (f *fakeCallStore) MarkStarted(ctx context.Context, callID, streamSid string) error {
	return nil
}

func (f *fakeCallStore) Finish(ctx context.Context, callID, status, failureReason string) error {
	f.finishes = append(f.finishes, finishRecord{callID: callID, status: status, failureReason: failureReason})
	return nil
}

func (f *fakeCallStore) SetProviderSid(ctx context.Context, callID, sid string) error { return nil }

func (f *fakeCallStore) AppendTurn(ctx context.Context, callID string, turn *internal_call.TranscriptTurn) error {
	return nil
}

func (f *fakeCallStore) AddCost(ctx context.Context, callID, component string, amount float64) error {
	return nil
}

func (f *fakeCallStore) CountActive(ctx context.Context) (int64, error) {
	return 0, nil
}

type fakePhoneStore struct {
	byNumber map[string]*internal_phone.Phone
}

func (f *fakePhoneStore) GetByNumber(ctx context.Context, number string) (*internal_phone.Phone, error) {
	if p, ok := f.byNumber[number]; ok {
		return p, nil
	}
	return nil, commons.NewErrorf(commons.KindNotFound, "phone %s not found", number)
}

func (f *fakePhoneStore) Save(ctx context.Context, phone *internal_phone.Phone, creds internal_phone.Credentials) error {
	return nil
}

func (f *fakePhoneStore) Credentials(phone *internal_phone.Phone) (internal_phone.Credentials, error) {
	return internal_phone.Credentials{}, nil
}

type fakeAgentStore struct {
	agent *internal_agent.Agent
}

func (f *fakeAgentStore) Get(ctx context.Context, id uint64) (*internal_agent.Agent, error) {
	if f.agent != nil && f.agent.Id == id {
		return f.agent, nil
	}
	return nil, commons.NewErrorf(commons.KindNotFound, "agent %d not found", id)
}

func (f *fakeAgentStore) GetForUser(ctx context.Context, id, userId uint64) (*internal_agent.Agent, error) {
	if f.agent != nil && f.agent.Id == id && f.agent.UserId == userId {
		return f.agent, nil
	}
	return nil, commons.NewErrorf(commons.KindNotFound, "agent %d not found", id)
}

func (f *fakeAgentStore) Save(ctx context.Context, agent *internal_agent.Agent) error { return nil }

// ===== harness =====

const webhookSecret = "0123456789abcdef0123456789abcdef"

func statusHarness(t *testing.T) (*fakeCallStore, *gin.Engine) {
	t.Helper()
	store, _, engine := telephonyHarness(t)
	return store, engine
}

func telephonyHarness(t *testing.T) (*fakeCallStore, *fakePhoneStore, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := newFakeCallStore()
	phones := &fakePhoneStore{byNumber: make(map[string]*internal_phone.Phone)}
	agents := &fakeAgentStore{agent: &internal_agent.Agent{Id: 7, UserId: 3, Name: "reception"}}
	api := NewTelephonyApi(
		&config.AppConfig{Secret: webhookSecret, PublicBaseURL: "https://orchestrator.example.com"},
		commons.NewNopLogger(), store, phones, agents, nil, nil)

	engine := gin.New()
	engine.POST("/v1/telephony/status", api.Status)
	engine.POST("/v1/telephony/answer", api.Answer)
	return store, phones, engine
}

func postStatus(t *testing.T, engine *gin.Engine, form url.Values, sign bool) *httptest.ResponseRecorder {
	t.Helper()
	body := form.Encode()
	req := httptest.NewRequest(http.MethodPost, "/v1/telephony/status", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if sign {
		req.Header.Set("X-Webhook-Signature", internal_twilio.SignBody(webhookSecret, []byte(body)))
	} else {
		req.Header.Set("X-Webhook-Signature", "deadbeef")
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func outboundCall(sid string) *internal_call.Call {
	return &internal_call.Call{
		CallID:          "call-1",
		UserId:          7,
		Direction:       internal_call.DirectionOutbound,
		ProviderCallSid: sid,
		Status:          internal_call.StatusInitiated,
	}
}

// ===== status webhook =====

func TestStatus_BadSignatureRejected(t *testing.T) {
	store, engine := statusHarness(t)
	store.bySid["CA1"] = outboundCall("CA1")

	rec := postStatus(t, engine, url.Values{
		"CallSid":    {"CA1"},
		"CallStatus": {"completed"},
	}, false)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, store.finishes, "unauthenticated webhook must not touch the call")
}

func TestStatus_UnknownSidAcknowledged(t *testing.T) {
	_, engine := statusHarness(t)

	rec := postStatus(t, engine, url.Values{
		"CallSid":    {"CA-unknown"},
		"CallStatus": {"completed"},
	}, true)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			Handled bool `json:"handled"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.False(t, resp.Data.Handled)
}

func TestStatus_MissingFieldsRejected(t *testing.T) {
	_, engine := statusHarness(t)

	rec := postStatus(t, engine, url.Values{"CallSid": {"CA1"}}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatus_CompletedFinishesCall(t *testing.T) {
	store, engine := statusHarness(t)
	store.bySid["CA1"] = outboundCall("CA1")

	rec := postStatus(t, engine, url.Values{
		"CallSid":    {"CA1"},
		"CallStatus": {"completed"},
	}, true)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, store.finishes, 1)
	assert.Equal(t, finishRecord{callID: "call-1", status: internal_call.StatusCompleted}, store.finishes[0])
}

func TestStatus_RingingTransitions(t *testing.T) {
	store, engine := statusHarness(t)
	store.bySid["CA1"] = outboundCall("CA1")

	rec := postStatus(t, engine, url.Values{
		"CallSid":    {"CA1"},
		"CallStatus": {"ringing"},
	}, true)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, store.transitions, 1)
	assert.Equal(t, internal_call.StatusRinging, store.transitions[0].to)
	assert.ElementsMatch(t,
		[]string{internal_call.StatusQueued, internal_call.StatusInitiated},
		store.transitions[0].from)
	assert.Empty(t, store.finishes)
}

func TestStatus_BusyRecordsFailureClass(t *testing.T) {
	store, engine := statusHarness(t)
	store.bySid["CA1"] = outboundCall("CA1")

	rec := postStatus(t, engine, url.Values{
		"CallSid":    {"CA1"},
		"CallStatus": {"busy"},
	}, true)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, store.finishes, 1)
	assert.Equal(t, internal_call.StatusBusy, store.finishes[0].status)
	assert.Equal(t, internal_schedule.FailureBusy, store.finishes[0].failureReason)
}

func TestStatus_FailedClassifiesErrorCode(t *testing.T) {
	cases := []struct {
		name      string
		errorCode string
		wantClass string
	}{
		{"unroutable number", "13224", internal_schedule.FailureInvalidNumber},
		{"malformed number", "21211", internal_schedule.FailureInvalidNumber},
		{"generic provider failure", "30005", internal_schedule.FailureNetworkError},
		{"no error code", "", internal_schedule.FailureNetworkError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store, engine := statusHarness(t)
			store.bySid["CA1"] = outboundCall("CA1")

			form := url.Values{"CallSid": {"CA1"}, "CallStatus": {"failed"}}
			if tc.errorCode != "" {
				form.Set("ErrorCode", tc.errorCode)
			}
			rec := postStatus(t, engine, form, true)

			require.Equal(t, http.StatusOK, rec.Code)
			require.Len(t, store.finishes, 1)
			assert.Equal(t, internal_call.StatusFailed, store.finishes[0].status)
			assert.Equal(t, tc.wantClass, store.finishes[0].failureReason)
		})
	}
}

func TestStatus_MachineAnsweredCompletedIsVoicemail(t *testing.T) {
	cases := []string{"machine_start", "machine_end_beep", "fax"}
	for _, answeredBy := range cases {
		t.Run(answeredBy, func(t *testing.T) {
			store, engine := statusHarness(t)
			store.bySid["CA1"] = outboundCall("CA1")

			rec := postStatus(t, engine, url.Values{
				"CallSid":    {"CA1"},
				"CallStatus": {"completed"},
				"AnsweredBy": {answeredBy},
			}, true)

			require.Equal(t, http.StatusOK, rec.Code)
			require.Len(t, store.finishes, 1)
			assert.Equal(t, internal_call.StatusVoicemail, store.finishes[0].status)
			assert.Equal(t, internal_schedule.FailureVoicemail, store.finishes[0].failureReason)
		})
	}
}

func TestStatus_HumanAnsweredCompletedStaysCompleted(t *testing.T) {
	store, engine := statusHarness(t)
	store.bySid["CA1"] = outboundCall("CA1")

	rec := postStatus(t, engine, url.Values{
		"CallSid":    {"CA1"},
		"CallStatus": {"completed"},
		"AnsweredBy": {"human"},
	}, true)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, store.finishes, 1)
	assert.Equal(t, internal_call.StatusCompleted, store.finishes[0].status)
	assert.Empty(t, store.finishes[0].failureReason)
}

func TestStatus_LateWebhookAfterTerminalStillAcknowledged(t *testing.T) {
	store, engine := statusHarness(t)
	c := outboundCall("CA1")
	c.Status = internal_call.StatusCompleted
	store.bySid["CA1"] = c

	rec := postStatus(t, engine, url.Values{
		"CallSid":    {"CA1"},
		"CallStatus": {"no-answer"},
	}, true)

	// The store's Finish no-ops on terminal calls; the webhook path just
	// acknowledges.
	assert.Equal(t, http.StatusOK, rec.Code)
}

// ===== answer =====

func postAnswer(t *testing.T, engine *gin.Engine, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/telephony/answer", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func TestAnswer_EmptyRequestRejected(t *testing.T) {
	_, engine := statusHarness(t)

	// No callId query and no provider form fields either.
	req := httptest.NewRequest(http.MethodPost, "/v1/telephony/answer", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnswer_ReturnsStreamTwiML(t *testing.T) {
	store, engine := statusHarness(t)
	store.bySid["CA1"] = outboundCall("CA1")

	req := httptest.NewRequest(http.MethodPost, "/v1/telephony/answer?callId=call-1", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/xml")
	assert.Contains(t, rec.Body.String(), "<Stream")
	assert.Contains(t, rec.Body.String(), "/v1/telephony/media/call-1")
}

// ===== inbound intake =====

func TestAnswer_InboundCreatesCallAndStreams(t *testing.T) {
	store, phones, engine := telephonyHarness(t)
	phones.byNumber["+15550009999"] = &internal_phone.Phone{
		UserId: 3, Number: "+15550009999", AgentID: 7, Active: true,
	}

	rec := postAnswer(t, engine, url.Values{
		"CallSid": {"CA-in-1"},
		"From":    {"+15550001234"},
		"To":      {"+15550009999"},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/xml")
	assert.Contains(t, rec.Body.String(), "<Stream")

	require.Len(t, store.saved, 1)
	call := store.saved[0]
	assert.Equal(t, internal_call.DirectionInbound, call.Direction)
	assert.Equal(t, uint64(3), call.UserId)
	assert.Equal(t, uint64(7), call.AgentID)
	assert.Equal(t, "+15550001234", call.FromNumber)
	assert.Equal(t, "+15550009999", call.ToNumber)
	assert.Equal(t, "CA-in-1", call.ProviderCallSid)
	assert.Equal(t, internal_call.StatusRinging, call.Status)
	assert.NotEmpty(t, call.AgentSnapshot, "session must run against the frozen agent")
	assert.Contains(t, rec.Body.String(), "/v1/telephony/media/"+call.CallID)
}

func TestAnswer_InboundUnknownNumberRejected(t *testing.T) {
	store, _, engine := telephonyHarness(t)

	rec := postAnswer(t, engine, url.Values{
		"CallSid": {"CA-in-2"},
		"From":    {"+15550001234"},
		"To":      {"+15550000000"},
	})

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, store.saved)
}

func TestAnswer_InboundNumberWithoutAgentRejected(t *testing.T) {
	store, phones, engine := telephonyHarness(t)
	// Outbound-only number: provisioned but routes to no agent.
	phones.byNumber["+15550008888"] = &internal_phone.Phone{
		UserId: 3, Number: "+15550008888", Active: true,
	}

	rec := postAnswer(t, engine, url.Values{
		"CallSid": {"CA-in-3"},
		"From":    {"+15550001234"},
		"To":      {"+15550008888"},
	})

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, store.saved)
}
