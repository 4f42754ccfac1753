// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_call

import (
	"time"

	"gorm.io/gorm"

	"github.com/rapidaai/orchestrator/pkg/commons"
)

// Call status constants. queued/initiated/ringing/in_progress are
// non-terminal; everything else is terminal.
const (
	StatusQueued     = "queued"      // Outbound: accepted by the controller, not yet at the provider
	StatusInitiated  = "initiated"   // Provider accepted the create-call request
	StatusRinging    = "ringing"     // Provider reports the far end is ringing
	StatusInProgress = "in_progress" // Media stream connected, session running
	StatusCompleted  = "completed"   // Call ended after audio was exchanged
	StatusFailed     = "failed"      // Call setup or execution failed before audio
	StatusCanceled   = "canceled"    // Cooperatively canceled before completion
	StatusNoAnswer   = "no_answer"   // Far end never picked up
	StatusBusy       = "busy"        // Far end was busy
	StatusVoicemail  = "voicemail"   // Answering machine picked up, not the human
)

// Call direction constants.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// NonTerminalStatuses are the statuses counted against the outbound
// concurrency cap.
var NonTerminalStatuses = []string{StatusQueued, StatusInitiated, StatusRinging, StatusInProgress}

// Call is one physical phone call, inbound or outbound. The row is created
// before any media flows and survives the session: transcripts, costs and
// the terminal status are written as the call progresses.
type Call struct {
	Id     uint64 `json:"id" gorm:"type:bigint;primaryKey;<-:create"`
	CallID string `json:"callId" gorm:"column:call_id;type:varchar(36);not null;uniqueIndex"`
	UserId uint64 `json:"userId" gorm:"column:user_id;type:bigint;not null;index"`

	Direction  string `json:"direction" gorm:"column:direction;type:varchar(20);not null"`
	FromNumber string `json:"fromNumber" gorm:"column:from_number;type:varchar(50);not null"`
	ToNumber   string `json:"toNumber" gorm:"column:to_number;type:varchar(50);not null"`
	AgentID    uint64 `json:"agentId" gorm:"column:agent_id;type:bigint;not null;index"`

	// ProviderCallSid is the telephony provider call identifier (Twilio
	// CallSid). StreamSid is set on the first media frame.
	ProviderCallSid string `json:"providerCallSid" gorm:"column:provider_call_sid;type:varchar(200);not null;default:'';index"`
	StreamSid       string `json:"streamSid" gorm:"column:stream_sid;type:varchar(200);not null;default:''"`

	Status        string `json:"status" gorm:"column:status;type:varchar(20);not null;default:queued;index"`
	FailureReason string `json:"failureReason,omitempty" gorm:"column:failure_reason;type:text;not null;default:''"`

	// CorrelationID dedupes outbound submissions for 24 h. Empty for
	// inbound calls.
	CorrelationID string `json:"correlationId,omitempty" gorm:"column:correlation_id;type:varchar(200);not null;default:'';index"`

	StartedAt       *time.Time `json:"startedAt,omitempty" gorm:"column:started_at;type:timestamp"`
	EndedAt         *time.Time `json:"endedAt,omitempty" gorm:"column:ended_at;type:timestamp"`
	DurationSeconds int        `json:"durationSeconds" gorm:"column:duration_seconds;type:int;not null;default:0"`

	// Cost accumulators in USD, written incrementally as provider usage
	// is observed.
	SttCost       float64 `json:"sttCost" gorm:"column:stt_cost;type:numeric;not null;default:0"`
	LlmCost       float64 `json:"llmCost" gorm:"column:llm_cost;type:numeric;not null;default:0"`
	TtsCost       float64 `json:"ttsCost" gorm:"column:tts_cost;type:numeric;not null;default:0"`
	TelephonyCost float64 `json:"telephonyCost" gorm:"column:telephony_cost;type:numeric;not null;default:0"`

	// AgentSnapshot is the agent configuration frozen at call start. The
	// session runs against this snapshot, never against the live agent row.
	AgentSnapshot string `json:"-" gorm:"column:agent_snapshot;type:text;not null;default:''"`

	CreatedDate time.Time `json:"createdDate" gorm:"type:timestamp;not null;default:NOW();<-:create"`
	UpdatedDate time.Time `json:"updatedDate" gorm:"type:timestamp;default:null"`

	Turns []TranscriptTurn `json:"transcript,omitempty" gorm:"foreignKey:CallRef;references:Id"`
}

func (Call) TableName() string {
	return "calls"
}

func (c *Call) BeforeCreate(tx *gorm.DB) (err error) {
	if c.Id <= 0 {
		c.Id = commons.ID()
	}
	if c.CreatedDate.IsZero() {
		c.CreatedDate = time.Now()
	}
	return nil
}

// IsTerminal reports whether the call has reached a final status.
func (c *Call) IsTerminal() bool {
	switch c.Status {
	case StatusCompleted, StatusFailed, StatusCanceled, StatusNoAnswer, StatusBusy, StatusVoicemail:
		return true
	}
	return false
}

// TranscriptTurn is one side of one exchange in a call: who spoke, what was
// said, when. Ordering within a call follows Seq.
type TranscriptTurn struct {
	Id      uint64    `json:"-" gorm:"type:bigint;primaryKey;<-:create"`
	CallRef uint64    `json:"-" gorm:"column:call_ref;type:bigint;not null;index"`
	Seq     int       `json:"seq" gorm:"column:seq;type:int;not null"`
	Role    string    `json:"role" gorm:"column:role;type:varchar(20);not null"`
	Text    string    `json:"text" gorm:"column:text;type:text;not null"`
	SpokeAt time.Time `json:"spokeAt" gorm:"column:spoke_at;type:timestamp;not null;default:NOW()"`
}

func (TranscriptTurn) TableName() string {
	return "transcript_turns"
}

func (t *TranscriptTurn) BeforeCreate(tx *gorm.DB) (err error) {
	if t.Id <= 0 {
		t.Id = commons.ID()
	}
	if t.SpokeAt.IsZero() {
		t.SpokeAt = time.Now()
	}
	return nil
}

// Transcript roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)
