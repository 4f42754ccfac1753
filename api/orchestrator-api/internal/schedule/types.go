// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_schedule

import (
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/rapidaai/orchestrator/pkg/commons"
)

// Scheduled call status constants.
const (
	StatusPending    = "pending"    // Waiting for its scheduled instant
	StatusClaimed    = "claimed"    // A worker claimed the due job
	StatusDispatched = "dispatched" // Handed to the outbound controller
	StatusCompleted  = "completed"  // Resulting call reached a terminal success
	StatusCanceled   = "canceled"   // Canceled before dispatch
	StatusFailed     = "failed"     // Exhausted dispatch retries
)

// Recurrence values.
const (
	RecurrenceNone    = "none"
	RecurrenceDaily   = "daily"
	RecurrenceWeekly  = "weekly"
	RecurrenceMonthly = "monthly"
)

// ScheduledCall is a future outbound call: who to dial, when, and under
// which business-hours policy. The scheduler projects scheduled_for into
// the configured weekly window before enqueueing.
type ScheduledCall struct {
	Id         uint64 `json:"id" gorm:"type:bigint;primaryKey;<-:create"`
	ScheduleID string `json:"scheduleId" gorm:"column:schedule_id;type:varchar(36);not null;uniqueIndex"`
	UserId     uint64 `json:"userId" gorm:"column:user_id;type:bigint;not null;index:idx_sched_user_status"`
	AgentID    uint64 `json:"agentId" gorm:"column:agent_id;type:bigint;not null;index"`

	PhoneNumber string `json:"phoneNumber" gorm:"column:phone_number;type:varchar(50);not null"`
	FromNumber  string `json:"fromNumber" gorm:"column:from_number;type:varchar(50);not null;default:''"`

	ScheduledFor time.Time `json:"scheduledFor" gorm:"column:scheduled_for;type:timestamp;not null;index:idx_sched_status_for,priority:2"`
	Timezone     string    `json:"timezone" gorm:"column:timezone;type:varchar(64);not null;default:'Asia/Kolkata'"`
	Status       string    `json:"status" gorm:"column:status;type:varchar(20);not null;default:pending;index:idx_sched_status_for,priority:1;index:idx_sched_user_status"`

	RespectBusinessHours bool   `json:"respectBusinessHours" gorm:"column:respect_business_hours;not null;default:false"`
	BusinessHoursStart   string `json:"businessHoursStart" gorm:"column:business_hours_start;type:varchar(5);not null;default:'09:00'"`
	BusinessHoursEnd     string `json:"businessHoursEnd" gorm:"column:business_hours_end;type:varchar(5);not null;default:'18:00'"`

	// BusinessDays is a comma separated list of ISO weekday numbers,
	// Monday=1 .. Sunday=7.
	BusinessDays string `json:"businessDays" gorm:"column:business_days;type:varchar(20);not null;default:'1,2,3,4,5'"`

	// AllowFlex permits the business-hours projection to move the instant.
	// When false, a push-out is a policy rejection instead.
	AllowFlex bool `json:"allowFlex" gorm:"column:allow_flex;not null;default:true"`

	Recurrence string `json:"recurrence" gorm:"column:recurrence;type:varchar(20);not null;default:'none'"`

	// Occurrence numbers the position in a recurrence chain, starting at 1.
	// A successor is created only while EndDate is not exceeded and
	// MaxOccurrences (0 = unlimited) is not reached.
	Occurrence     int        `json:"occurrence" gorm:"column:occurrence;type:int;not null;default:1"`
	MaxOccurrences int        `json:"maxOccurrences" gorm:"column:max_occurrences;type:int;not null;default:0"`
	EndDate        *time.Time `json:"endDate,omitempty" gorm:"column:end_date;type:timestamp"`

	Attempts  int    `json:"attempts" gorm:"column:attempts;type:int;not null;default:0"`
	LastError string `json:"lastError,omitempty" gorm:"column:last_error;type:text;not null;default:''"`

	// CallID links to the call produced on dispatch.
	CallID string `json:"callId,omitempty" gorm:"column:call_id;type:varchar(36);not null;default:''"`

	// RetryOf is the root call id when this job is a ladder re-dial. The
	// retry budget is counted against the root across the whole chain.
	RetryOf string `json:"retryOf,omitempty" gorm:"column:retry_of;type:varchar(36);not null;default:'';index"`

	CreatedDate time.Time `json:"createdDate" gorm:"type:timestamp;not null;default:NOW();<-:create"`
	UpdatedDate time.Time `json:"updatedDate" gorm:"type:timestamp;default:null"`
}

func (ScheduledCall) TableName() string {
	return "scheduled_calls"
}

func (sc *ScheduledCall) BeforeCreate(tx *gorm.DB) (err error) {
	if sc.Id <= 0 {
		sc.Id = commons.ID()
	}
	if sc.CreatedDate.IsZero() {
		sc.CreatedDate = time.Now()
	}
	return nil
}

// Days parses the stored weekday list into ISO weekday numbers.
func (sc *ScheduledCall) Days() []int {
	parts := strings.Split(sc.BusinessDays, ",")
	days := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err == nil && n >= 1 && n <= 7 {
			days = append(days, n)
		}
	}
	return days
}

// Retry failure classes. Each class carries its own backoff ladder and
// attempt budget; invalid_number and upstream_fatal never retry.
const (
	FailureNoAnswer      = "no_answer"
	FailureBusy          = "busy"
	FailureVoicemail     = "voicemail"
	FailureNetworkError  = "network_error"
	FailureInvalidNumber = "invalid_number"
	FailureUpstreamFatal = "upstream_fatal"
)

// RetryAttempt records one scheduled re-dial of a failed outbound call.
type RetryAttempt struct {
	Id            uint64 `json:"id" gorm:"type:bigint;primaryKey;<-:create"`
	ParentCallID  string `json:"parentCallId" gorm:"column:parent_call_id;type:varchar(36);not null;index"`
	AttemptNumber int    `json:"attemptNumber" gorm:"column:attempt_number;type:int;not null"`
	FailureClass  string `json:"failureClass" gorm:"column:failure_class;type:varchar(30);not null"`

	ScheduledFor time.Time `json:"scheduledFor" gorm:"column:scheduled_for;type:timestamp;not null"`
	Status       string    `json:"status" gorm:"column:status;type:varchar(20);not null;default:pending"`

	// ResultCallID is the call produced when this attempt was dispatched.
	ResultCallID string `json:"resultCallId,omitempty" gorm:"column:result_call_id;type:varchar(36);not null;default:''"`

	CreatedDate time.Time `json:"createdDate" gorm:"type:timestamp;not null;default:NOW();<-:create"`
	UpdatedDate time.Time `json:"updatedDate" gorm:"type:timestamp;default:null"`
}

func (RetryAttempt) TableName() string {
	return "retry_attempts"
}

func (ra *RetryAttempt) BeforeCreate(tx *gorm.DB) (err error) {
	if ra.Id <= 0 {
		ra.Id = commons.ID()
	}
	if ra.CreatedDate.IsZero() {
		ra.CreatedDate = time.Now()
	}
	return nil
}
