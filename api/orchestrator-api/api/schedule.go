// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package orchestrator_api

import (
	"time"

	"github.com/gin-gonic/gin"

	internal_schedule "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/schedule"
	internal_scheduler "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/scheduler"
	"github.com/rapidaai/orchestrator/config"
	"github.com/rapidaai/orchestrator/pkg/commons"
)

type ScheduleApi struct {
	cfg       *config.AppConfig
	logger    commons.Logger
	store     internal_schedule.Store
	scheduler *internal_scheduler.Scheduler
}

func NewScheduleApi(cfg *config.AppConfig, logger commons.Logger,
	store internal_schedule.Store, scheduler *internal_scheduler.Scheduler) *ScheduleApi {
	return &ScheduleApi{cfg: cfg, logger: logger, store: store, scheduler: scheduler}
}

type createScheduleRequest struct {
	AgentID     uint64 `json:"agentId" binding:"required"`
	PhoneNumber string `json:"phoneNumber" binding:"required"`
	FromNumber  string `json:"fromNumber"`

	ScheduledFor time.Time `json:"scheduledFor" binding:"required"`
	Timezone     string    `json:"timezone"`

	RespectBusinessHours bool   `json:"respectBusinessHours"`
	BusinessHoursStart   string `json:"businessHoursStart"`
	BusinessHoursEnd     string `json:"businessHoursEnd"`
	BusinessDays         []int  `json:"businessDays"`
	AllowFlex            *bool  `json:"allowFlex"`

	Recurrence     string     `json:"recurrence"`
	MaxOccurrences int        `json:"maxOccurrences"`
	EndDate        *time.Time `json:"endDate"`
}

// CreateSchedule registers a future outbound call.
//
// @Router /v1/schedule [post]
func (api *ScheduleApi) CreateSchedule(c *gin.Context) {
	uid, err := userID(c)
	if err != nil {
		Error(c, err)
		return
	}

	var req createScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, commons.WrapError(commons.KindValidation, "invalid request body", err))
		return
	}

	allowFlex := true
	if req.AllowFlex != nil {
		allowFlex = *req.AllowFlex
	}

	sc, err := api.scheduler.Schedule(c.Request.Context(), internal_scheduler.ScheduleRequest{
		UserId:               uid,
		AgentID:              req.AgentID,
		PhoneNumber:          req.PhoneNumber,
		FromNumber:           req.FromNumber,
		ScheduledFor:         req.ScheduledFor,
		Timezone:             req.Timezone,
		RespectBusinessHours: req.RespectBusinessHours,
		BusinessHoursStart:   req.BusinessHoursStart,
		BusinessHoursEnd:     req.BusinessHoursEnd,
		BusinessDays:         req.BusinessDays,
		AllowFlex:            allowFlex,
		Recurrence:           req.Recurrence,
		MaxOccurrences:       req.MaxOccurrences,
		EndDate:              req.EndDate,
	})
	if err != nil {
		Error(c, err)
		return
	}
	Created(c, sc)
}

// ListSchedules returns the caller's scheduled calls.
//
// @Router /v1/scheduled-calls [get]
func (api *ScheduleApi) ListSchedules(c *gin.Context) {
	uid, err := userID(c)
	if err != nil {
		Error(c, err)
		return
	}

	filter := internal_schedule.ListFilter{UserId: uid, Status: c.Query("status")}
	if from := c.Query("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			Error(c, commons.NewErrorf(commons.KindValidation, "invalid from %q", from))
			return
		}
		filter.From = &t
	}
	if to := c.Query("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			Error(c, commons.NewErrorf(commons.KindValidation, "invalid to %q", to))
			return
		}
		filter.To = &t
	}

	items, err := api.store.List(c.Request.Context(), filter)
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, items)
}

// CancelSchedule withdraws a pending scheduled call.
//
// @Router /v1/scheduled-calls/:scheduleId/cancel [post]
func (api *ScheduleApi) CancelSchedule(c *gin.Context) {
	uid, err := userID(c)
	if err != nil {
		Error(c, err)
		return
	}
	scheduleID := c.Param("scheduleId")
	if err := api.owned(c, uid, scheduleID); err != nil {
		Error(c, err)
		return
	}

	if err := api.scheduler.Cancel(c.Request.Context(), scheduleID); err != nil {
		Error(c, err)
		return
	}
	Success(c, gin.H{"scheduleId": scheduleID, "status": internal_schedule.StatusCanceled})
}

type rescheduleRequest struct {
	ScheduledFor time.Time `json:"scheduledFor" binding:"required"`
}

// RescheduleSchedule moves a pending scheduled call.
//
// @Router /v1/scheduled-calls/:scheduleId/reschedule [post]
func (api *ScheduleApi) RescheduleSchedule(c *gin.Context) {
	uid, err := userID(c)
	if err != nil {
		Error(c, err)
		return
	}
	scheduleID := c.Param("scheduleId")
	if err := api.owned(c, uid, scheduleID); err != nil {
		Error(c, err)
		return
	}

	var req rescheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, commons.WrapError(commons.KindValidation, "invalid request body", err))
		return
	}

	sc, err := api.scheduler.Reschedule(c.Request.Context(), scheduleID, req.ScheduledFor)
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, sc)
}

func (api *ScheduleApi) owned(c *gin.Context, uid uint64, scheduleID string) error {
	sc, err := api.store.Get(c.Request.Context(), scheduleID)
	if err != nil {
		return err
	}
	if sc.UserId != uid {
		return commons.NewErrorf(commons.KindNotFound, "scheduled call %s not found", scheduleID)
	}
	return nil
}
