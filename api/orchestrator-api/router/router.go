// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package orchestrator_routers registers the HTTP surface on the gin
// engine.
package orchestrator_routers

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	orchestrator_api "github.com/rapidaai/orchestrator/api/orchestrator-api/api"
	"github.com/rapidaai/orchestrator/config"
	"github.com/rapidaai/orchestrator/pkg/commons"
	"github.com/rapidaai/orchestrator/pkg/connectors"
)

// NewEngine builds the gin engine with the shared middleware.
func NewEngine(cfg *config.AppConfig, logger commons.Logger) *gin.Engine {
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization", "X-User-Id"},
	}))
	return engine
}

// CallApiRoutes registers outbound call placement and retrieval.
func CallApiRoutes(cfg *config.AppConfig, engine *gin.Engine, logger commons.Logger,
	callApi *orchestrator_api.CallApi) {
	apiv1 := engine.Group("v1/calls")
	{
		apiv1.POST("/outbound", callApi.CreateOutboundCall)
		apiv1.GET("/:callId", callApi.GetCall)
		apiv1.POST("/:callId/cancel", callApi.CancelCall)
	}
}

// ScheduleApiRoutes registers scheduled-call management.
func ScheduleApiRoutes(cfg *config.AppConfig, engine *gin.Engine, logger commons.Logger,
	scheduleApi *orchestrator_api.ScheduleApi) {
	engine.POST("v1/schedule", scheduleApi.CreateSchedule)
	apiv1 := engine.Group("v1/scheduled-calls")
	{
		apiv1.GET("", scheduleApi.ListSchedules)
		apiv1.POST("/:scheduleId/cancel", scheduleApi.CancelSchedule)
		apiv1.POST("/:scheduleId/reschedule", scheduleApi.RescheduleSchedule)
	}
}

// StatsApiRoutes registers the live counters surface.
func StatsApiRoutes(cfg *config.AppConfig, engine *gin.Engine, logger commons.Logger,
	statsApi *orchestrator_api.StatsApi) {
	apiv1 := engine.Group("v1/stats")
	{
		apiv1.GET("", statsApi.Stats)
		apiv1.GET("/pool", statsApi.PoolStats)
	}
}

// TelephonyApiRoutes registers the provider-facing callbacks and the
// media websocket.
func TelephonyApiRoutes(cfg *config.AppConfig, engine *gin.Engine, logger commons.Logger,
	telephonyApi *orchestrator_api.TelephonyApi) {
	apiv1 := engine.Group("v1/telephony")
	{
		apiv1.POST("/answer", telephonyApi.Answer)
		apiv1.POST("/status", telephonyApi.Status)
		apiv1.GET("/media/:callId", telephonyApi.Media)
	}
}

// HealthCheckRoutes registers liveness and readiness probes.
func HealthCheckRoutes(cfg *config.AppConfig, engine *gin.Engine, logger commons.Logger,
	postgres connectors.PostgresConnector) {
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/readiness", func(c *gin.Context) {
		sqlDB, err := postgres.DB(c.Request.Context()).DB()
		if err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
}
