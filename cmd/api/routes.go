package main

import (
	"github.com/gin-gonic/gin"

	"dialer-platform/internal/httpapi"
)

type routeDeps struct {
	authMW   gin.HandlerFunc
	api      httpapi.Handlers
	streams  httpapi.StreamHandlers
	webhooks httpapi.WebhookHandlers
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, deps routeDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Carrier-facing surface (public). The media stream URL and the status
	// callback URL are minted per call at dial time; /twiml serves numbers
	// configured to answer via a URL fetch.
	r.GET("/call", deps.streams.CallStream)
	r.GET("/twiml", deps.webhooks.TwiML)
	r.POST("/webhooks/twilio/status", deps.webhooks.TelephonyStatus)

	// Operator console event feed.
	r.GET("/logs", deps.streams.ObserverStream)

	// protected API group
	v1 := r.Group("/v1")
	{
		v1.POST("/auth/login", deps.api.Login)

		protected := v1.Group("")
		protected.Use(deps.authMW)
		{
			queues := protected.Group("/queues")
			{
				queues.GET("", deps.api.QueueListActive)
				queues.GET("/:campaign_id", deps.api.QueueStatus)
				queues.POST("/:campaign_id/start", deps.api.QueueStart)
				queues.POST("/:campaign_id/pause", deps.api.QueuePause)
				queues.POST("/:campaign_id/stop", deps.api.QueueStop)
			}

			calls := protected.Group("/calls")
			{
				calls.GET("", deps.api.ListCalls)
				calls.GET("/:call_session_id", deps.api.GetCall)
				calls.GET("/:call_session_id/transcript", deps.api.GetCallTranscript)
			}

			protected.GET("/tools", deps.api.ListTools)
			protected.GET("/campaigns/:campaign_id/activity", deps.api.ListActivity)
		}
	}
}
