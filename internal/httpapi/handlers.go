package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"dialer-platform/internal/activity"
	"dialer-platform/internal/auth"
	"dialer-platform/internal/bridge"
	"dialer-platform/internal/calls"
	"dialer-platform/internal/campaigns"
	"dialer-platform/internal/queue"
)

// QueueControl is the scheduler surface the control API exposes.
type QueueControl interface {
	Start(ctx context.Context, campaignID string) error
	Pause(ctx context.Context, campaignID string) error
	Stop(ctx context.Context, campaignID string) error
	Status(ctx context.Context, campaignID string) (queue.Snapshot, error)
	ListActive() []string
}

// CallReader serves call session and transcript lookups.
type CallReader interface {
	Get(ctx context.Context, id string) (calls.CallSession, error)
	ListRecent(ctx context.Context, campaignID string, limit int) ([]calls.CallSession, error)
	GetTranscript(ctx context.Context, callSessionID string) (calls.Transcript, error)
}

// ToolLister exposes the registered conversation tools.
type ToolLister interface {
	Schemas() []bridge.ToolSchema
}

// ActivityReader serves the campaign activity feed.
type ActivityReader interface {
	List(ctx context.Context, campaignID string, limit int) ([]activity.Event, error)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth       *auth.Manager
	Queue      QueueControl
	Calls      CallReader
	Tools      ToolLister
	Activities ActivityReader
}

// --- Auth ---

type loginRequest struct {
	UserID      string `json:"user_id"`
	WorkspaceID string `json:"workspace_id"`
	Role        string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.WorkspaceID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, workspace_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.WorkspaceID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Queue control ---

func (h Handlers) QueueStart(c *gin.Context) {
	campaignID := c.Param("campaign_id")
	if campaignID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "campaign_id required"})
		return
	}
	if err := h.Queue.Start(c.Request.Context(), campaignID); err != nil {
		if errors.Is(err, queue.ErrCampaignNotRunning) {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		abortForLookup(c, err, "queue start failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaign_id": campaignID, "status": "running"})
}

func (h Handlers) QueuePause(c *gin.Context) {
	campaignID := c.Param("campaign_id")
	if err := h.Queue.Pause(c.Request.Context(), campaignID); err != nil {
		abortForLookup(c, err, "queue pause failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaign_id": campaignID, "status": "paused"})
}

func (h Handlers) QueueStop(c *gin.Context) {
	campaignID := c.Param("campaign_id")
	if err := h.Queue.Stop(c.Request.Context(), campaignID); err != nil {
		abortForLookup(c, err, "queue stop failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaign_id": campaignID, "status": "idle"})
}

func (h Handlers) QueueStatus(c *gin.Context) {
	campaignID := c.Param("campaign_id")
	snap, err := h.Queue.Status(c.Request.Context(), campaignID)
	if err != nil {
		abortForLookup(c, err, "queue status failed")
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h Handlers) QueueListActive(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"campaign_ids": h.Queue.ListActive()})
}

// --- Calls ---

func (h Handlers) ListCalls(c *gin.Context) {
	campaignID := c.Query("campaign_id")
	if campaignID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "campaign_id required"})
		return
	}
	limit := queryInt(c, "limit", 100)
	sessions, err := h.Calls.ListRecent(c.Request.Context(), campaignID, limit)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call listing failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": sessions})
}

func (h Handlers) GetCall(c *gin.Context) {
	session, err := h.Calls.Get(c.Request.Context(), c.Param("call_session_id"))
	if err != nil {
		abortForLookup(c, err, "call lookup failed")
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h Handlers) GetCallTranscript(c *gin.Context) {
	tr, err := h.Calls.GetTranscript(c.Request.Context(), c.Param("call_session_id"))
	if err != nil {
		abortForLookup(c, err, "transcript lookup failed")
		return
	}
	c.JSON(http.StatusOK, tr)
}

// --- Tools ---

func (h Handlers) ListTools(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tools": h.Tools.Schemas()})
}

// --- Activity ---

func (h Handlers) ListActivity(c *gin.Context) {
	campaignID := c.Param("campaign_id")
	events, err := h.Activities.List(c.Request.Context(), campaignID, queryInt(c, "limit", 50))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "activity listing failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// abortForLookup maps not-found sentinels to 404 and everything else to 500.
func abortForLookup(c *gin.Context, err error, fallback string) {
	if errors.Is(err, queue.ErrNotFound) || errors.Is(err, calls.ErrNotFound) || errors.Is(err, campaigns.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": fallback})
}

func queryInt(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
