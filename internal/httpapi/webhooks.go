package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"dialer-platform/internal/telephony"
	"dialer-platform/pkg/logger"
)

// StatusSink consumes parsed carrier status callbacks; the dialer
// implements it.
type StatusSink interface {
	HandleStatus(ctx context.Context, cb telephony.StatusCallback) error
}

// WebhookHandlers terminates carrier webhooks.
//
// NOTE: These endpoints should be protected by carrier signature validation
// in production.
type WebhookHandlers struct {
	Dialer    StatusSink
	PublicURL string
}

// TwiML serves the <Connect><Stream> answer document for a call session.
// Outbound calls normally carry their TwiML inline in the create request;
// this endpoint backs number configurations that answer via a URL fetch.
func (h WebhookHandlers) TwiML(c *gin.Context) {
	callSessionID := c.Query("callSessionId")
	streamURL, err := telephony.CallStreamURL(h.PublicURL, callSessionID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "stream url build failed"})
		return
	}
	doc, err := telephony.RenderStreamTwiML(streamURL, callSessionID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml render failed"})
		return
	}
	c.Data(http.StatusOK, "text/xml; charset=utf-8", []byte(doc))
}

// TelephonyStatus receives call-progress callbacks. The carrier retries on
// non-2xx, so processing errors are logged and acknowledged rather than
// bounced back forever.
func (h WebhookHandlers) TelephonyStatus(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form body"})
		return
	}
	cb, err := telephony.ParseStatusCallback(c.Request.PostForm)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.Dialer.HandleStatus(c.Request.Context(), cb); err != nil {
		logger.FromGin(c).Error("status callback failed",
			"provider_call_id", cb.ProviderCallID, "call_status", cb.CallStatus, "err", err)
	}
	c.Status(http.StatusNoContent)
}
