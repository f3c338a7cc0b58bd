// Package webhooks handles push notifications from the content repository.
// A verified push to the content branch refreshes the catalog immediately
// instead of waiting for the cache TTL.
package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/mcp-directory/mcp-directory/internal/safego"
	"github.com/mcp-directory/mcp-directory/internal/telemetry"
)

const (
	signatureHeader = "X-Hub-Signature-256"
	eventHeader     = "X-GitHub-Event"
	deliveryHeader  = "X-GitHub-Delivery"

	// GitHub caps payloads at 25 MB; content pushes are far smaller.
	maxPayloadBytes = 5 << 20
)

// Refresher starts a catalog refresh.
type Refresher interface {
	TriggerRefresh() *safego.Task
}

// GitHubWebhookHandler receives GitHub webhook deliveries for the content repository.
type GitHubWebhookHandler struct {
	secret    []byte
	ref       string
	refresher Refresher
}

// NewGitHubWebhookHandler creates a handler that refreshes on pushes to branch.
func NewGitHubWebhookHandler(secret, branch string, refresher Refresher) *GitHubWebhookHandler {
	return &GitHubWebhookHandler{
		secret:    []byte(secret),
		ref:       "refs/heads/" + branch,
		refresher: refresher,
	}
}

// @Summary      Receive content repository webhook
// @Description  Verifies the X-Hub-Signature-256 HMAC of a GitHub delivery. ping answers 200; a push to the
// @Description  content branch triggers a catalog refresh and answers 202; other events and refs are ignored.
// @Tags         Webhooks
// @Accept       json
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "message"
// @Success      202  {object}  map[string]interface{}  "message: refresh triggered"
// @Failure      401  {object}  map[string]interface{}  "error: invalid signature"
// @Failure      413  {object}  map[string]interface{}  "error: payload too large"
// @Router       /api/webhooks/github [post]
// HandleWebhook processes one delivery.
// POST /api/webhooks/github
func (h *GitHubWebhookHandler) HandleWebhook(c *gin.Context) {
	event := eventLabel(c.GetHeader(eventHeader))
	logger := telemetry.Logger(c.Request.Context()).With("event", event, "delivery", c.GetHeader(deliveryHeader))

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPayloadBytes+1))
	if err != nil {
		telemetry.WebhookDeliveriesTotal.WithLabelValues(event, "rejected").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read payload"})
		return
	}
	if len(payload) > maxPayloadBytes {
		telemetry.WebhookDeliveriesTotal.WithLabelValues(event, "rejected").Inc()
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
		return
	}

	if !VerifySignature(payload, c.GetHeader(signatureHeader), h.secret) {
		telemetry.WebhookDeliveriesTotal.WithLabelValues(event, "rejected").Inc()
		logger.Warn("webhook signature mismatch")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	switch event {
	case "ping":
		telemetry.WebhookDeliveriesTotal.WithLabelValues(event, "ignored").Inc()
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
		return
	case "push":
	default:
		telemetry.WebhookDeliveriesTotal.WithLabelValues(event, "ignored").Inc()
		c.JSON(http.StatusOK, gin.H{"message": "event ignored"})
		return
	}

	push := gjson.ParseBytes(payload)
	if ref := push.Get("ref").String(); ref != h.ref {
		telemetry.WebhookDeliveriesTotal.WithLabelValues(event, "ignored").Inc()
		logger.Debug("ignoring push to other ref", "ref", ref)
		c.JSON(http.StatusOK, gin.H{"message": "ref ignored"})
		return
	}

	h.refresher.TriggerRefresh()
	telemetry.WebhookDeliveriesTotal.WithLabelValues(event, "refreshed").Inc()
	logger.Info("content push received, refreshing catalog",
		"repository", push.Get("repository.full_name").String(),
		"after", push.Get("after").String(),
		"commits", push.Get("commits.#").Int(),
	)
	c.JSON(http.StatusAccepted, gin.H{"message": "refresh triggered"})
}

// VerifySignature checks a "sha256=<hex>" signature header against the
// HMAC-SHA256 of payload under secret. An empty secret never verifies.
func VerifySignature(payload []byte, header string, secret []byte) bool {
	if len(secret) == 0 {
		return false
	}
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hmac.Equal(got, mac.Sum(nil))
}

// eventLabel bounds the metric label to the events the handler knows.
func eventLabel(event string) string {
	switch event {
	case "ping", "push":
		return event
	default:
		return "other"
	}
}
