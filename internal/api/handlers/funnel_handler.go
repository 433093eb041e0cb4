package handlers

import (
	"net/http"

	"example.com/backstage/services/keygate/internal/api/views"
	"example.com/backstage/services/keygate/internal/gate"
	"example.com/backstage/services/keygate/internal/metrics"
	"example.com/backstage/services/keygate/internal/models"
	"example.com/backstage/services/keygate/internal/services"
	"example.com/backstage/services/keygate/internal/tracing"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Verification results reported to metrics
const (
	resultValid    = "valid"
	resultBlocked  = "blocked"
	resultExpired  = "expired"
	resultLimit    = "limit"
	resultNotFound = "not_found"
	resultInvalid  = "invalid"
)

// FunnelHandler serves the checkpoint pages and the in-game client endpoints
type FunnelHandler struct {
	gate      *gate.Gate
	keys      *services.KeyRegistry
	blacklist *services.BlacklistRegistry
	tracker   *services.Tracker
	queue     *services.NotificationQueue
	metrics   *metrics.Metrics
	now       services.Clock
}

// NewFunnelHandler creates a new funnel handler
func NewFunnelHandler(
	g *gate.Gate,
	keys *services.KeyRegistry,
	blacklist *services.BlacklistRegistry,
	tracker *services.Tracker,
	queue *services.NotificationQueue,
	m *metrics.Metrics,
	clock services.Clock,
) *FunnelHandler {
	return &FunnelHandler{
		gate:      g,
		keys:      keys,
		blacklist: blacklist,
		tracker:   tracker,
		queue:     queue,
		metrics:   m,
		now:       clock,
	}
}

// VerifyResponse is the reply the game client expects from /verify-key
type VerifyResponse struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
}

// HandleLanding renders the landing page
func (h *FunnelHandler) HandleLanding(c *gin.Context) {
	c.HTML(http.StatusOK, views.Landing, views.LandingPage{StartPath: h.gate.Funnel().Entry().Path})
}

// HandleScriptInfo renders the static info page
func (h *FunnelHandler) HandleScriptInfo(c *gin.Context) {
	c.HTML(http.StatusOK, views.ScriptInfo, nil)
}

// HandleEntry records the first step and sends the client to its affiliate link
func (h *FunnelHandler) HandleEntry(c *gin.Context) {
	funnel := h.gate.Funnel()
	entry := funnel.Entry()
	ip := gate.ClientIP(c)

	if err := h.tracker.RecordStep(c.Request.Context(), ip, entry.Name); err != nil {
		respondError(c, err)
		return
	}

	log.Debug().Str("client_ip", ip).Str("step", entry.Name).Msg("Funnel entered")
	c.Redirect(http.StatusFound, h.linkAfter(entry))
}

// checkpoint renders an intermediate step page
func (h *FunnelHandler) checkpoint(number int, step gate.Step) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.HTML(http.StatusOK, views.Checkpoint, views.CheckpointPage{
			Step:   step.Name,
			Number: number,
			Total:  len(h.gate.Funnel().Steps),
			Link:   h.linkAfter(step),
		})
	}
}

// HandleKey hands out the caller's key at the end of the funnel
func (h *FunnelHandler) HandleKey(c *gin.Context) {
	ip := gate.ClientIP(c)
	key, err := h.keys.IssueForOwner(c.Request.Context(), ip, 0, 0)
	if err != nil {
		respondError(c, err)
		return
	}
	tracing.AddAttribute(c, "client_ip", ip)

	page := views.KeyPage{Key: key, ResetPath: "/reset-key"}
	if left, ok := services.TimeLeft(key, h.now()); ok {
		page.Hours, page.Minutes, page.Seconds = left.Hours, left.Minutes, left.Seconds
	} else {
		page.Permanent = true
	}
	c.HTML(http.StatusOK, views.Key, page)
}

// HandleBlocked explains an active ban; clients without one go back to the landing page
func (h *FunnelHandler) HandleBlocked(c *gin.Context) {
	status, err := h.blacklist.IsBlocked(c.Request.Context(), models.SubjectIP, gate.ClientIP(c))
	if err != nil {
		respondError(c, err)
		return
	}
	if !status.Blocked {
		c.Redirect(http.StatusFound, "/")
		return
	}
	c.HTML(http.StatusForbidden, views.Blocked, views.BlockedPage{
		Message: status.Message,
		Reason:  status.Entry.Reason,
		Expiry:  status.Entry.Expiry,
		ID:      status.Entry.ID,
	})
}

// HandleResetKey drops the caller's keys and progress
func (h *FunnelHandler) HandleResetKey(c *gin.Context) {
	if err := h.keys.Reset(c.Request.Context(), gate.ClientIP(c)); err != nil {
		respondError(c, err)
		return
	}
	c.Redirect(http.StatusFound, "/")
}

// HandleVerifyKey checks a key for a player and binds the player to it.
// Domain failures are reported as {valid:false} with a 200, as the game client expects.
func (h *FunnelHandler) HandleVerifyKey(c *gin.Context) {
	ctx := c.Request.Context()
	token := c.Query("key")
	player := c.Query("playerName")

	if token == "" || player == "" {
		h.verified(c, resultInvalid, "key and playerName are required")
		return
	}

	subjects := []struct {
		kind  models.SubjectType
		value string
	}{
		{models.SubjectIP, gate.ClientIP(c)},
		{models.SubjectPlayer, player},
	}
	for _, s := range subjects {
		status, err := h.blacklist.IsBlocked(ctx, s.kind, s.value)
		if err != nil {
			respondError(c, err)
			return
		}
		if status.Blocked {
			h.verified(c, resultBlocked, status.Message)
			return
		}
	}

	_, err := h.keys.VerifyAndBind(ctx, token, player)
	switch {
	case err == nil:
		h.verified(c, resultValid, "The key is valid.")
	case errors.Is(err, services.ErrExpired):
		h.verified(c, resultExpired, "The key has expired.")
	case errors.Is(err, services.ErrConsumerLimitExceeded):
		h.verified(c, resultLimit, "The key has reached its user limit.")
	case errors.Is(err, services.ErrNotFound):
		h.verified(c, resultNotFound, "The key is not valid or has expired.")
	default:
		respondError(c, err)
	}
}

func (h *FunnelHandler) verified(c *gin.Context, result, message string) {
	h.metrics.Verification(result)
	log.Info().
		Str("client_ip", gate.ClientIP(c)).
		Str("player", c.Query("playerName")).
		Str("result", result).
		Msg("Key verification")
	c.JSON(http.StatusOK, VerifyResponse{Valid: result == resultValid, Message: message})
}

// HandleGetNotifications returns the queued messages for the client poller
func (h *FunnelHandler) HandleGetNotifications(c *gin.Context) {
	messages, err := h.queue.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if messages == nil {
		messages = []models.Notification{}
	}
	c.JSON(http.StatusOK, messages)
}

// HandleClearNotifications empties the queue once the poller has processed it
func (h *FunnelHandler) HandleClearNotifications(c *gin.Context) {
	if err := h.queue.Clear(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Notifications cleared."})
}

// linkAfter is where a step page sends the client: the step's affiliate link,
// or straight to the next step when there is none
func (h *FunnelHandler) linkAfter(step gate.Step) string {
	if step.AffiliateURL != "" {
		return step.AffiliateURL
	}
	if next, ok := h.gate.Funnel().Next(step.Name); ok {
		return next.Path
	}
	return "/"
}

// RegisterRoutes registers the handler's routes. Pages sit behind the
// blacklist check; the client endpoints answer blacklisted callers themselves.
func (h *FunnelHandler) RegisterRoutes(router *gin.Engine) {
	funnel := h.gate.Funnel()

	pages := router.Group("", h.gate.Blacklist())
	pages.GET("/", h.HandleLanding)
	pages.GET("/script-info", h.HandleScriptInfo)
	pages.GET("/reset-key", h.HandleResetKey)
	pages.GET(funnel.Entry().Path, h.HandleEntry)
	for i, step := range funnel.Steps {
		if i == 0 {
			continue
		}
		route, _ := funnel.Route(step.Name)
		handler := h.checkpoint(i+1, step)
		if i == len(funnel.Steps)-1 {
			handler = h.HandleKey
		}
		pages.GET(step.Path, h.gate.Require(route), handler)
	}

	router.GET(funnel.BlockedPath, h.HandleBlocked)
	router.GET("/verify-key", h.HandleVerifyKey)
	router.GET("/get-notifications", h.HandleGetNotifications)
	router.POST("/clear-notifications", h.HandleClearNotifications)
}
